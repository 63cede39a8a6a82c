package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingwatch/models"
	"listingwatch/storage"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type imageServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
	fail atomic.Bool
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	body := pngBytes(t, 2, 3)
	s := &imageServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		if s.fail.Load() || r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newTestArchiver(blobs storage.BlobStore, store ImageStore) *Archiver {
	a := NewArchiver(ArchiverConfig{Concurrency: 3, Timeout: 5 * time.Second}, blobs, store, newTestLogger())
	a.now = func() time.Time { return fixedNow }
	return a
}

func newImageStore() *storage.SnapshotStore {
	return storage.NewSnapshotStore(storage.NewMemoryKV(), 0)
}

func TestArchiveDownloadsOnce(t *testing.T) {
	srv := newImageServer(t)
	blobs := storage.NewMemoryBlob()
	store := newImageStore()
	a := newTestArchiver(blobs, store)
	ctx := context.Background()

	recs, err := a.Archive(ctx, "L1", []string{srv.URL + "/a.png", srv.URL + "/b", srv.URL + "/a.png"})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "listings/L1/2026-03-10/001-a.png", recs[0].StoragePath)
	assert.Equal(t, "listings/L1/2026-03-10/002-b.png", recs[1].StoragePath)
	assert.True(t, recs[0].IsPrimary)
	assert.False(t, recs[1].IsPrimary)
	assert.Len(t, recs[0].Hash, 64)
	assert.Equal(t, recs[0].Hash, recs[1].Hash)
	assert.Equal(t, 2, recs[0].Width)
	assert.Equal(t, 3, recs[0].Height)
	assert.Equal(t, "png", recs[0].Format)
	assert.Equal(t, "L1", recs[0].ListingID)
	assert.NotEmpty(t, recs[0].ID)

	_, contentType, ok := blobs.Object(recs[0].StoragePath)
	require.True(t, ok)
	assert.Equal(t, "image/png", contentType)

	again, err := a.Archive(ctx, "L1", []string{srv.URL + "/b", srv.URL + "/c.png"})
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, recs[1].ID, again[0].ID)
	assert.Equal(t, "listings/L1/2026-03-10/003-c.png", again[1].StoragePath)
	assert.False(t, again[1].IsPrimary)

	assert.Equal(t, 1, srv.hitCount("/a.png"))
	assert.Equal(t, 1, srv.hitCount("/b"))
	assert.Equal(t, 1, srv.hitCount("/c.png"))

	stored, err := store.Images(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.True(t, stored[0].IsPrimary)
}

func TestArchiveKeepsFailedImagesAndRetries(t *testing.T) {
	srv := newImageServer(t)
	store := newImageStore()
	a := newTestArchiver(storage.NewMemoryBlob(), store)
	ctx := context.Background()

	srv.fail.Store(true)
	recs, err := a.Archive(ctx, "L2", []string{srv.URL + "/x.png"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Hash)
	assert.Zero(t, recs[0].Size)
	assert.Empty(t, recs[0].StoragePath)
	assert.True(t, recs[0].IsPrimary)

	srv.fail.Store(false)
	again, err := a.Archive(ctx, "L2", []string{srv.URL + "/x.png"})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, recs[0].ID, again[0].ID)
	assert.NotEmpty(t, again[0].Hash)
	assert.Equal(t, 2, srv.hitCount("/x.png"))
}

func TestArchiveMixedFailures(t *testing.T) {
	srv := newImageServer(t)
	a := newTestArchiver(storage.NewMemoryBlob(), newImageStore())

	recs, err := a.Archive(context.Background(), "L3", []string{srv.URL + "/missing.jpg", srv.URL + "/ok.png"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Archived())
	assert.True(t, recs[1].Archived())
	assert.False(t, recs[0].IsPrimary)
	assert.True(t, recs[1].IsPrimary)
}

func TestArchiveRetryAfterGapGetsFreshSequence(t *testing.T) {
	body := pngBytes(t, 1, 1)
	var broken atomic.Bool
	broken.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() && r.URL.Query().Get("id") == "1" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	blobs := storage.NewMemoryBlob()
	a := newTestArchiver(blobs, newImageStore())
	ctx := context.Background()
	urls := []string{srv.URL + "/?id=1", srv.URL + "/?id=2", srv.URL + "/?id=3"}

	recs, err := a.Archive(ctx, "L1", urls)
	require.NoError(t, err)
	assert.Empty(t, recs[0].StoragePath)
	assert.Equal(t, "listings/L1/2026-03-10/002-image.png", recs[1].StoragePath)
	assert.Equal(t, "listings/L1/2026-03-10/003-image.png", recs[2].StoragePath)

	broken.Store(false)
	again, err := a.Archive(ctx, "L1", urls)
	require.NoError(t, err)
	assert.Equal(t, recs[0].ID, again[0].ID)
	assert.Equal(t, "listings/L1/2026-03-10/004-image.png", again[0].StoragePath)

	paths, err := blobs.List(ctx, "listings/L1/")
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}

type unlistableBlob struct {
	*storage.MemoryBlob
}

func (unlistableBlob) List(context.Context, string) ([]string, error) {
	return nil, errors.New("list denied")
}

func TestNextSequenceFallsBackToRecords(t *testing.T) {
	a := newTestArchiver(unlistableBlob{storage.NewMemoryBlob()}, newImageStore())
	existing := []models.ImageRecord{
		{StoragePath: "listings/L1/2026-03-01/002-a.png"},
		{StoragePath: "listings/L1/2026-03-02/009-b.png"},
		{},
	}
	assert.Equal(t, 9, a.nextSequence(context.Background(), "L1", existing))
}

func TestSequenceOf(t *testing.T) {
	assert.Equal(t, 12, sequenceOf("listings/L1/2026-03-10/012-front.jpg"))
	assert.Equal(t, 3, sequenceOf("listings/L1/2026-03-10/003-image-2.png"))
	assert.Zero(t, sequenceOf("listings/L1/2026-03-10/front.jpg"))
	assert.Zero(t, sequenceOf(""))
}

func TestArchiveMarksEffectivePrimaryWhenStoredPrimaryDropped(t *testing.T) {
	srv := newImageServer(t)
	store := newImageStore()
	a := newTestArchiver(storage.NewMemoryBlob(), store)
	ctx := context.Background()

	_, err := a.Archive(ctx, "L5", []string{srv.URL + "/a.png", srv.URL + "/b.png"})
	require.NoError(t, err)

	recs, err := a.Archive(ctx, "L5", []string{srv.URL + "/b.png"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsPrimary)

	stored, err := store.Images(ctx, "L5")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, stored[0].IsPrimary)
	assert.False(t, stored[1].IsPrimary)
}

type failingBlob struct{}

func (failingBlob) Put(context.Context, string, io.Reader, int64, string) error {
	return errors.New("bucket unavailable")
}

func (failingBlob) List(context.Context, string) ([]string, error) { return nil, nil }

func TestArchiveUploadFailureStillReturnsRecords(t *testing.T) {
	srv := newImageServer(t)
	a := newTestArchiver(failingBlob{}, newImageStore())

	recs, err := a.Archive(context.Background(), "L4", []string{srv.URL + "/a.png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].Hash)
	assert.Empty(t, recs[0].StoragePath)
}

func TestArchiveRequiresID(t *testing.T) {
	a := newTestArchiver(storage.NewMemoryBlob(), newImageStore())
	_, err := a.Archive(context.Background(), "", []string{"https://x/a.jpg"})
	assert.ErrorIs(t, err, models.ErrMissingID)
}

func TestAssignPrimaryIsSticky(t *testing.T) {
	recs := []models.ImageRecord{
		{URL: "a", Hash: "h"},
		{URL: "b", Hash: "h", IsPrimary: true},
		{URL: "c", IsPrimary: true},
	}
	assignPrimary(recs)
	assert.False(t, recs[0].IsPrimary)
	assert.True(t, recs[1].IsPrimary)
	assert.False(t, recs[2].IsPrimary)
}

func TestFilenameFor(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"https://cdn.x/photos/front.jpg?w=800", "image/jpeg", "front.jpg"},
		{"https://cdn.x/photos/12345", "image/webp", "12345.webp"},
		{"https://cdn.x/", "image/png", "image.png"},
		{"https://cdn.x/a%20b(1).png", "", "a_b_1_.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, filenameFor(tt.url, tt.contentType), "filenameFor(%q)", tt.url)
	}
}
