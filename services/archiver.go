package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"listingwatch/models"
	"listingwatch/storage"
	"listingwatch/utils"
)

// ImageStore persists the image records of a listing.
type ImageStore interface {
	Images(ctx context.Context, listingID string) ([]models.ImageRecord, error)
	PutImages(ctx context.Context, listingID string, records []models.ImageRecord) error
}

// ArchiverConfig tunes image downloads.
type ArchiverConfig struct {
	Concurrency int
	ChunkPause  time.Duration
	Timeout     time.Duration
	MaxBytes    int64
	UserAgent   string
}

func (c *ArchiverConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 15 << 20
	}
}

// ArchiveStats counts what happened to each URL in one Archive call.
type ArchiveStats struct {
	Reused   int
	Archived int
	Failed   int
}

// Archiver downloads listing photos, hashes them and stores the bytes under
// immutable listing-scoped paths.
type Archiver struct {
	cfg     ArchiverConfig
	client  *http.Client
	blobs   storage.BlobStore
	store   ImageStore
	logger  *utils.Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() string
}

func NewArchiver(cfg ArchiverConfig, blobs storage.BlobStore, store ImageStore, logger *utils.Logger) *Archiver {
	cfg.applyDefaults()
	return &Archiver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		blobs:  blobs,
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithMetrics records image outcomes on m.
func (a *Archiver) WithMetrics(m *Metrics) *Archiver {
	a.metrics = m
	return a
}

type archiveJob struct {
	url  string
	seq  int
	prev *models.ImageRecord
}

type archiveOutcome struct {
	rec models.ImageRecord
	// storeErr is set when the bytes were fetched but could not be stored.
	storeErr error
}

// Archive returns one record per distinct URL, in input order. Records for
// URLs already stored are reused without downloading. A non-nil error means
// some persistence step failed; the returned records are still complete.
func (a *Archiver) Archive(ctx context.Context, listingID string, urls []string) ([]models.ImageRecord, error) {
	if listingID == "" {
		return nil, models.ErrMissingID
	}

	var persistErrs []error

	existing, err := a.store.Images(ctx, listingID)
	if err != nil {
		a.logger.Warn("[archiver] Could not load image records for %s: %v", listingID, err)
		persistErrs = append(persistErrs, err)
	}
	byURL := make(map[string]models.ImageRecord, len(existing))
	order := make([]string, 0, len(existing)+len(urls))
	for _, r := range existing {
		if _, ok := byURL[r.URL]; !ok {
			order = append(order, r.URL)
		}
		byURL[r.URL] = r
	}

	seen := utils.NewURLSet()
	var wanted []string
	var jobs []archiveJob
	var stats ArchiveStats
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" || !seen.Add(u) {
			continue
		}
		wanted = append(wanted, u)
		prev, known := byURL[u]
		switch {
		case known && prev.Archived() && prev.StoragePath != "":
			stats.Reused++
		case known:
			p := prev
			jobs = append(jobs, archiveJob{url: u, prev: &p})
		default:
			jobs = append(jobs, archiveJob{url: u})
		}
	}

	if len(jobs) > 0 {
		base := a.nextSequence(ctx, listingID, existing)
		for i := range jobs {
			jobs[i].seq = base + i + 1
		}

		outcomes := make([]archiveOutcome, len(jobs))
		pool := utils.NewWorkerPool(a.cfg.Concurrency, 0)
		if err := pool.RunChunks(ctx, len(jobs), a.cfg.ChunkPause, func(i int) {
			outcomes[i] = a.archiveOne(ctx, listingID, jobs[i])
		}); err != nil {
			a.logger.Warn("[archiver] Stopped early for %s: %v", listingID, err)
		}

		for i, o := range outcomes {
			if o.rec.URL == "" {
				// never started because the context ended
				o.rec = a.minimalRecord(listingID, jobs[i])
			}
			if _, ok := byURL[o.rec.URL]; !ok {
				order = append(order, o.rec.URL)
			}
			byURL[o.rec.URL] = o.rec

			switch {
			case o.storeErr != nil:
				persistErrs = append(persistErrs, o.storeErr)
				stats.Failed++
			case o.rec.Archived():
				stats.Archived++
			default:
				stats.Failed++
			}
		}
	}

	merged := make([]models.ImageRecord, 0, len(order))
	for _, u := range order {
		merged = append(merged, byURL[u])
	}
	assignPrimary(merged)

	if err := a.store.PutImages(ctx, listingID, merged); err != nil {
		a.logger.Error("[archiver] Could not save image records for %s: %v", listingID, err)
		persistErrs = append(persistErrs, err)
	}

	final := make(map[string]models.ImageRecord, len(merged))
	for _, r := range merged {
		final[r.URL] = r
	}
	out := make([]models.ImageRecord, 0, len(wanted))
	for _, u := range wanted {
		out = append(out, final[u])
	}
	// The stored primary may belong to a URL the listing no longer shows.
	assignPrimary(out)

	a.logger.Info("[archiver] %s: %d reused, %d archived, %d failed",
		listingID, stats.Reused, stats.Archived, stats.Failed)
	if a.metrics != nil {
		a.metrics.ObserveImages(stats)
	}

	return out, errors.Join(persistErrs...)
}

// nextSequence returns the highest sequence number already used for the
// listing, read from the stored object names and the stored records.
func (a *Archiver) nextSequence(ctx context.Context, listingID string, existing []models.ImageRecord) int {
	highest := 0
	for _, r := range existing {
		highest = max(highest, sequenceOf(r.StoragePath))
	}
	paths, err := a.blobs.List(ctx, "listings/"+listingID+"/")
	if err != nil {
		a.logger.Warn("[archiver] Could not list stored images for %s: %v", listingID, err)
		return highest
	}
	for _, p := range paths {
		highest = max(highest, sequenceOf(p))
	}
	return highest
}

// sequenceOf parses the NNN prefix of an object name such as
// listings/L1/2026-03-10/007-front.jpg. Unknown names yield 0.
func sequenceOf(objectPath string) int {
	prefix, _, ok := strings.Cut(path.Base(objectPath), "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (a *Archiver) minimalRecord(listingID string, job archiveJob) models.ImageRecord {
	if job.prev != nil {
		return *job.prev
	}
	return models.ImageRecord{
		ID:        a.newID(),
		ListingID: listingID,
		URL:       job.url,
		CreatedAt: a.now(),
	}
}

func (a *Archiver) archiveOne(ctx context.Context, listingID string, job archiveJob) archiveOutcome {
	rec := a.minimalRecord(listingID, job)

	body, contentType, err := a.download(ctx, job.url)
	if err != nil {
		a.logger.Warn("[archiver] Download failed for %s: %v", job.url, err)
		return archiveOutcome{rec: rec}
	}

	sum := sha256.Sum256(body)
	rec.Hash = hex.EncodeToString(sum[:])
	rec.Size = int64(len(body))
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(body)); err == nil {
		rec.Width, rec.Height, rec.Format = cfg.Width, cfg.Height, format
	} else {
		rec.Format = formatFromContentType(contentType)
	}

	p := fmt.Sprintf("listings/%s/%s/%03d-%s",
		listingID, a.now().UTC().Format("2006-01-02"), job.seq, filenameFor(job.url, contentType))
	if err := a.blobs.Put(ctx, p, bytes.NewReader(body), rec.Size, contentType); err != nil {
		a.logger.Error("[archiver] Upload failed for %s -> %s: %v", job.url, p, err)
		return archiveOutcome{rec: rec, storeErr: fmt.Errorf("upload %s: %w", p, err)}
	}
	rec.StoragePath = p
	return archiveOutcome{rec: rec}
}

func (a *Archiver) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(body)) > a.cfg.MaxBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes", a.cfg.MaxBytes)
	}
	if len(body) == 0 {
		return nil, "", errors.New("empty body")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

// assignPrimary keeps an existing primary flag. Without one, the first
// archived record (or the first record) becomes primary.
func assignPrimary(records []models.ImageRecord) {
	if len(records) == 0 {
		return
	}
	primary := -1
	for i := range records {
		if records[i].IsPrimary {
			if primary >= 0 {
				records[i].IsPrimary = false
				continue
			}
			primary = i
		}
	}
	if primary >= 0 {
		return
	}
	for i := range records {
		if records[i].Archived() {
			records[i].IsPrimary = true
			return
		}
	}
	records[0].IsPrimary = true
}

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/avif": ".avif",
}

func formatFromContentType(contentType string) string {
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if ext, ok := imageExtensions[ct]; ok {
		return strings.TrimPrefix(ext, ".")
	}
	return ""
}

// filenameFor derives a safe object name from the URL basename, adding an
// extension from the content type when the URL has none.
func filenameFor(rawURL, contentType string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "." || name == "/" {
		name = ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = strings.Trim(b.String(), "._")
	if len(name) > 80 {
		name = name[len(name)-80:]
	}
	if name == "" {
		name = "image"
	}
	if path.Ext(name) == "" {
		ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
		if ext, ok := imageExtensions[ct]; ok {
			name += ext
		}
	}
	return name
}
