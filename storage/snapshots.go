package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"listingwatch/models"
)

const (
	// DefaultRecentChangesLimit caps the changes:recent list.
	DefaultRecentChangesLimit = 100

	// historyTimeLayout sorts lexicographically in time order.
	historyTimeLayout = "20060102T150405.000000000Z"

	recentChangesKey = "changes:recent"
	lastRunKey       = "meta:lastRun"
)

func currentKey(id string) string { return "listing:" + id }
func historyPrefix(id string) string { return "listing:" + id + ":history:" }
func imagesKey(id string) string  { return "listing:" + id + ":images" }

// SnapshotStore keeps the current and historical state of listings, their
// image records, the recent changes log and the last-run marker on top of a KV.
type SnapshotStore struct {
	kv          KV
	recentLimit int
	now         func() time.Time
}

// NewSnapshotStore wraps kv. A non-positive recentLimit falls back to
// DefaultRecentChangesLimit.
func NewSnapshotStore(kv KV, recentLimit int) *SnapshotStore {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentChangesLimit
	}
	return &SnapshotStore{kv: kv, recentLimit: recentLimit, now: time.Now}
}

// WithClock replaces the clock used to stamp history entries.
func (s *SnapshotStore) WithClock(now func() time.Time) *SnapshotStore {
	s.now = now
	return s
}

// Get returns the current snapshot for id, or nil when none was stored yet.
func (s *SnapshotStore) Get(ctx context.Context, id string) (*models.Listing, error) {
	if id == "" {
		return nil, models.ErrMissingID
	}
	var l models.Listing
	found, err := s.getJSON(ctx, currentKey(id), &l)
	if err != nil || !found {
		return nil, err
	}
	return &l, nil
}

// Put overwrites the current pointer and then writes one immutable history
// entry. A failure after the first write leaves history stale but the
// current pointer intact.
func (s *SnapshotStore) Put(ctx context.Context, l *models.Listing) error {
	if l == nil || l.ID == "" {
		return models.ErrMissingID
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("snapshots: encode listing %s: %w", l.ID, err)
	}

	if err := s.kv.Put(ctx, currentKey(l.ID), data); err != nil {
		return fmt.Errorf("snapshots: write current %s: %w", l.ID, err)
	}

	ts := s.now().UTC().Format(historyTimeLayout)
	if err := s.kv.PutNew(ctx, historyPrefix(l.ID)+ts, data); err != nil {
		return fmt.Errorf("snapshots: write history %s@%s: %w", l.ID, ts, err)
	}
	return nil
}

// History returns up to limit historical snapshots, most recent first.
// A non-positive limit returns all of them.
func (s *SnapshotStore) History(ctx context.Context, id string, limit int) ([]models.SnapshotRecord, error) {
	if id == "" {
		return nil, models.ErrMissingID
	}
	keys, err := s.kv.List(ctx, historyPrefix(id))
	if err != nil {
		return nil, fmt.Errorf("snapshots: list history %s: %w", id, err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	records := make([]models.SnapshotRecord, 0, len(keys))
	for _, k := range keys {
		var l models.Listing
		found, err := s.getJSON(ctx, k, &l)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		ts := strings.TrimPrefix(k, historyPrefix(id))
		records = append(records, models.SnapshotRecord{Key: id + ":" + ts, Listing: &l})
	}
	return records, nil
}

// ListingIDs returns the ids of every listing with a current snapshot.
func (s *SnapshotStore) ListingIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, "listing:")
	if err != nil {
		return nil, fmt.Errorf("snapshots: list listings: %w", err)
	}
	var ids []string
	for _, k := range keys {
		id := strings.TrimPrefix(k, "listing:")
		if id != "" && !strings.Contains(id, ":") {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AppendChanges prepends the batch to the recent log, so later batches come
// first, and trims it to the configured cap.
func (s *SnapshotStore) AppendChanges(ctx context.Context, changes []*models.ChangeEvent) error {
	if len(changes) == 0 {
		return nil
	}
	var existing []*models.ChangeEvent
	if _, err := s.getJSON(ctx, recentChangesKey, &existing); err != nil {
		return err
	}

	merged := make([]*models.ChangeEvent, 0, len(changes)+len(existing))
	for _, c := range changes {
		if c != nil {
			merged = append(merged, c)
		}
	}
	merged = append(merged, existing...)
	if len(merged) > s.recentLimit {
		merged = merged[:s.recentLimit]
	}
	return s.putJSON(ctx, recentChangesKey, merged)
}

// RecentChanges returns up to limit entries of the recent log.
func (s *SnapshotStore) RecentChanges(ctx context.Context, limit int) ([]*models.ChangeEvent, error) {
	var changes []*models.ChangeEvent
	if _, err := s.getJSON(ctx, recentChangesKey, &changes); err != nil {
		return nil, err
	}
	if limit > 0 && len(changes) > limit {
		changes = changes[:limit]
	}
	return changes, nil
}

// Images returns the stored image records for a listing.
func (s *SnapshotStore) Images(ctx context.Context, id string) ([]models.ImageRecord, error) {
	if id == "" {
		return nil, models.ErrMissingID
	}
	var records []models.ImageRecord
	if _, err := s.getJSON(ctx, imagesKey(id), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// PutImages replaces the stored image records for a listing.
func (s *SnapshotStore) PutImages(ctx context.Context, id string, records []models.ImageRecord) error {
	if id == "" {
		return models.ErrMissingID
	}
	return s.putJSON(ctx, imagesKey(id), records)
}

// LastRun returns the time of the last completed scheduled run, or the zero
// time when no run was recorded.
func (s *SnapshotStore) LastRun(ctx context.Context) (time.Time, error) {
	var t time.Time
	if _, err := s.getJSON(ctx, lastRunKey, &t); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func (s *SnapshotStore) SetLastRun(ctx context.Context, t time.Time) error {
	return s.putJSON(ctx, lastRunKey, t.UTC())
}

func (s *SnapshotStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("snapshots: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("snapshots: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SnapshotStore) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshots: encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("snapshots: put %s: %w", key, err)
	}
	return nil
}
