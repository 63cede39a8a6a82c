package models

import "time"

// ImageRecord describes one archived (or attempted) listing photo.
// Hash and Size stay empty when the download failed.
type ImageRecord struct {
	ID          string    `json:"id"`
	ListingID   string    `json:"listingId"`
	URL         string    `json:"url"`
	IsPrimary   bool      `json:"isPrimary"`
	CreatedAt   time.Time `json:"createdAt"`
	Hash        string    `json:"hash,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Format      string    `json:"format,omitempty"`
	StoragePath string    `json:"storagePath,omitempty"`
}

// Archived reports whether the image bytes were downloaded and hashed.
func (r ImageRecord) Archived() bool {
	return r.Hash != ""
}

// ChangeType is the kind of difference detected between two observations.
type ChangeType string

const (
	ChangePrice       ChangeType = "price"
	ChangeStatus      ChangeType = "status"
	ChangeDescription ChangeType = "description"
	ChangeImageCount  ChangeType = "imageCount"
)

// ChangeEvent is an append-only record of one detected difference.
type ChangeEvent struct {
	ID           string     `json:"id"`
	ListingID    string     `json:"listingId"`
	ListingTitle string     `json:"listingTitleAtTime"`
	ChangeType   ChangeType `json:"changeType"`
	OldValue     string     `json:"oldValue"`
	NewValue     string     `json:"newValue"`
	ChangeDate   time.Time  `json:"changeDate"`
	Description  string     `json:"description"`
}

// SnapshotRecord is an immutable copy of a listing at one point in time.
type SnapshotRecord struct {
	Key     string   `json:"key"`
	Listing *Listing `json:"listing"`
}

// Outcome classifies how a single pipeline item ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// ItemResult is returned for every item the pipeline touches. Partial means
// the listing was produced but some persistence step failed.
type ItemResult struct {
	ListingID string         `json:"listingId"`
	SourceURL string         `json:"sourceUrl,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	IsNew     bool           `json:"isNew"`
	Changes   []*ChangeEvent `json:"changes,omitempty"`
	Listing   *Listing       `json:"listing,omitempty"`
}
