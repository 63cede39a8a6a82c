package models

import "errors"

var (
	// ErrMissingID is returned when a listing reaches a persistence boundary
	// without an id.
	ErrMissingID = errors.New("listing id is required")
	// ErrNotFound is returned by stores when a key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrKeyExists is returned when writing an immutable key a second time.
	ErrKeyExists = errors.New("key already exists")
	// ErrObjectExists is returned when uploading to an occupied blob path.
	ErrObjectExists = errors.New("object already exists")
	// ErrExtractionFailed is surfaced to on-demand imports when no title
	// could be extracted.
	ErrExtractionFailed = errors.New("could not extract data from this URL")
)
