package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"listingwatch/models"
)

var changeCSVHeader = []string{
	"id", "listing_id", "listing_title", "change_type", "old_value", "new_value", "change_date", "description",
}

// ChangeCSVWriter appends detected change events to a CSV file.
// It is safe for concurrent use.
type ChangeCSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewChangeCSVWriter opens (or creates) the CSV file at path in append mode.
// The header row is written only when the file is new or empty.
// Intermediate directories are created automatically.
func NewChangeCSVWriter(path string) (*ChangeCSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(changeCSVHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &ChangeCSVWriter{file: f, writer: w}, nil
}

// WriteChanges appends one row per change event.
func (c *ChangeCSVWriter) WriteChanges(changes []*models.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range changes {
		if ch == nil {
			continue
		}
		row := []string{
			ch.ID,
			ch.ListingID,
			ch.ListingTitle,
			string(ch.ChangeType),
			ch.OldValue,
			ch.NewValue,
			ch.ChangeDate.UTC().Format(time.RFC3339),
			ch.Description,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *ChangeCSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return errors.Join(c.writer.Error(), c.file.Close())
}
