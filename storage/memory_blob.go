package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"listingwatch/models"
)

// MemoryBlob is an in-process BlobStore. Objects written once cannot be
// replaced.
type MemoryBlob struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{objects: make(map[string]memoryObject)}
}

func (m *MemoryBlob) Put(_ context.Context, path string, body io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("memory blob: read body: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; ok {
		return models.ErrObjectExists
	}
	m.objects[path] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (m *MemoryBlob) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Object returns the stored bytes and content type for path.
func (m *MemoryBlob) Object(path string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[path]
	if !ok {
		return nil, "", false
	}
	return bytes.Clone(o.data), o.contentType, true
}
