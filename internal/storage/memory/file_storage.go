// Package memory implements an in-memory file storage, primarily for
// tests and dry runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Storage keeps artifacts in a map keyed by path.
type Storage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{blobs: make(map[string][]byte)}
}

// Store keeps a copy of data under name.
func (s *Storage) Store(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[name] = buf
	return name, nil
}

// Retrieve returns the stored bytes, or nil when absent.
func (s *Storage) Retrieve(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Delete removes the stored bytes, reporting whether they existed.
func (s *Storage) Delete(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[path]
	delete(s.blobs, path)
	return ok, nil
}

// List returns stored paths with the given prefix, sorted.
func (s *Storage) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for path := range s.blobs {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
