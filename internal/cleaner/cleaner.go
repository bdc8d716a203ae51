// Package cleaner turns raw fetched payloads into normalized text by
// running a configurable chain of named cleaners.
package cleaner

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Cleaner transforms text. Implementations must be safe for
// concurrent use.
type Cleaner interface {
	Name() string
	Clean(ctx context.Context, text string) (string, error)
}

// Registry maps cleaner names to implementations.
type Registry struct {
	mu       sync.RWMutex
	cleaners map[string]Cleaner
}

// NewRegistry returns a registry preloaded with the built-in cleaners.
func NewRegistry() *Registry {
	r := &Registry{cleaners: make(map[string]Cleaner)}
	r.Register(NewHTMLText())
	r.Register(NewWhitespace())
	r.Register(NewMarkdownRender())
	return r
}

// Register adds or replaces a cleaner.
func (r *Registry) Register(c Cleaner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleaners[c.Name()] = c
}

// Get looks up a cleaner by name.
func (r *Registry) Get(name string) (Cleaner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cleaners[name]
	if !ok {
		return nil, fmt.Errorf("unknown cleaner %q", name)
	}
	return c, nil
}

// Names lists registered cleaner names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cleaners))
	for name := range r.cleaners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
