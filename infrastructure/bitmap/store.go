// Package bitmap provides the in-memory keyed store of rendered bitmaps.
package bitmap

import (
	"sync"

	"github.com/helixml/folio/domain/document"
)

// Store is a keyed map of bitmaps. It never evicts on its own: entries live
// until Delete or Close. Deleting or replacing a bitmap disposes it.
type Store struct {
	mu    sync.RWMutex
	items map[string]document.Bitmap
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		items: make(map[string]document.Bitmap),
	}
}

// Put stores b under id, disposing any bitmap previously held under id.
func (s *Store) Put(id string, b document.Bitmap) {
	s.mu.Lock()
	prev, existed := s.items[id]
	s.items[id] = b
	s.mu.Unlock()

	if existed && !prev.Same(b) {
		prev.Dispose()
	}
}

// Get returns the bitmap stored under id.
func (s *Store) Get(id string) (document.Bitmap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.items[id]
	return b, ok
}

// Delete removes and disposes the bitmap stored under id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	b, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()

	if ok {
		b.Dispose()
	}
}

// Len returns the number of stored bitmaps.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close disposes every bitmap and empties the store.
func (s *Store) Close() error {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]document.Bitmap)
	s.mu.Unlock()

	for _, b := range items {
		b.Dispose()
	}
	return nil
}
