// Package cache holds a client's current belief about the shared object set.
// The sync engine is its authoritative writer (whole-snapshot replacement)
// and the command layer its optimistic writer; instances are injected into
// both so tests can run isolated clients side by side.
package cache

import (
	"boardsync/core"
	"sort"
	"sync"
)

// Store is the local reactive object cache.
type Store struct {
	mu       sync.RWMutex
	objects  map[string]*core.Object
	onChange func()
}

// NewStore creates an empty cache.
func NewStore() *Store {
	return &Store{objects: make(map[string]*core.Object)}
}

// OnChange registers a callback invoked after every mutation, outside the
// cache lock. The rendering layer hangs off this.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Get returns a copy of the object and whether it exists.
func (s *Store) Get(id string) (*core.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// GetAll returns copies of all cached objects ordered by zIndex.
func (s *Store) GetAll() []core.Object {
	s.mu.RLock()
	all := make([]core.Object, 0, len(s.objects))
	for _, obj := range s.objects {
		all = append(all, *obj.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ZIndex < all[j].ZIndex })
	return all
}

// Len returns the number of cached objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Insert adds or replaces an object.
func (s *Store) Insert(obj *core.Object) {
	s.mu.Lock()
	s.objects[obj.ID] = obj.Clone()
	s.mu.Unlock()
	s.notify()
}

// Patch applies partial fields to a cached object. Patching an object that
// is not cached is a no-op: it was deleted under us and the next snapshot is
// the truth.
func (s *Store) Patch(id string, fields core.Fields) error {
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	next := obj.Clone()
	if err := core.ApplyFields(next, fields); err != nil {
		s.mu.Unlock()
		return err
	}
	s.objects[id] = next
	s.mu.Unlock()
	s.notify()
	return nil
}

// Remove deletes an object from the cache if present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
	s.notify()
}

// ReplaceAll swaps the entire cache contents for the snapshot. Optimistic
// residue never survives this: the snapshot is authoritative and is not
// merged field-by-field with pending local writes.
func (s *Store) ReplaceAll(snapshot []core.Object) {
	next := make(map[string]*core.Object, len(snapshot))
	for i := range snapshot {
		obj := snapshot[i]
		next[obj.ID] = obj.Clone()
	}

	s.mu.Lock()
	s.objects = next
	s.mu.Unlock()
	s.notify()
}
