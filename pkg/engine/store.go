package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Key names a value in a Store and fixes its type.
type Key[T any] struct {
	name string
}

// NewKey creates a typed store key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key name.
func (k Key[T]) Name() string {
	return k.name
}

// Store is the parameter bag shared by the tasks of one flow run.
// It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Put stores v under k, replacing any previous value.
func Put[T any](s *Store, k Key[T], v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[k.name] = v
}

// Get returns the value stored under k. The boolean is false if the key is
// absent or holds a value of another type.
func Get[T any](s *Store, k Key[T]) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[k.name]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Require returns the value stored under k or a MISSING_PARAMETER error.
func Require[T any](s *Store, k Key[T]) (T, error) {
	v, ok := Get(s, k)
	if !ok {
		var zero T
		return zero, NewPermanentError(fmt.Sprintf("store has no value for %q", k.name), nil).
			WithCode(ErrCodeMissingParameter)
	}
	return v, nil
}

// Has reports whether a value is stored under name, whatever its type.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[name]
	return ok
}

// Delete removes the value stored under name.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, name)
}

// Keys returns the stored key names in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the store.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := NewStore()
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}
