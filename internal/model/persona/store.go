package persona

import "errors"

// ErrNotFound is returned for identifiers outside the shipped catalog.
var ErrNotFound = errors.New("persona not found")

// Store exposes persona retrieval for handlers and services.
type Store interface {
	List() []Persona
	Lookup(id string) (Persona, error)
}

// MemoryStore implements Store with an in-memory index. It never mutates after construction,
// so concurrent readers need no locking.
type MemoryStore struct {
	items []Persona
	byID  map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	store := &MemoryStore{
		items: append([]Persona(nil), items...),
		byID:  make(map[string]int, len(items)),
	}
	for i, item := range store.items {
		store.byID[item.ID] = i
	}
	return store
}

// List returns the catalog in declaration order.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// Lookup resolves a persona by identifier.
func (s *MemoryStore) Lookup(id string) (Persona, error) {
	idx, ok := s.byID[id]
	if !ok {
		return Persona{}, ErrNotFound
	}
	return s.items[idx], nil
}

// Profiles lists the public view of every persona.
func Profiles(s Store) []Profile {
	items := s.List()
	profiles := make([]Profile, 0, len(items))
	for _, item := range items {
		profiles = append(profiles, item.Profile())
	}
	return profiles
}
