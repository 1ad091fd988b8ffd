package catalog

import "sync"

// Store exposes model metadata lookup for handlers and the CLI.
type Store interface {
	List() []Model
	FindByID(id string) (Model, bool)
	DefaultSelection() []string
}

// MemoryStore implements Store with an in-memory slice built at startup.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Model
	index map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied models.
// Later duplicates of an identifier are ignored.
func NewMemoryStore(items []Model) *MemoryStore {
	s := &MemoryStore{index: make(map[string]int, len(items))}
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := s.index[item.ID]; ok {
			continue
		}
		if item.Provider == "" {
			item.Provider = ProviderOf(item.ID)
		}
		s.index[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return s
}

// List returns the catalog in registration order.
func (s *MemoryStore) List() []Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Model, len(s.items))
	for i, item := range s.items {
		out[i] = item.displayed()
	}
	return out
}

// FindByID looks up a model by identifier.
func (s *MemoryStore) FindByID(id string) (Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Model{}, false
	}
	return s.items[i].displayed(), true
}

// DefaultSelection returns the identifiers preselected for a new chat.
func (s *MemoryStore) DefaultSelection() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, 4)
	for _, item := range s.items {
		if item.Default {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// displayed falls back to the identifier for unnamed models. The stored
// name stays blank so Merge can still fill it.
func (m Model) displayed() Model {
	if m.Name == "" {
		m.Name = m.ID
	}
	return m
}

// Merge fills in blank metadata of registered models from remote listings.
// Unknown identifiers are ignored so the catalog stays curated.
// It returns the number of models that changed.
func (s *MemoryStore) Merge(remote []Model) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, r := range remote {
		i, ok := s.index[r.ID]
		if !ok {
			continue
		}
		item := s.items[i]
		updated := item
		if updated.Name == "" && r.Name != "" {
			updated.Name = r.Name
		}
		if updated.Description == "" && r.Description != "" {
			updated.Description = r.Description
		}
		if updated != item {
			s.items[i] = updated
			changed++
		}
	}
	return changed
}
