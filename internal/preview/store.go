package preview

import "hls-preview/internal/playback"

// Store is the persistence abstraction for mounts.
// The Repository uses Store for all reads and writes; callers of Repository
// do not need to know which Store is used. Store implementations need not be
// safe for concurrent use.
type Store interface {
	GetMount(id playback.SurfaceID) (*Mount, bool)
	SetMount(m *Mount)
	DeleteMount(id playback.SurfaceID)
	ListMountIDs() []playback.SurfaceID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mounts map[playback.SurfaceID]*Mount
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		mounts: make(map[playback.SurfaceID]*Mount),
	}
}

// GetMount implements Store.GetMount.
func (s *InMemoryStore) GetMount(id playback.SurfaceID) (*Mount, bool) {
	m, ok := s.mounts[id]
	return m, ok
}

// SetMount implements Store.SetMount.
func (s *InMemoryStore) SetMount(m *Mount) {
	s.mounts[m.ID] = m
}

// DeleteMount implements Store.DeleteMount.
func (s *InMemoryStore) DeleteMount(id playback.SurfaceID) {
	delete(s.mounts, id)
}

// ListMountIDs implements Store.ListMountIDs.
func (s *InMemoryStore) ListMountIDs() []playback.SurfaceID {
	ids := make([]playback.SurfaceID, 0, len(s.mounts))
	for id := range s.mounts {
		ids = append(ids, id)
	}
	return ids
}
