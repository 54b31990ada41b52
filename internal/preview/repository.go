package preview

import (
	"sort"
	"sync"
	"time"

	"hls-preview/internal/playback"
)

// Repository defines the concurrency-safe contract for the set of mounted
// surfaces.
type Repository interface {
	// Get returns the mount for id.
	Get(id playback.SurfaceID) (*Mount, bool)

	// Put stores m, replacing any mount with the same ID, and returns the
	// replaced mount if there was one. MountedAt is set on first insert.
	Put(m *Mount) (replaced *Mount)

	// Remove deletes the mount for id and returns it. Unknown ids return
	// nil, false.
	Remove(id playback.SurfaceID) (*Mount, bool)

	// List returns every mount ordered by surface ID.
	List() []*Mount

	// Count returns the number of mounts. Used for metrics.
	Count() int
}

// InMemoryRepository is a concurrency-safe Repository backed by a Store;
// by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, now: time.Now}
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id playback.SurfaceID) (*Mount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetMount(id)
}

// Put implements Repository.Put.
func (r *InMemoryRepository) Put(m *Mount) *Mount {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	prev, ok := r.store.GetMount(m.ID)
	switch {
	case ok && prev == m:
		m.UpdatedAt = now
		return nil
	case m.MountedAt.IsZero():
		m.MountedAt = now
	}
	m.UpdatedAt = now
	r.store.SetMount(m)
	if !ok {
		return nil
	}
	return prev
}

// Remove implements Repository.Remove.
func (r *InMemoryRepository) Remove(id playback.SurfaceID) (*Mount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.GetMount(id)
	if !ok {
		return nil, false
	}
	r.store.DeleteMount(id)
	return m, true
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []*Mount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListMountIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Mount, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.store.GetMount(id); ok {
			out = append(out, m)
		}
	}
	return out
}

// Count implements Repository.Count.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store.ListMountIDs())
}
