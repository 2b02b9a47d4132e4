package overlay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown overlay id.
var ErrNotFound = errors.New("overlay not found")

// Store is the persistence contract for overlay documents. The service picks
// one implementation at startup (Redis when reachable, in-memory otherwise);
// call sites never inspect which one they got.
type Store interface {
	// Create builds an overlay from the freeform payload, assigns its id
	// and timestamps, and persists it.
	Create(ctx context.Context, payload map[string]any) (*Overlay, error)
	// Get returns the overlay with the given id.
	Get(ctx context.Context, id string) (*Overlay, error)
	// List returns all overlays ordered by creation time.
	List(ctx context.Context) ([]*Overlay, error)
	// Update merges the payload into the stored overlay and bumps
	// updatedAt.
	Update(ctx context.Context, id string, payload map[string]any) (*Overlay, error)
	// Delete removes the overlay with the given id.
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps overlays in a mutex-guarded map. Data does not survive a
// restart; it is the fallback when no document store is configured or
// reachable.
type MemoryStore struct {
	mu       sync.RWMutex
	overlays map[string]*Overlay
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{overlays: make(map[string]*Overlay)}
}

// Create implements Store.Create.
func (s *MemoryStore) Create(ctx context.Context, payload map[string]any) (*Overlay, error) {
	o, err := fromPayload(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	o.ID = uuid.NewString()
	o.CreatedAt = now
	o.UpdatedAt = now

	s.mu.Lock()
	s.overlays[o.ID] = o
	s.mu.Unlock()
	return o, nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overlays[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

// List implements Store.List.
func (s *MemoryStore) List(ctx context.Context) ([]*Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Overlay, 0, len(s.overlays))
	for _, o := range s.overlays {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Update implements Store.Update.
func (s *MemoryStore) Update(ctx context.Context, id string, payload map[string]any) (*Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.overlays[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := applyPayload(o, payload); err != nil {
		return nil, err
	}
	o.UpdatedAt = time.Now().UTC()
	return o.clone(), nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.overlays[id]; !ok {
		return ErrNotFound
	}
	delete(s.overlays, id)
	return nil
}
