package stream

import "sync"

// Registry is the concurrency-safe mapping from stream id to Record.
// It is the only shared mutable structure in the stream domain: request
// handlers, the per-stream monitor goroutines and the readiness checks all
// go through it. Status writes for ids that are no longer present are
// silently dropped, which is what makes a late monitor write after Stop
// harmless.
type Registry struct {
	mu      sync.RWMutex
	streams map[StreamID]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[StreamID]*Record)}
}

// Register inserts a new record under its id. ErrDuplicateID is returned if
// the id is already taken.
func (r *Registry) Register(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[rec.ID]; exists {
		return ErrDuplicateID
	}
	r.streams[rec.ID] = rec
	return nil
}

// Get returns a snapshot copy of the record for id, or ErrNotFound.
func (r *Registry) Get(id StreamID) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.streams[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// List returns snapshot copies of all records. The snapshot does not block
// concurrent mutation after it is taken.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.streams))
	for _, rec := range r.streams {
		out = append(out, *rec)
	}
	return out
}

// Remove deletes the record for id and returns it for cleanup.
// Subsequent Get and SetStatus calls for the id are no-ops.
func (r *Registry) Remove(id StreamID) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.streams, id)
	return rec, nil
}

// Count returns the number of registered streams.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// SetStatus records a status transition for id. The write is dropped (and
// false returned) if the id is gone or the record is already in a terminal
// state, keeping transitions forward-only.
func (r *Registry) SetStatus(id StreamID, st Status, lastErr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.streams[id]
	if !ok || rec.Status.terminal() {
		return false
	}
	rec.Status = st
	if lastErr != "" {
		rec.LastError = lastErr
	}
	return true
}

// CompareAndSetStatus transitions id from one specific status to another.
// Used by the readiness check, which may only promote starting -> active.
func (r *Registry) CompareAndSetStatus(id StreamID, from, to Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.streams[id]
	if !ok || rec.Status != from {
		return false
	}
	rec.Status = to
	return true
}

// SetProcess attaches the encoder supervisor to an existing record.
func (r *Registry) SetProcess(id StreamID, sup *Supervisor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.streams[id]
	if !ok {
		return false
	}
	rec.Proc = sup
	return true
}
