package godotgrpc

import "sync"

// streamRegistry maps stream identifiers to their live engines.
// Identifiers are positive, monotonically assigned, and never reused
// for the lifetime of the owning client, so the registry is a simple
// growing map with explicit eviction.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[int64]*stream
	nextID  int64
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{
		streams: make(map[int64]*stream),
		nextID:  1,
	}
}

// allocateID returns a fresh identifier.
func (r *streamRegistry) allocateID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// insert registers the engine for id. At most one engine may ever be
// registered per identifier.
func (r *streamRegistry) insert(id int64, s *stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; ok {
		panic("duplicate stream id")
	}
	r.streams[id] = s
}

// find returns the engine for id, or nil if unknown or already
// evicted.
func (r *streamRegistry) find(id int64) *stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[id]
}

// erase evicts id. Safe to call for ids that were already evicted.
func (r *streamRegistry) erase(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// closeAll cancels every registered stream and clears the mapping.
// Cancellation happens outside the lock: terminal delivery runs on
// the streams' reader goroutines and re-enters the registry to erase.
func (r *streamRegistry) closeAll() {
	r.mu.Lock()
	snapshot := make([]*stream, 0, len(r.streams))
	for _, s := range r.streams {
		snapshot = append(snapshot, s)
	}
	r.streams = make(map[int64]*stream)
	r.mu.Unlock()

	for _, s := range snapshot {
		s.Cancel()
	}
}

// size reports the number of live streams.
func (r *streamRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
