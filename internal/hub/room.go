package hub

import (
	"sync"
	"time"
)

// presenceEntry is one client's awareness state within a room, stamped
// with the epoch-second time it was last updated so the GC sweep can
// evict stale entries (§4.7's awareness GC, §8's eviction property).
type presenceEntry struct {
	state    map[string]interface{}
	lastSeen int64
}

// room holds the per-document state the hub mutates: current document
// fields, the subscriber set, and awareness. Guarded by its own mutex
// so a hot document doesn't contend with the hub-level registry lock
// (§5's "per-document lock for room state" guidance).
type room struct {
	docID string

	mu               sync.Mutex
	state            map[string]interface{}
	subscribers      map[string]struct{} // connection id -> struct{}
	awareness        map[string]*presenceEntry // client id -> entry
	remoteSubscribed bool // true once this hub has subscribed the doc's pubsub channel
}

func newRoom(docID string) *room {
	return &room{
		docID:       docID,
		state:       make(map[string]interface{}),
		subscribers: make(map[string]struct{}),
		awareness:   make(map[string]*presenceEntry),
	}
}

func (r *room) addSubscriber(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[connID] = struct{}{}
}

func (r *room) removeSubscriber(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, connID)
}

func (r *room) subscriberIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subscribers))
	for id := range r.subscribers {
		out = append(out, id)
	}
	return out
}

func (r *room) isEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers) == 0 && len(r.awareness) == 0
}

// applyChanges merges changes into the room's state by field-level
// overwrite (last-writer-wins, §3/§4.7) and returns the state snapshot
// from immediately before the merge alongside the resulting snapshot,
// so the caller can log what actually moved without re-deriving it.
func (r *room) applyChanges(changes map[string]interface{}) (before, after map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	before = r.stateCopyLocked()
	for k, v := range changes {
		r.state[k] = v
	}
	after = r.stateCopyLocked()
	return before, after
}

func (r *room) stateCopy() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateCopyLocked()
}

func (r *room) stateCopyLocked() map[string]interface{} {
	out := make(map[string]interface{}, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out
}

// setAwareness stamps and stores a client's presence state, returning
// the stamped copy so the caller can forward it to other subscribers.
func (r *room) setAwareness(clientID string, state map[string]interface{}, now time.Time) map[string]interface{} {
	stamped := make(map[string]interface{}, len(state)+1)
	for k, v := range state {
		stamped[k] = v
	}
	lastSeen := now.Unix()
	stamped["_lastSeen"] = lastSeen

	r.mu.Lock()
	r.awareness[clientID] = &presenceEntry{state: stamped, lastSeen: lastSeen}
	r.mu.Unlock()
	return stamped
}

// removeAwareness drops a single client's presence entry, used when a
// connection holding it disconnects. Reports whether an entry existed.
func (r *room) removeAwareness(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, had := r.awareness[clientID]
	delete(r.awareness, clientID)
	return had
}

// snapshotAwareness returns a copy of every client's current presence
// state, for a newly-subscribed awareness listener to catch up on.
func (r *room) snapshotAwareness() map[string]map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(r.awareness))
	for clientID, entry := range r.awareness {
		stateCopy := make(map[string]interface{}, len(entry.state))
		for k, v := range entry.state {
			stateCopy[k] = v
		}
		out[clientID] = stateCopy
	}
	return out
}

// sweepStaleAwareness evicts entries whose lastSeen predates the
// cutoff and returns the evicted client ids (§4.7's 30s GC sweep).
func (r *room) sweepStaleAwareness(cutoff int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for clientID, entry := range r.awareness {
		if entry.lastSeen < cutoff {
			evicted = append(evicted, clientID)
			delete(r.awareness, clientID)
		}
	}
	return evicted
}
