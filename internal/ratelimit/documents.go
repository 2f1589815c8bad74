package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxDocumentsPerIP and MaxDocumentsPerHour bound document creation
// per source IP (§4.3, §6).
const (
	MaxDocumentsPerIP   = 20
	MaxDocumentsPerHour = 10
)

const documentWindowDuration = time.Hour

// documentState is the per-IP bookkeeping: lifetime total plus a
// pruned hourly timestamp list, per §3's DocumentCreationWindow.
type documentState struct {
	mu         sync.Mutex
	total      int
	timestamps []time.Time
}

// DocumentCreationLimiter caps how many documents a single IP may
// create: a lifetime total and an hourly rate. Lifetime counters are
// kept in a bounded LRU so a process handling many distinct client IPs
// over its lifetime doesn't grow this map unboundedly.
type DocumentCreationLimiter struct {
	cache         *lru.Cache[string, *documentState]
	sweepInterval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewDocumentCreationLimiter constructs a limiter. capacity bounds how
// many distinct IPs are tracked at once (LRU-evicted beyond that).
func NewDocumentCreationLimiter(capacity int, sweepInterval time.Duration) *DocumentCreationLimiter {
	cache, err := lru.New[string, *documentState](capacity)
	if err != nil {
		// Only returns an error for non-positive capacity; fall back
		// to a reasonably large default rather than propagating a
		// startup-time config mistake into a panic here.
		cache, _ = lru.New[string, *documentState](4096)
	}
	return &DocumentCreationLimiter{
		cache:         cache,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Admit checks whether ip may create another document. On denial it
// returns a human-readable reason, per §4.3.
func (l *DocumentCreationLimiter) Admit(ip string) (bool, string) {
	now := l.now()

	state, ok := l.cache.Get(ip)
	if !ok {
		state = &documentState{}
		l.cache.Add(ip, state)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.prune(now)

	if state.total >= MaxDocumentsPerIP {
		return false, fmt.Sprintf("lifetime document creation limit (%d) reached for this IP", MaxDocumentsPerIP)
	}
	if len(state.timestamps) >= MaxDocumentsPerHour {
		return false, fmt.Sprintf("hourly document creation limit (%d) reached for this IP", MaxDocumentsPerHour)
	}

	state.total++
	state.timestamps = append(state.timestamps, now)
	return true, ""
}

func (s *documentState) prune(now time.Time) {
	cutoff := now.Add(-documentWindowDuration)
	i := 0
	for i < len(s.timestamps) && s.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.timestamps = append([]time.Time{}, s.timestamps[i:]...)
	}
}

// Start begins the periodic sweep (hourly, per §4.3) that prunes
// expired hourly timestamps from tracked IPs proactively.
func (l *DocumentCreationLimiter) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *DocumentCreationLimiter) sweep() {
	now := l.now()
	for _, ip := range l.cache.Keys() {
		if state, ok := l.cache.Peek(ip); ok {
			state.mu.Lock()
			state.prune(now)
			state.mu.Unlock()
		}
	}
}

// Dispose cancels the sweep and drops all tracked state.
func (l *DocumentCreationLimiter) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		<-l.done
		l.stop = nil
	}
	l.cache.Purge()
}
