package ratelimit

import (
	"sync"
	"time"
)

// MaxMessagesPerWindow is the cap shared by the per-IP and
// per-connection message limiters (§4.3, §6).
const MaxMessagesPerWindow = 500

// MessageLimiter is a sliding-window message-rate limiter keyed by an
// arbitrary string (an IP address or an opaque connection id). A
// background sweep purges fully-drained keys every sweepInterval so
// long-lived processes don't accumulate empty windows.
type MessageLimiter struct {
	mu            sync.Mutex
	windows       map[string]*slidingWindow
	limit         int
	sweepInterval time.Duration

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewMessageLimiter constructs a limiter with the given admission cap
// and sweep interval (1 minute for both the per-IP and per-connection
// limiters, per §4.3).
func NewMessageLimiter(limit int, sweepInterval time.Duration) *MessageLimiter {
	return &MessageLimiter{
		windows:       make(map[string]*slidingWindow),
		limit:         limit,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Admit records and admits a message for key if fewer than `limit`
// timestamps exist for it within the last 60 seconds.
func (l *MessageLimiter) Admit(key string) bool {
	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok {
		w = &slidingWindow{}
		l.windows[key] = w
	}
	l.mu.Unlock()

	return w.admit(now, l.limit)
}

// Remove drops a key's window immediately, used when a connection
// closes so its per-connection limiter state doesn't linger until the
// next sweep.
func (l *MessageLimiter) Remove(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Start begins the periodic sweep that purges windows with no recent
// activity. It is safe to call Start at most once.
func (l *MessageLimiter) Start() {
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

func (l *MessageLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if w.empty(now) {
			delete(l.windows, key)
		}
	}
}

// Dispose cancels the sweep task and drops all state.
func (l *MessageLimiter) Dispose() {
	if l.stop != nil {
		close(l.stop)
		<-l.done
		l.stop = nil
	}
	l.mu.Lock()
	l.windows = make(map[string]*slidingWindow)
	l.mu.Unlock()
}
