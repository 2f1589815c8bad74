package pubsub

import (
	"context"
	"sync"
)

// Local is the single-instance fallback adapter: publishes are
// delivered synchronously to in-process subscribers, with no external
// transport. Used when no coordination backend is configured; /health
// then reports pubsub: "single-instance".
type Local struct {
	mu          sync.Mutex
	connected   bool
	docHandlers map[string][]Handler
	broadcast   []Handler
	presence    []PresenceHandler
}

// NewLocal constructs a disconnected in-process adapter.
func NewLocal() *Local {
	return &Local{docHandlers: make(map[string][]Handler)}
}

func (l *Local) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	return nil
}

func (l *Local) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	return nil
}

func (l *Local) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Local) PublishDoc(ctx context.Context, docID string, payload map[string]interface{}) error {
	l.mu.Lock()
	handlers := append([]Handler{}, l.docHandlers[docID]...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (l *Local) SubscribeDoc(ctx context.Context, docID string, handler Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docHandlers[docID] = append(l.docHandlers[docID], handler)
	return nil
}

func (l *Local) UnsubscribeDoc(ctx context.Context, docID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.docHandlers, docID)
	return nil
}

func (l *Local) PublishBroadcast(ctx context.Context, payload map[string]interface{}) error {
	l.mu.Lock()
	handlers := append([]Handler{}, l.broadcast...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (l *Local) SubscribeBroadcast(ctx context.Context, handler Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcast = append(l.broadcast, handler)
	return nil
}

func (l *Local) AnnouncePresence(ctx context.Context, serverID string, metadata map[string]interface{}) error {
	l.mu.Lock()
	handlers := append([]PresenceHandler{}, l.presence...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(PresenceOnline, serverID, metadata)
	}
	return nil
}

func (l *Local) AnnounceShutdown(ctx context.Context, serverID string) error {
	l.mu.Lock()
	handlers := append([]PresenceHandler{}, l.presence...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(PresenceOffline, serverID, nil)
	}
	return nil
}

func (l *Local) SubscribePresence(ctx context.Context, handler PresenceHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.presence = append(l.presence, handler)
	return nil
}

func (l *Local) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	channels := len(l.docHandlers)
	handlers := len(l.broadcast) + len(l.presence)
	for _, hs := range l.docHandlers {
		handlers += len(hs)
	}
	return Stats{Connected: l.connected, SubscribedChannels: channels, RegisteredHandlers: handlers}
}

var _ PubSub = (*Local)(nil)
