// Package hub implements the connection registry, document rooms,
// awareness bookkeeping, and message dispatch that together make up
// the server's real-time core.
package hub

import (
	"sync"
	"time"

	"github.com/synckit/synckit-server/internal/auth"
	"github.com/synckit/synckit-server/internal/metrics"
	"github.com/synckit/synckit-server/internal/wire"
)

// Sender abstracts the transport a Connection writes frames to, so the
// dispatch and room logic can be tested without a live websocket.
type Sender interface {
	Send(frame []byte) error
}

// Connection is exclusively owned by the Hub; nothing outside this
// package mutates it directly.
type Connection struct {
	ID         string
	RemoteAddr string
	Sender     Sender

	mu                   sync.Mutex
	userID               string
	clientID             string
	authenticated        bool
	permissions          auth.Permissions
	subscriptions        map[string]struct{}
	awarenessSubscribed  map[string]struct{}
	startedAt            time.Time
}

func newConnection(id, remoteAddr string, sender Sender) *Connection {
	return &Connection{
		ID:                  id,
		RemoteAddr:           remoteAddr,
		Sender:               sender,
		subscriptions:        make(map[string]struct{}),
		awarenessSubscribed:  make(map[string]struct{}),
		startedAt:            time.Now(),
	}
}

func (c *Connection) authenticate(userID, clientID string, perms auth.Permissions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.clientID = clientID
	c.permissions = perms
	c.authenticated = true
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Connection) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) Permissions() auth.Permissions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permissions
}

// addSubscription records docID as subscribed, reporting whether this
// was the connection's first subscription of any kind (for the
// subscribers-active gauge).
func (c *Connection) addSubscription(docID string) (firstSubscription bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	firstSubscription = len(c.subscriptions) == 0
	c.subscriptions[docID] = struct{}{}
	return firstSubscription
}

// removeSubscription drops docID, reporting whether it was actually
// subscribed and its removal left the connection with none at all —
// unsubscribing from a document never subscribed to is a no-op and
// must not report a transition.
func (c *Connection) removeSubscription(docID string) (lastSubscriptionRemoved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, had := c.subscriptions[docID]; !had {
		return false
	}
	delete(c.subscriptions, docID)
	return len(c.subscriptions) == 0
}

func (c *Connection) addAwarenessSubscription(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awarenessSubscribed[docID] = struct{}{}
}

func (c *Connection) subscribedDocuments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for docID := range c.subscriptions {
		out = append(out, docID)
	}
	return out
}

func (c *Connection) send(frame []byte) error {
	return c.Sender.Send(frame)
}

// sendMessage encodes and sends a named message, logging is the
// caller's responsibility.
func (c *Connection) sendMessage(typeName string, payload map[string]interface{}) error {
	frame, err := wire.Encode(typeName, payload, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if err := c.send(frame); err != nil {
		return err
	}
	metrics.MessagesSentTotal.WithLabelValues(typeName).Inc()
	return nil
}

func (c *Connection) sendError(code, message string) error {
	return c.sendMessage("error", map[string]interface{}{"code": code, "message": message})
}
