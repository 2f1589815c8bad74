package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/synckit/synckit-server/internal/auth"
	"github.com/synckit/synckit-server/internal/docid"
	"github.com/synckit/synckit-server/internal/metrics"
	"github.com/synckit/synckit-server/internal/ops"
	"github.com/synckit/synckit-server/internal/pubsub"
	"github.com/synckit/synckit-server/internal/ratelimit"
	"github.com/synckit/synckit-server/internal/storage"
)

const awarenessGCInterval = 30 * time.Second
const awarenessMaxSilence = 30 * time.Second

// Config is every external collaborator and policy knob the hub needs
// at construction; built once at startup and passed in, never read
// from a package-level singleton (§9's "explicit server context"
// design note).
type Config struct {
	ServerID     string
	AuthRequired bool

	Store     storage.Store
	PubSub    pubsub.PubSub
	Verifier  *auth.Verifier
	Namespace docid.PublicNamespaceRules
	Logger    ops.Logger

	ConnLimiter       *ratelimit.ConnectionLimiter
	IPMessageLimiter  *ratelimit.MessageLimiter
	ConnMessageLimiter *ratelimit.MessageLimiter
	DocLimiter        *ratelimit.DocumentCreationLimiter

	MaxFieldValueSize     int
	MaxFieldsPerDocument  int
}

// Hub owns every connection, document room, and awareness sweep for
// one server process. Its registry lock guards membership only; each
// room guards its own state, per §5's locking discipline.
type Hub struct {
	cfg Config

	mu          sync.RWMutex
	connections map[string]*Connection
	rooms       map[string]*room

	dispatchTable map[string]handlerFunc

	gcStop chan struct{}
	gcDone chan struct{}
}

type handlerFunc func(h *Hub, c *Connection, msg inboundMessage) error

// New constructs a Hub bound to cfg. Call Start to begin the awareness
// GC sweep and pubsub cross-instance subscriptions, and Shutdown to
// unwind both in reverse.
func New(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = ops.NewNoop()
	}
	if cfg.MaxFieldValueSize <= 0 {
		cfg.MaxFieldValueSize = 10_000
	}
	if cfg.MaxFieldsPerDocument <= 0 {
		cfg.MaxFieldsPerDocument = 1000
	}
	h := &Hub{
		cfg:         cfg,
		connections: make(map[string]*Connection),
		rooms:       make(map[string]*room),
	}
	h.dispatchTable = buildDispatchTable()
	return h
}

func newConnectionID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Start begins the background awareness GC sweep and, when a pub/sub
// adapter is configured, the broadcast-channel subscription used for
// cross-instance convergence. It does not subscribe to the presence
// channel.
func (h *Hub) Start(ctx context.Context) error {
	if h.cfg.PubSub != nil {
		if err := h.cfg.PubSub.SubscribeBroadcast(ctx, func(payload map[string]interface{}) {
			h.handleRemoteBroadcast(payload)
		}); err != nil {
			return fmt.Errorf("hub: subscribing broadcast channel: %w", err)
		}
	}

	h.gcStop = make(chan struct{})
	h.gcDone = make(chan struct{})
	go h.awarenessGCLoop()
	return nil
}

// Shutdown announces this server as offline, stops the awareness GC,
// and drops in-memory registries. Storage/pubsub disconnects are the
// caller's responsibility (cmd/synckit-server owns their lifecycle).
func (h *Hub) Shutdown(ctx context.Context) {
	if h.cfg.PubSub != nil {
		if err := h.cfg.PubSub.AnnounceShutdown(ctx, h.cfg.ServerID); err != nil {
			h.cfg.Logger.Warn("failed to announce shutdown on presence channel", log.Fields{"err": err.Error()})
		}
	}
	if h.gcStop != nil {
		close(h.gcStop)
		<-h.gcDone
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections = make(map[string]*Connection)
	h.rooms = make(map[string]*room)
}

// Register admits a new connection into the hub registry. Callers
// (the websocket transport binding) are responsible for per-IP
// connection-limit admission before calling Register.
func (h *Hub) Register(remoteAddr string, sender Sender) *Connection {
	c := newConnection(newConnectionID(), remoteAddr, sender)
	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()
	return c
}

// Unregister removes a connection from every registry it appears in:
// the connection table, every room's subscriber set, and every room's
// awareness map, per §4.7's disconnect behavior.
func (h *Hub) Unregister(c *Connection) {
	h.mu.Lock()
	delete(h.connections, c.ID)
	h.mu.Unlock()

	clientID := c.ClientID()
	docIDs := c.subscribedDocuments()
	if len(docIDs) > 0 {
		metrics.SubscribersActive.Dec()
	}
	c.mu.Lock()
	for docID := range c.awarenessSubscribed {
		if _, subscribed := c.subscriptions[docID]; !subscribed {
			docIDs = append(docIDs, docID)
		}
	}
	c.mu.Unlock()
	for _, docID := range docIDs {
		r := h.getRoom(docID)
		if r == nil {
			continue
		}
		r.removeSubscriber(c.ID)
		if clientID != "" && r.removeAwareness(clientID) {
			h.broadcastAwarenessRemoval(docID, clientID, c.ID)
		}
		h.pruneRoomIfEmpty(docID)
	}

	if h.cfg.ConnLimiter != nil {
		h.cfg.ConnLimiter.Release(ipFromRemoteAddr(c.RemoteAddr))
	}
	if h.cfg.ConnMessageLimiter != nil {
		h.cfg.ConnMessageLimiter.Remove(c.ID)
	}
}

func (h *Hub) getRoom(docID string) *room {
	h.mu.RLock()
	r := h.rooms[docID]
	h.mu.RUnlock()
	return r
}

func (h *Hub) getOrCreateRoom(docID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[docID]
	if !ok {
		r = newRoom(docID)
		h.rooms[docID] = r
		metrics.DocumentsActive.Inc()
	}
	return r
}

// getOrCreateRoomForIP behaves like getOrCreateRoom but, when docID has
// no room yet, first checks ip against the per-IP document-creation
// limiter (§4.3) before creating one. ok is false when the limiter
// denies the creation, with reason set to its denial message.
func (h *Hub) getOrCreateRoomForIP(docID, ip string) (r *room, ok bool, reason string) {
	h.mu.RLock()
	existing, found := h.rooms[docID]
	h.mu.RUnlock()
	if found {
		return existing, true, ""
	}

	if h.cfg.DocLimiter != nil {
		if admitted, denyReason := h.cfg.DocLimiter.Admit(ip); !admitted {
			return nil, false, denyReason
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, found := h.rooms[docID]; found {
		return existing, true, ""
	}
	r = newRoom(docID)
	h.rooms[docID] = r
	metrics.DocumentsActive.Inc()
	return r, true, ""
}

func (h *Hub) pruneRoomIfEmpty(docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[docID]
	if ok && r.isEmpty() {
		delete(h.rooms, docID)
		metrics.DocumentsActive.Dec()
	}
}

func (h *Hub) connectionByID(id string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections[id]
}

// broadcastToRoom sends a frame to every subscriber of docID except
// the connections listed in exclude. typeName labels the sent-message
// metric; it is the caller's responsibility to pass the same type name
// it encoded frame with.
func (h *Hub) broadcastToRoom(docID, typeName string, frame []byte, exclude ...string) {
	r := h.getRoom(docID)
	if r == nil {
		return
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	for _, connID := range r.subscriberIDs() {
		if _, excluded := skip[connID]; excluded {
			continue
		}
		conn := h.connectionByID(connID)
		if conn == nil {
			continue
		}
		if err := conn.send(frame); err != nil {
			h.cfg.Logger.Warn("failed to deliver frame to subscriber", log.Fields{"connId": connID, "docId": docID, "err": err.Error()})
			continue
		}
		metrics.MessagesSentTotal.WithLabelValues(typeName).Inc()
	}
}

func (h *Hub) broadcastAwarenessRemoval(docID, clientID, excludeConnID string) {
	frame, err := encodeAwarenessUpdate(docID, clientID, nil)
	if err != nil {
		h.cfg.Logger.Warn("failed to encode awareness removal", log.Fields{"docId": docID, "err": err.Error()})
		return
	}
	h.broadcastToRoom(docID, "awareness_update", frame, excludeConnID)
}

func (h *Hub) awarenessGCLoop() {
	defer close(h.gcDone)
	ticker := time.NewTicker(awarenessGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.gcStop:
			return
		case <-ticker.C:
			h.sweepAwareness()
		}
	}
}

func (h *Hub) sweepAwareness() {
	cutoff := time.Now().Add(-awarenessMaxSilence).Unix()

	h.mu.RLock()
	docIDs := make([]string, 0, len(h.rooms))
	for docID := range h.rooms {
		docIDs = append(docIDs, docID)
	}
	h.mu.RUnlock()

	for _, docID := range docIDs {
		r := h.getRoom(docID)
		if r == nil {
			continue
		}
		for _, clientID := range r.sweepStaleAwareness(cutoff) {
			h.broadcastAwarenessRemoval(docID, clientID, "")
		}
		h.pruneRoomIfEmpty(docID)
	}
}
