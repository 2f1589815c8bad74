package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nsf/jsondiff"
	log "github.com/sirupsen/logrus"

	"github.com/synckit/synckit-server/internal/auth"
	"github.com/synckit/synckit-server/internal/docid"
	"github.com/synckit/synckit-server/internal/metrics"
	"github.com/synckit/synckit-server/internal/wire"
)

func handleAuth(h *Hub, c *Connection, msg inboundMessage) error {
	payload := msg.AsAuth()

	if payload.Token == "" {
		if h.cfg.AuthRequired {
			metrics.AuthFailuresTotal.Inc()
			return c.sendMessage("auth_error", msg.withReplyID(map[string]interface{}{"code": CodeAuthRequired}))
		}
		c.authenticate("", anonymousClientID(), anonymousPermissions())
		return c.sendMessage("auth_success", msg.withReplyID(map[string]interface{}{"userId": ""}))
	}

	verified, ok := h.cfg.Verifier.Verify(payload.Token)
	if !ok {
		metrics.AuthFailuresTotal.Inc()
		h.cfg.Logger.SecurityEvent("invalid_token", log.Fields{"connId": c.ID})
		return c.sendMessage("auth_error", msg.withReplyID(map[string]interface{}{"code": CodeInvalidToken}))
	}

	clientID := verified.UserID
	c.authenticate(verified.UserID, clientID, verified.Permissions)
	return c.sendMessage("auth_success", msg.withReplyID(map[string]interface{}{"userId": verified.UserID}))
}

func anonymousClientID() string { return newConnectionID() }

// anonymousPermissions grants wildcard, non-admin access, used only
// when auth is not required and no token was presented (§4.7's
// "Authenticated as anonymous, non-admin, wildcard grants").
func anonymousPermissions() auth.Permissions {
	return auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}, IsAdmin: false}
}

func handleSubscribe(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "subscribe requires authentication")
	}
	payload := msg.AsSubscribe()

	if ok, reason := docidValidate(payload.DocID); !ok {
		return h.replyError(c, msg.replyID, CodeInvalidDocumentID, reason)
	}

	publiclyReadable := h.cfg.Namespace.CanAccessDocument(payload.DocID)
	perms := c.Permissions()
	if !publiclyReadable && !perms.CanReadDocument(payload.DocID) {
		return h.replyError(c, msg.replyID, CodePermissionDenied, "not permitted to read this document")
	}

	r, ok, reason := h.getOrCreateRoomForIP(payload.DocID, ipFromRemoteAddr(c.RemoteAddr))
	if !ok {
		metrics.RateLimitDenialsTotal.WithLabelValues("document_creation").Inc()
		return h.replyError(c, msg.replyID, CodeRateLimitExceeded, reason)
	}
	h.subscribeToRemoteIfNeeded(payload.DocID, r)

	r.addSubscriber(c.ID)
	if c.addSubscription(payload.DocID) {
		metrics.SubscribersActive.Inc()
	}

	state := r.stateCopy()
	if state == nil {
		state = map[string]interface{}{}
	}
	return c.sendMessage("sync_response", msg.withReplyID(map[string]interface{}{
		"docId": payload.DocID,
		"state": state,
	}))
}

func handleUnsubscribe(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "unsubscribe requires authentication")
	}
	payload := msg.AsUnsubscribe()

	r := h.getRoom(payload.DocID)
	if r != nil {
		r.removeSubscriber(c.ID)
		if clientID := c.ClientID(); clientID != "" && r.removeAwareness(clientID) {
			h.broadcastAwarenessRemoval(payload.DocID, clientID, c.ID)
		}
		h.pruneRoomIfEmptyAndMaybeUnsubscribeRemote(payload.DocID, r)
	}
	if c.removeSubscription(payload.DocID) {
		metrics.SubscribersActive.Dec()
	}
	return nil
}

func handleSyncRequest(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "sync_request requires authentication")
	}
	payload := msg.AsSubscribe() // shares the {docId} shape
	r := h.getRoom(payload.DocID)
	state := map[string]interface{}{}
	if r != nil {
		state = r.stateCopy()
	}
	return c.sendMessage("sync_response", msg.withReplyID(map[string]interface{}{
		"docId": payload.DocID,
		"state": state,
	}))
}

// handleSyncRelay forwards sync_step1/sync_step2 frames verbatim to
// the document's other subscribers: the server only stores and
// replays opaque CRDT state, it does not interpret these steps.
func handleSyncRelay(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "sync requires authentication")
	}
	docID, _ := msg.Field("docId")
	docIDStr, _ := docID.(string)
	if docIDStr == "" {
		return h.replyError(c, msg.replyID, CodeInvalidRequest, "missing docId")
	}
	frame, err := wire.Encode(msg.TypeName, msg.Payload, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	h.broadcastToRoom(docIDStr, msg.TypeName, frame, c.ID)
	return nil
}

func handleDelta(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "delta requires authentication")
	}
	payload := msg.AsDelta()
	if ok, reason := docidValidate(payload.DocID); !ok {
		return h.replyError(c, msg.replyID, CodeInvalidDocumentID, reason)
	}
	if !c.Permissions().CanWriteDocument(payload.DocID) {
		return h.replyError(c, msg.replyID, CodePermissionDenied, "not permitted to write this document")
	}
	if ok, reason := h.validateFieldLimits(payload.Changes); !ok {
		return h.replyError(c, msg.replyID, CodeInvalidRequest, reason)
	}

	if ok, reason := h.applyAndBroadcastDelta(payload.DocID, payload.Changes, c.ID, ipFromRemoteAddr(c.RemoteAddr), msg.Payload); !ok {
		metrics.RateLimitDenialsTotal.WithLabelValues("document_creation").Inc()
		return h.replyError(c, msg.replyID, CodeRateLimitExceeded, reason)
	}

	return c.sendMessage("ack", msg.withReplyID(map[string]interface{}{"docId": payload.DocID}))
}

func handleDeltaBatch(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "delta_batch requires authentication")
	}
	batch := msg.AsDeltaBatch()
	ip := ipFromRemoteAddr(c.RemoteAddr)

	applied := 0
	for _, d := range batch.Deltas {
		if ok, _ := docidValidate(d.DocID); !ok {
			continue
		}
		if !c.Permissions().CanWriteDocument(d.DocID) {
			continue
		}
		if ok, _ := h.validateFieldLimits(d.Changes); !ok {
			continue
		}
		framePayload := map[string]interface{}{"docId": d.DocID, "changes": d.Changes}
		if ok, _ := h.applyAndBroadcastDelta(d.DocID, d.Changes, c.ID, ip, framePayload); !ok {
			metrics.RateLimitDenialsTotal.WithLabelValues("document_creation").Inc()
			continue
		}
		applied++
	}

	return c.sendMessage("ack", msg.withReplyID(map[string]interface{}{
		"docId": batch.DocID,
		"count": applied,
	}))
}

// applyAndBroadcastDelta merges changes into the room (C7), broadcasts
// the original frame to local subscribers excluding the sender, and —
// when a clustered pub/sub backend is configured — publishes it for
// convergence on peer instances, tagged with this server's id so the
// inbound listener can recognize and skip its own echo (§9). When docID
// has no room yet, creating one is gated by ip against the document
// creation limiter (§4.3); ok is false and reason explains why on
// denial, in which case nothing is applied or broadcast.
func (h *Hub) applyAndBroadcastDelta(docID string, changes map[string]interface{}, senderConnID, ip string, originalPayload map[string]interface{}) (ok bool, reason string) {
	r, ok, reason := h.getOrCreateRoomForIP(docID, ip)
	if !ok {
		return false, reason
	}
	h.subscribeToRemoteIfNeeded(docID, r)
	before, after := r.applyChanges(changes)
	metrics.DeltasAppliedTotal.WithLabelValues("local").Inc()
	h.logDeltaDiff(docID, before, after)

	frame, err := wire.Encode("delta", originalPayload, time.Now().UnixMilli())
	if err != nil {
		h.cfg.Logger.Error("failed to encode delta for broadcast", log.Fields{"docId": docID, "err": err.Error()})
		return true, ""
	}
	h.broadcastToRoom(docID, "delta", frame, senderConnID)

	if h.cfg.Store != nil {
		go func() {
			if err := h.cfg.Store.SaveDelta(context.Background(), docID, changes); err != nil {
				metrics.StorageErrorsTotal.WithLabelValues("save_delta").Inc()
				h.cfg.Logger.Warn("failed to persist delta", log.Fields{"docId": docID, "err": err.Error()})
			}
		}()
	}

	if h.cfg.PubSub != nil {
		go func() {
			out := map[string]interface{}{"docId": docID, "changes": changes, "serverId": h.cfg.ServerID}
			if err := h.cfg.PubSub.PublishDoc(context.Background(), docID, out); err != nil {
				h.cfg.Logger.Warn("failed to publish delta for cross-instance fan-out", log.Fields{"docId": docID, "err": err.Error()})
			}
		}()
	}
	return true, ""
}

// subscribeToRemoteIfNeeded subscribes this hub's process to a
// document's pub/sub channel the first time the room is created, so
// remote deltas converge into the local room too.
func (h *Hub) subscribeToRemoteIfNeeded(docID string, r *room) {
	if h.cfg.PubSub == nil {
		return
	}
	h.mu.Lock()
	alreadySubscribed := r.remoteSubscribed
	r.remoteSubscribed = true
	h.mu.Unlock()
	if alreadySubscribed {
		return
	}

	if err := h.cfg.PubSub.SubscribeDoc(context.Background(), docID, func(payload map[string]interface{}) {
		h.handleRemoteDelta(docID, payload)
	}); err != nil {
		h.cfg.Logger.Warn("failed to subscribe document channel", log.Fields{"docId": docID, "err": err.Error()})
	}
}

func (h *Hub) pruneRoomIfEmptyAndMaybeUnsubscribeRemote(docID string, r *room) {
	if !r.isEmpty() {
		return
	}
	if h.cfg.PubSub != nil {
		if err := h.cfg.PubSub.UnsubscribeDoc(context.Background(), docID); err != nil {
			h.cfg.Logger.Warn("failed to unsubscribe document channel", log.Fields{"docId": docID, "err": err.Error()})
		}
	}
	h.pruneRoomIfEmpty(docID)
}

// handleRemoteDelta applies a delta received from a peer instance. A
// payload tagged with this server's own id is an echo of a delta this
// instance itself published and is skipped, breaking the cycle §9
// warns about.
func (h *Hub) handleRemoteDelta(docID string, payload map[string]interface{}) {
	originServerID, _ := payload["serverId"].(string)
	if originServerID == h.cfg.ServerID {
		return
	}
	changes, _ := payload["changes"].(map[string]interface{})
	if changes == nil {
		return
	}

	r := h.getRoom(docID)
	if r == nil {
		r = h.getOrCreateRoom(docID)
	}
	before, after := r.applyChanges(changes)
	metrics.DeltasAppliedTotal.WithLabelValues("remote").Inc()
	h.logDeltaDiff(docID, before, after)

	frame, err := wire.Encode("delta", map[string]interface{}{"docId": docID, "changes": changes}, time.Now().UnixMilli())
	if err != nil {
		return
	}
	h.broadcastToRoom(docID, "delta", frame)
}

// handleRemoteBroadcast applies a server-wide event received from a
// peer instance by relaying it to every currently-registered local
// connection, whether or not it is subscribed to any document
// (broadcast has no single room).
func (h *Hub) handleRemoteBroadcast(payload map[string]interface{}) {
	typeName, _ := payload["type"].(string)
	if typeName == "" {
		typeName = "broadcast"
	}
	frame, err := wire.Encode(typeName, payload, time.Now().UnixMilli())
	if err != nil {
		return
	}
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if err := c.send(frame); err == nil {
			metrics.MessagesSentTotal.WithLabelValues(typeName).Inc()
		}
	}
}

func handlePing(h *Hub, c *Connection, msg inboundMessage) error {
	return c.sendMessage("pong", msg.withReplyID(map[string]interface{}{}))
}

func handleAwarenessUpdate(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "awareness_update requires authentication")
	}
	payload := msg.AsAwarenessUpdate()
	if ok, reason := docidValidate(payload.DocID); !ok {
		return h.replyError(c, msg.replyID, CodeInvalidDocumentID, reason)
	}

	clientID := c.ClientID()
	if clientID == "" {
		return h.replyError(c, msg.replyID, CodeInvalidRequest, "connection has no client id")
	}

	r := h.getOrCreateRoom(payload.DocID)
	stamped := r.setAwareness(clientID, payload.State, time.Now())
	c.addAwarenessSubscription(payload.DocID)

	return encodeAndBroadcastAwareness(h, payload.DocID, clientID, stamped, c.ID)
}

func handleAwarenessSubscribe(h *Hub, c *Connection, msg inboundMessage) error {
	if !c.IsAuthenticated() {
		return h.replyError(c, msg.replyID, CodeNotAuthenticated, "awareness_subscribe requires authentication")
	}
	payload := msg.AsSubscribe() // shares the {docId} shape
	c.addAwarenessSubscription(payload.DocID)

	r := h.getRoom(payload.DocID)
	if r == nil {
		return nil
	}
	for clientID, state := range r.snapshotAwareness() {
		if err := c.sendMessage("awareness_state", map[string]interface{}{
			"docId": payload.DocID, "clientId": clientID, "state": state,
		}); err != nil {
			return err
		}
	}
	return nil
}

func encodeAndBroadcastAwareness(h *Hub, docID, clientID string, state map[string]interface{}, excludeConnID string) error {
	frame, err := encodeAwarenessUpdate(docID, clientID, state)
	if err != nil {
		return err
	}
	h.broadcastToRoom(docID, "awareness_update", frame, excludeConnID)
	return nil
}

func encodeAwarenessUpdate(docID, clientID string, state map[string]interface{}) ([]byte, error) {
	return wire.Encode("awareness_update", map[string]interface{}{
		"docId": docID, "clientId": clientID, "state": state,
	}, time.Now().UnixMilli())
}

// validateFieldLimits enforces MAX_FIELD_VALUE_SIZE and
// MAX_FIELDS_PER_DOCUMENT (§6, supplemented from the original
// websocket.py behavior per SPEC_FULL §12).
func (h *Hub) validateFieldLimits(changes map[string]interface{}) (bool, string) {
	if len(changes) > h.cfg.MaxFieldsPerDocument {
		return false, "too many fields in a single delta"
	}
	for name, value := range changes {
		if estimateValueSize(value) > h.cfg.MaxFieldValueSize {
			return false, "field value too large: " + name
		}
	}
	return true, ""
}

func estimateValueSize(v interface{}) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []interface{}:
		total := 0
		for _, item := range val {
			total += estimateValueSize(item)
		}
		return total
	case map[string]interface{}:
		total := 0
		for _, item := range val {
			total += estimateValueSize(item)
		}
		return total
	default:
		return 8
	}
}

func docidValidate(id string) (bool, string) {
	return docid.Validate(id)
}

// logDeltaDiff reports what a delta actually changed in a document's
// state, off the hot path: marshal failures are swallowed rather than
// surfaced, since this is debug-only diagnostics, never a source of
// operation failure.
func (h *Hub) logDeltaDiff(docID string, before, after map[string]interface{}) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return
	}
	opts := jsondiff.DefaultConsoleOptions()
	mode, diff := jsondiff.Compare(beforeJSON, afterJSON, &opts)
	if mode == jsondiff.FullMatch {
		return
	}
	h.cfg.Logger.Debug("delta applied", log.Fields{"docId": docID, "diff": diff})
}
