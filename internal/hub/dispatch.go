package hub

import (
	log "github.com/sirupsen/logrus"

	"github.com/synckit/synckit-server/internal/metrics"
	"github.com/synckit/synckit-server/internal/wire"
)

// inboundMessage is the decoded frame plus the caller's reply id, a
// client-supplied correlation field (§8 scenario 1: "Client sends type
// ping, id 'p1' ... Server replies type pong, id 'p1'") carried through
// untouched wherever present.
type inboundMessage struct {
	*wire.Message
	replyID interface{}
}

func newInboundMessage(msg *wire.Message) inboundMessage {
	id, _ := msg.Field("id")
	return inboundMessage{Message: msg, replyID: id}
}

func (m inboundMessage) withReplyID(payload map[string]interface{}) map[string]interface{} {
	if m.replyID != nil {
		payload["id"] = m.replyID
	}
	return payload
}

func buildDispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"auth":                handleAuth,
		"subscribe":           handleSubscribe,
		"unsubscribe":         handleUnsubscribe,
		"sync_request":        handleSyncRequest,
		"sync_step1":          handleSyncRelay,
		"sync_step2":          handleSyncRelay,
		"delta":               handleDelta,
		"delta_batch":         handleDeltaBatch,
		"ping":                handlePing,
		"awareness_update":    handleAwarenessUpdate,
		"awareness_subscribe": handleAwarenessSubscribe,
	}
}

// knownWireTypes is the full closed set of type names in the codec's
// type-code table (§4.1). A frame whose type name isn't in this set at
// all is UNKNOWN_MESSAGE_TYPE.
var knownWireTypes = map[string]struct{}{
	"auth": {}, "auth_success": {}, "auth_error": {},
	"subscribe": {}, "unsubscribe": {},
	"sync_request": {}, "sync_response": {}, "sync_step1": {}, "sync_step2": {},
	"delta": {}, "ack": {}, "delta_batch": {},
	"ping": {}, "pong": {},
	"awareness_update": {}, "awareness_subscribe": {}, "awareness_state": {},
	"error": {},
}

// allowedInboundTypes is the whitelist of types a client may send,
// per §4.8. A type that's part of the closed wire set but is
// server-to-client only (e.g. "ack", "pong", "auth_success", "error")
// is rejected as INVALID_MESSAGE rather than dispatched.
var allowedInboundTypes = map[string]struct{}{
	"auth": {}, "subscribe": {}, "unsubscribe": {},
	"sync_request": {}, "sync_step1": {}, "sync_step2": {},
	"delta": {}, "delta_batch": {},
	"ping":                {},
	"awareness_update":    {},
	"awareness_subscribe": {},
}

// Dispatch decodes one inbound frame, applies rate-limit and shape
// gating, and routes it through the handler table (C8). A decode
// failure is transport-fatal and returned to the caller, which closes
// the connection per §7.
func (h *Hub) Dispatch(c *Connection, frame []byte, remoteIP string) error {
	msg, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	metrics.MessagesReceivedTotal.WithLabelValues(msg.TypeName).Inc()
	in := newInboundMessage(msg)

	if h.cfg.IPMessageLimiter != nil && !h.cfg.IPMessageLimiter.Admit(remoteIP) {
		metrics.RateLimitDenialsTotal.WithLabelValues("ip_message").Inc()
		return h.replyError(c, in.replyID, CodeRateLimitExceeded, "message rate limit exceeded")
	}
	if h.cfg.ConnMessageLimiter != nil && !h.cfg.ConnMessageLimiter.Admit(c.ID) {
		metrics.RateLimitDenialsTotal.WithLabelValues("connection_message").Inc()
		return h.replyError(c, in.replyID, CodeRateLimitExceeded, "message rate limit exceeded")
	}

	if _, known := knownWireTypes[msg.TypeName]; !known {
		metrics.MessagesRejectedTotal.WithLabelValues("unknown_type").Inc()
		return h.replyError(c, in.replyID, CodeUnknownMessageType, "no handler for message type "+msg.TypeName)
	}
	if _, allowed := allowedInboundTypes[msg.TypeName]; !allowed {
		metrics.MessagesRejectedTotal.WithLabelValues("invalid_message").Inc()
		return h.replyError(c, in.replyID, CodeInvalidMessage, "message type is not a valid client-to-server type")
	}

	handler, ok := h.dispatchTable[msg.TypeName]
	if !ok {
		metrics.MessagesRejectedTotal.WithLabelValues("unknown_type").Inc()
		return h.replyError(c, in.replyID, CodeUnknownMessageType, "no handler for message type "+msg.TypeName)
	}

	if err := handler(h, c, in); err != nil {
		h.cfg.Logger.Error("handler returned error", log.Fields{"type": msg.TypeName, "connId": c.ID, "err": err.Error()})
	}
	return nil
}

func (h *Hub) replyError(c *Connection, replyID interface{}, code, message string) error {
	payload := map[string]interface{}{"code": code, "message": message}
	if replyID != nil {
		payload["id"] = replyID
	}
	return c.sendMessage("error", payload)
}
