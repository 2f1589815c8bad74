package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synckit/synckit-server/internal/auth"
	"github.com/synckit/synckit-server/internal/docid"
	"github.com/synckit/synckit-server/internal/ratelimit"
	"github.com/synckit/synckit-server/internal/wire"
)

// fakeSender records every frame sent to it, decoded for assertions.
type fakeSender struct {
	received []*wire.Message
}

func (s *fakeSender) Send(frame []byte) error {
	msg, err := wire.Decode(frame)
	if err != nil {
		return err
	}
	s.received = append(s.received, msg)
	return nil
}

func (s *fakeSender) last() *wire.Message {
	if len(s.received) == 0 {
		return nil
	}
	return s.received[len(s.received)-1]
}

func newTestHub() *Hub {
	return New(Config{
		ServerID:     "test-server",
		AuthRequired: true,
		Verifier:     auth.NewVerifier("a-test-secret-that-is-long-enough"),
		Namespace:    docid.PublicNamespaceRules{PlaygroundID: "playground"},
	})
}

func connectAndAuth(t *testing.T, h *Hub, verifier *auth.Verifier, perms auth.Permissions) (*Connection, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	c := h.Register("127.0.0.1", sender)

	token, err := verifier.IssueAccessToken("user1", "user1@example.com", perms, time.Hour)
	require.NoError(t, err)

	frame, err := wire.Encode("auth", map[string]interface{}{"token": token}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))

	last := sender.last()
	require.Equal(t, "auth_success", last.TypeName)
	return c, sender
}

func TestPingPongScenario(t *testing.T) {
	h := newTestHub()
	sender := &fakeSender{}
	c := h.Register("127.0.0.1", sender)

	frame, err := wire.Encode("ping", map[string]interface{}{"id": "p1"}, 1000)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))

	last := sender.last()
	require.Equal(t, "pong", last.TypeName)
	require.Equal(t, "p1", last.Payload["id"])
}

func TestUnauthenticatedSubscribeRejected(t *testing.T) {
	h := newTestHub()
	sender := &fakeSender{}
	c := h.Register("127.0.0.1", sender)

	frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:lobby"}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))

	last := sender.last()
	require.Equal(t, "error", last.TypeName)
	require.Equal(t, CodeNotAuthenticated, last.Payload["code"])

	r := h.getRoom("room:lobby")
	require.Nil(t, r)
}

func TestPublicNamespaceAnonymousRead(t *testing.T) {
	h := New(Config{
		ServerID:     "test-server",
		AuthRequired: false,
		Verifier:     auth.NewVerifier("a-test-secret-that-is-long-enough"),
		Namespace:    docid.PublicNamespaceRules{PlaygroundID: "playground"},
	})
	sender := &fakeSender{}
	c := h.Register("127.0.0.1", sender)

	authFrame, err := wire.Encode("auth", map[string]interface{}{}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, authFrame, "127.0.0.1"))
	require.Equal(t, "auth_success", sender.last().TypeName)

	subFrame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "playground:demo"}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, subFrame, "127.0.0.1"))

	last := sender.last()
	require.Equal(t, "sync_response", last.TypeName)
	require.Equal(t, "playground:demo", last.Payload["docId"])
}

func TestDeltaFanOutExcludesSender(t *testing.T) {
	h := newTestHub()
	verifier := h.cfg.Verifier
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}

	connA, senderA := connectAndAuth(t, h, verifier, perms)
	connB, senderB := connectAndAuth(t, h, verifier, perms)
	connC, senderC := connectAndAuth(t, h, verifier, perms)

	for _, c := range []*Connection{connA, connB, connC} {
		frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:alpha"}, 0)
		require.NoError(t, err)
		require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
	}
	senderA.received = nil
	senderB.received = nil
	senderC.received = nil

	deltaFrame, err := wire.Encode("delta", map[string]interface{}{
		"docId": "room:alpha", "changes": map[string]interface{}{"x": 1.0},
	}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(connA, deltaFrame, "127.0.0.1"))

	require.Len(t, senderA.received, 1)
	require.Equal(t, "ack", senderA.received[0].TypeName)

	require.Len(t, senderB.received, 1)
	require.Equal(t, "delta", senderB.received[0].TypeName)
	changesB := senderB.received[0].Payload["changes"].(map[string]interface{})
	require.Equal(t, 1.0, changesB["x"])

	require.Len(t, senderC.received, 1)
	require.Equal(t, "delta", senderC.received[0].TypeName)
}

func TestRateLimitTrip(t *testing.T) {
	h := New(Config{
		ServerID:         "test-server",
		AuthRequired:     false,
		Verifier:         auth.NewVerifier("a-test-secret-that-is-long-enough"),
		Namespace:        docid.PublicNamespaceRules{PlaygroundID: "playground"},
		ConnMessageLimiter: ratelimit.NewMessageLimiter(2, time.Minute),
	})
	sender := &fakeSender{}
	c := h.Register("127.0.0.1", sender)

	frame, err := wire.Encode("ping", map[string]interface{}{}, 0)
	require.NoError(t, err)

	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
	require.Equal(t, "pong", sender.last().TypeName)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
	require.Equal(t, "pong", sender.last().TypeName)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
	require.Equal(t, "error", sender.last().TypeName)
	require.Equal(t, CodeRateLimitExceeded, sender.last().Payload["code"])
}

func TestInvalidDocumentIDRejected(t *testing.T) {
	h := newTestHub()
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	c, sender := connectAndAuth(t, h, h.cfg.Verifier, perms)

	frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "bad id!"}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))

	require.Equal(t, "error", sender.last().TypeName)
	require.Equal(t, CodeInvalidDocumentID, sender.last().Payload["code"])
}

func TestUnsubscribeRemovesFromRoom(t *testing.T) {
	h := newTestHub()
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	c, _ := connectAndAuth(t, h, h.cfg.Verifier, perms)

	subFrame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:alpha"}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, subFrame, "127.0.0.1"))

	r := h.getRoom("room:alpha")
	require.NotNil(t, r)
	require.Len(t, r.subscriberIDs(), 1)

	unsubFrame, err := wire.Encode("unsubscribe", map[string]interface{}{"docId": "room:alpha"}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, unsubFrame, "127.0.0.1"))

	require.Nil(t, h.getRoom("room:alpha"))
}

func TestAwarenessEvictionOnDisconnect(t *testing.T) {
	h := newTestHub()
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	connA, _ := connectAndAuth(t, h, h.cfg.Verifier, perms)
	connB, senderB := connectAndAuth(t, h, h.cfg.Verifier, perms)

	for _, c := range []*Connection{connA, connB} {
		frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:alpha"}, 0)
		require.NoError(t, err)
		require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
	}

	awareFrame, err := wire.Encode("awareness_update", map[string]interface{}{
		"docId": "room:alpha", "state": map[string]interface{}{"cursor": 5.0},
	}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(connA, awareFrame, "127.0.0.1"))

	senderB.received = nil
	h.Unregister(connA)

	require.Len(t, senderB.received, 1)
	require.Equal(t, "awareness_update", senderB.received[0].TypeName)
	require.Nil(t, senderB.received[0].Payload["state"])
}

func TestAwarenessGCSweepEvictsStaleEntry(t *testing.T) {
	h := newTestHub()
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	connA, _ := connectAndAuth(t, h, h.cfg.Verifier, perms)
	connB, senderB := connectAndAuth(t, h, h.cfg.Verifier, perms)

	for _, c := range []*Connection{connA, connB} {
		frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:alpha"}, 0)
		require.NoError(t, err)
		require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
	}

	r := h.getRoom("room:alpha")
	require.NotNil(t, r)
	r.setAwareness(connA.ClientID(), map[string]interface{}{"cursor": 1.0}, time.Now().Add(-time.Minute))

	senderB.received = nil
	h.sweepAwareness()

	require.Len(t, senderB.received, 1)
	require.Equal(t, "awareness_update", senderB.received[0].TypeName)
	require.Nil(t, senderB.received[0].Payload["state"])
}

func TestPermissionDeniedOnWrite(t *testing.T) {
	h := newTestHub()
	readOnly := auth.Permissions{CanRead: []string{"*"}}
	c, sender := connectAndAuth(t, h, h.cfg.Verifier, readOnly)

	subFrame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:alpha"}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, subFrame, "127.0.0.1"))

	deltaFrame, err := wire.Encode("delta", map[string]interface{}{
		"docId": "room:alpha", "changes": map[string]interface{}{"x": 1.0},
	}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, deltaFrame, "127.0.0.1"))

	require.Equal(t, "error", sender.last().TypeName)
	require.Equal(t, CodePermissionDenied, sender.last().Payload["code"])
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	h := newTestHub()
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	c, sender := connectAndAuth(t, h, h.cfg.Verifier, perms)

	frame, err := wire.EncodeTextual("frobnicate", map[string]interface{}{}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))

	require.Equal(t, "error", sender.last().TypeName)
	require.Equal(t, CodeUnknownMessageType, sender.last().Payload["code"])
}

// TestDocumentCreationLimiterGatesSubscribe proves the per-IP document
// creation cap actually gates room creation through the hub, not just
// the limiter in isolation. It exercises the hourly cap rather than the
// lifetime cap, since the latter needs a fake clock the limiter only
// exposes within its own package (see ratelimit.TestDocumentCreationLimiterLifetimeCap).
func TestDocumentCreationLimiterGatesSubscribe(t *testing.T) {
	h := New(Config{
		ServerID:     "test-server",
		AuthRequired: true,
		Verifier:     auth.NewVerifier("a-test-secret-that-is-long-enough"),
		Namespace:    docid.PublicNamespaceRules{PlaygroundID: "playground"},
		DocLimiter:   ratelimit.NewDocumentCreationLimiter(128, time.Hour),
	})
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	c, sender := connectAndAuth(t, h, h.cfg.Verifier, perms)

	for i := 0; i < ratelimit.MaxDocumentsPerHour; i++ {
		docID := "room:doc" + string(rune('a'+i))
		frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": docID}, 0)
		require.NoError(t, err)
		require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
		require.Equal(t, "sync_response", sender.last().TypeName)
	}

	frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:onemore"}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))

	require.Equal(t, "error", sender.last().TypeName)
	require.Equal(t, CodeRateLimitExceeded, sender.last().Payload["code"])
}

// TestDocumentCreationLimiterDoesNotGateExistingRoom proves
// getOrCreateRoomForIP only consumes the limiter for brand-new rooms:
// re-subscribing to an already-created document must never be denied.
func TestDocumentCreationLimiterDoesNotGateExistingRoom(t *testing.T) {
	h := New(Config{
		ServerID:     "test-server",
		AuthRequired: true,
		Verifier:     auth.NewVerifier("a-test-secret-that-is-long-enough"),
		Namespace:    docid.PublicNamespaceRules{PlaygroundID: "playground"},
		DocLimiter:   ratelimit.NewDocumentCreationLimiter(128, time.Hour),
	})
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	c, sender := connectAndAuth(t, h, h.cfg.Verifier, perms)

	for i := 0; i < ratelimit.MaxDocumentsPerHour; i++ {
		frame, err := wire.Encode("subscribe", map[string]interface{}{"docId": "room:shared"}, 0)
		require.NoError(t, err)
		require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))
		require.Equal(t, "sync_response", sender.last().TypeName)
	}
}

func TestServerOnlyTypeRejectedAsInvalidMessage(t *testing.T) {
	h := newTestHub()
	perms := auth.Permissions{CanRead: []string{"*"}, CanWrite: []string{"*"}}
	c, sender := connectAndAuth(t, h, h.cfg.Verifier, perms)

	frame, err := wire.Encode("pong", map[string]interface{}{}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(c, frame, "127.0.0.1"))

	require.Equal(t, "error", sender.last().TypeName)
	require.Equal(t, CodeInvalidMessage, sender.last().Payload["code"])
}
