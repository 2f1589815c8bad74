package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalDocRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	require.NoError(t, l.Connect(ctx))
	require.True(t, l.IsConnected())

	received := make(chan map[string]interface{}, 1)
	require.NoError(t, l.SubscribeDoc(ctx, "doc1", func(payload map[string]interface{}) {
		received <- payload
	}))

	require.NoError(t, l.PublishDoc(ctx, "doc1", map[string]interface{}{"x": 1.0}))

	select {
	case payload := <-received:
		require.Equal(t, 1.0, payload["x"])
	case <-time.After(time.Second):
		t.Fatal("did not receive published payload")
	}

	stats := l.Stats()
	require.Equal(t, 1, stats.SubscribedChannels)
	require.Equal(t, 1, stats.RegisteredHandlers)

	require.NoError(t, l.UnsubscribeDoc(ctx, "doc1"))
	require.Equal(t, 0, l.Stats().SubscribedChannels)
}

func TestLocalDocIsolatedByDocID(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	require.NoError(t, l.Connect(ctx))

	var gotOther bool
	require.NoError(t, l.SubscribeDoc(ctx, "other", func(payload map[string]interface{}) {
		gotOther = true
	}))
	require.NoError(t, l.PublishDoc(ctx, "doc1", map[string]interface{}{"x": 1.0}))

	require.False(t, gotOther)
}

func TestLocalBroadcastRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	require.NoError(t, l.Connect(ctx))

	var count int
	require.NoError(t, l.SubscribeBroadcast(ctx, func(payload map[string]interface{}) { count++ }))
	require.NoError(t, l.SubscribeBroadcast(ctx, func(payload map[string]interface{}) { count++ }))

	require.NoError(t, l.PublishBroadcast(ctx, map[string]interface{}{"event": "ping"}))
	require.Equal(t, 2, count)
}

func TestLocalPresenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	require.NoError(t, l.Connect(ctx))

	var events []PresenceEvent
	var servers []string
	require.NoError(t, l.SubscribePresence(ctx, func(event PresenceEvent, serverID string, metadata map[string]interface{}) {
		events = append(events, event)
		servers = append(servers, serverID)
	}))

	require.NoError(t, l.AnnouncePresence(ctx, "server-a", map[string]interface{}{"region": "us"}))
	require.NoError(t, l.AnnounceShutdown(ctx, "server-a"))

	require.Equal(t, []PresenceEvent{PresenceOnline, PresenceOffline}, events)
	require.Equal(t, []string{"server-a", "server-a"}, servers)
}

func TestLocalDisconnect(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	require.NoError(t, l.Connect(ctx))
	require.True(t, l.IsConnected())
	require.NoError(t, l.Disconnect(ctx))
	require.False(t, l.IsConnected())
}

func TestBackoffPolicyDelayGrowsAndCaps(t *testing.T) {
	policy := DefaultPolicy()
	require.Equal(t, 50*time.Millisecond, policy.Delay(0))
	require.Equal(t, 100*time.Millisecond, policy.Delay(1))
	require.Equal(t, 200*time.Millisecond, policy.Delay(2))
	require.Equal(t, policy.Max, policy.Delay(20))
}

func TestRetrySucceedsEventually(t *testing.T) {
	policy := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2, MaxRetries: 3}
	attempts := 0
	err := Retry(policy, func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	policy := Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2, MaxRetries: 2}
	attempts := 0
	err := Retry(policy, func() error {
		attempts++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 3, attempts)
}

func TestEtcdChannelKeyConstruction(t *testing.T) {
	e := NewEtcd([]string{"http://localhost:2379"}, "synckit:")
	require.Equal(t, "synckit:doc:doc1", e.docKey("doc1"))
	require.Equal(t, "synckit:broadcast", e.broadcastKey())
	require.Equal(t, "synckit:presence", e.presenceKey())
}

func TestEtcdStatsBeforeConnect(t *testing.T) {
	e := NewEtcd([]string{"http://localhost:2379"}, "synckit:")
	stats := e.Stats()
	require.False(t, stats.Connected)
	require.Equal(t, 0, stats.SubscribedChannels)
}
