package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Connect(ctx))
	require.True(t, s.IsConnected())

	doc, err := s.GetDocument(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, doc)

	require.NoError(t, s.SaveDocument(ctx, "doc1", map[string]interface{}{"a": 1.0}))
	doc, err = s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, 1.0, doc.State["a"])

	require.NoError(t, s.UpdateDocument(ctx, "doc1", map[string]interface{}{"a": 2.0}))
	doc, err = s.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, 2, doc.Version)

	err = s.UpdateDocument(ctx, "does-not-exist", map[string]interface{}{})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestMemoryStoreVectorClockMergeIdempotence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Connect(ctx))

	incoming := map[string]int64{"alice": 3, "bob": 5}
	require.NoError(t, s.MergeClock(ctx, "doc1", incoming))
	once, err := s.GetClock(ctx, "doc1")
	require.NoError(t, err)

	require.NoError(t, s.MergeClock(ctx, "doc1", incoming))
	twice, err := s.GetClock(ctx, "doc1")
	require.NoError(t, err)

	require.Equal(t, once, twice)
	require.Equal(t, int64(3), twice["alice"])
	require.Equal(t, int64(5), twice["bob"])
}

func TestMemoryStoreVectorClockPointwiseMax(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.MergeClock(ctx, "doc1", map[string]int64{"alice": 5}))
	require.NoError(t, s.MergeClock(ctx, "doc1", map[string]int64{"alice": 2}))

	clock, err := s.GetClock(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, int64(5), clock["alice"])
}

func TestMemoryStoreDeltasNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.SaveDelta(ctx, "doc1", map[string]interface{}{"x": 1.0}))
	require.NoError(t, s.SaveDelta(ctx, "doc1", map[string]interface{}{"x": 2.0}))

	deltas, err := s.GetDeltas(ctx, "doc1", 10)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	require.Equal(t, 2.0, deltas[0].Changes["x"])
	require.Equal(t, 1.0, deltas[1].Changes["x"])
}

func TestMemoryStoreTextDocumentEnvelope(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.SaveTextDocument(ctx, "doc1", "hello", []byte{1, 2, 3}, map[string]int64{"a": 1}))

	text, err := s.GetTextDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, "hello", text.Content)
	require.Equal(t, int64(1), text.Clock["a"])

	require.NoError(t, s.SaveDocument(ctx, "doc2", map[string]interface{}{"type": "other"}))
	notText, err := s.GetTextDocument(ctx, "doc2")
	require.NoError(t, err)
	require.Nil(t, notText)
}

func TestMemoryStoreCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.SaveSession(ctx, "sess1", "user1", nil))
	s.sessions["sess1"].LastSeen = time.Now().Add(-48 * time.Hour)

	require.NoError(t, s.SaveDelta(ctx, "doc1", map[string]interface{}{"x": 1.0}))
	s.deltas["doc1"][0].CreatedAt = time.Now().Add(-48 * time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, fmt.Sprintf("snap%d", i), "doc1", nil))
	}

	result, err := s.Cleanup(ctx, CleanupOptions{
		SessionMaxAge:      24 * time.Hour,
		DeltaMaxAge:        24 * time.Hour,
		SnapshotKeepLatest: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.SessionsDeleted)
	require.Equal(t, 1, result.DeltasDeleted)
	require.Equal(t, 3, result.SnapshotsDeleted)

	remaining, err := s.ListSnapshots(ctx, "doc1", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}
