package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synckit/synckit-server/internal/auth"
	"github.com/synckit/synckit-server/internal/docid"
	"github.com/synckit/synckit-server/internal/hub"
	"github.com/synckit/synckit-server/internal/ops"
	"github.com/synckit/synckit-server/internal/pubsub"
	"github.com/synckit/synckit-server/internal/storage"
)

func newTestServer(t *testing.T, store storage.Store, ps pubsub.PubSub) *Server {
	t.Helper()
	h := hub.New(hub.Config{
		ServerID:  "test-server",
		Verifier:  auth.NewVerifier("test-secret-at-least-32-bytes-long"),
		Namespace: docid.PublicNamespaceRules{PlaygroundID: "playground"},
		Store:     store,
		PubSub:    ps,
		Logger:    ops.NewNoop(),
	})
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Shutdown(context.Background()) })
	return New(h, store, ps, ops.NewNoop(), []string{"*"})
}

func TestRootEndpointReportsNameAndEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "synckit-server", body["name"])
	endpoints, ok := body["endpoints"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "/ws", endpoints["websocket"])
}

func TestHealthEndpointMemoryOnlyAndSingleInstance(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "memory-only", body["storage"])
	require.Equal(t, "single-instance", body["pubsub"])
}

func TestHealthEndpointReportsInMemoryBackendsAsFallback(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Connect(context.Background()))
	local := pubsub.NewLocal()
	require.NoError(t, local.Connect(context.Background()))

	s := newTestServer(t, store, local)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "memory-only", body["storage"])
	require.Equal(t, "single-instance", body["pubsub"])
}

func TestCORSWildcardAllowsAnyOrigin(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example")
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSExplicitListRejectsUnknownOrigin(t *testing.T) {
	s := newTestServer(t, nil, nil)
	s.CORSOrigins = []string{"https://allowed.example"}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	s.Handler().ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOptionsPreflightReturnsNoContent(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}
