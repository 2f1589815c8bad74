// Package httpapi wires the hub's websocket endpoint together with the
// server's plain HTTP surface (root info, health) and CORS handling.
// Grounded on the teacher's bare net/http mux style — no router
// framework appears anywhere in the dependency pack for this kind of
// server, so none is introduced here either.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synckit/synckit-server/internal/hub"
	"github.com/synckit/synckit-server/internal/metrics"
	"github.com/synckit/synckit-server/internal/ops"
	"github.com/synckit/synckit-server/internal/pubsub"
	"github.com/synckit/synckit-server/internal/storage"
)

const version = "1.0.0"

// Server bundles the dependencies the HTTP surface needs to answer
// the root and health endpoints, alongside the hub's websocket
// upgrade handler.
type Server struct {
	Hub          *hub.Hub
	Store        storage.Store
	PubSub       pubsub.PubSub
	Logger       ops.Logger
	CORSOrigins  []string
	startedAt    time.Time
}

// New builds a Server. startedAt is recorded immediately so uptime in
// diagnostics is meaningful from the first request on.
func New(h *hub.Hub, store storage.Store, ps pubsub.PubSub, logger ops.Logger, corsOrigins []string) *Server {
	if logger == nil {
		logger = ops.NewNoop()
	}
	return &Server{
		Hub:         h,
		Store:       store,
		PubSub:      ps,
		Logger:      logger,
		CORSOrigins: corsOrigins,
		startedAt:   time.Now(),
	}
}

// Handler returns the root http.Handler, with CORS applied to every
// route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.Hub.ServeWS)
	return s.withCORS(mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "synckit-server",
		"version": version,
		"endpoints": map[string]string{
			"websocket": "/ws",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storageStatus := "memory-only"
	if _, inMemory := s.Store.(*storage.MemoryStore); s.Store != nil && !inMemory {
		if err := s.Store.HealthCheck(ctx); err != nil {
			metrics.StorageErrorsTotal.WithLabelValues("health_check").Inc()
			s.Logger.Warn("storage health check failed", log.Fields{"err": err.Error()})
			storageStatus = "unreachable"
		} else if s.Store.IsConnected() {
			storageStatus = "connected"
		}
	}

	pubsubStatus := "single-instance"
	if _, local := s.PubSub.(*pubsub.Local); s.PubSub != nil && !local {
		if s.PubSub.Stats().Connected {
			pubsubStatus = "connected"
		} else {
			pubsubStatus = "unreachable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   version,
		"uptime":    time.Since(s.startedAt).String(),
		"storage":   storageStatus,
		"pubsub":    pubsubStatus,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
