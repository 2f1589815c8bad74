// Command synckit-server runs the real-time document sync server:
// it wires together storage, pub/sub coordination, authentication,
// rate limiting, and the connection hub behind a single websocket
// endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/synckit/synckit-server/internal/auth"
	"github.com/synckit/synckit-server/internal/config"
	"github.com/synckit/synckit-server/internal/docid"
	"github.com/synckit/synckit-server/internal/httpapi"
	"github.com/synckit/synckit-server/internal/hub"
	"github.com/synckit/synckit-server/internal/metrics"
	"github.com/synckit/synckit-server/internal/ops"
	"github.com/synckit/synckit-server/internal/pubsub"
	"github.com/synckit/synckit-server/internal/ratelimit"
	"github.com/synckit/synckit-server/internal/storage"
)

// Retention sweep cadence and windows for storage.Cleanup (§3's
// cleanup operation): run hourly, keep a day of sessions, a month of
// deltas, and the latest 10 snapshots per document or 90 days,
// whichever is more restrictive.
const (
	retentionSweepInterval = time.Hour
	sessionRetention       = 24 * time.Hour
	deltaRetention         = 30 * 24 * time.Hour
	snapshotRetention      = 90 * 24 * time.Hour
	snapshotKeepLatest     = 10
)

func main() {
	var cfg config.Config
	parser := flags.NewParser(&cfg, flags.Default|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := ops.NewLogger(levelForEnvironment(cfg.Environment))

	if warning, err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("fatal: %s", err))
		os.Exit(1)
	} else if warning != "" {
		fmt.Fprintln(os.Stderr, color.YellowString("warning: %s", warning))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", log.Fields{"err": err.Error()})
		os.Exit(1)
	}
}

func levelForEnvironment(environment string) log.Level {
	if environment == "production" {
		return log.InfoLevel
	}
	return log.DebugLevel
}

func run(cfg config.Config, logger ops.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	serverID := newServerID()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("synckit-server: building storage backend: %w", err)
	}

	ps, err := buildPubSub(ctx, cfg)
	if err != nil {
		return fmt.Errorf("synckit-server: building pubsub backend: %w", err)
	}

	connLimiter := ratelimit.NewConnectionLimiter(ratelimit.MaxConnectionsPerIP, 5*time.Minute)
	connLimiter.Start()
	defer connLimiter.Dispose()

	ipMessageLimiter := ratelimit.NewMessageLimiter(ratelimit.MaxMessagesPerWindow, time.Minute)
	ipMessageLimiter.Start()
	defer ipMessageLimiter.Dispose()

	connMessageLimiter := ratelimit.NewMessageLimiter(ratelimit.MaxMessagesPerWindow, time.Minute)
	connMessageLimiter.Start()
	defer connMessageLimiter.Dispose()

	docLimiter := ratelimit.NewDocumentCreationLimiter(4096, time.Hour)
	docLimiter.Start()
	defer docLimiter.Dispose()

	retentionStop := runRetentionSweep(store, logger)
	defer close(retentionStop)

	h := hub.New(hub.Config{
		ServerID:           serverID,
		AuthRequired:       cfg.AuthRequired,
		Store:              store,
		PubSub:             ps,
		Verifier:           auth.NewVerifier(cfg.JWTSecret),
		Namespace:          docid.PublicNamespaceRules{PlaygroundID: cfg.PlaygroundID},
		Logger:             logger,
		ConnLimiter:        connLimiter,
		IPMessageLimiter:   ipMessageLimiter,
		ConnMessageLimiter: connMessageLimiter,
		DocLimiter:         docLimiter,
	})
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("synckit-server: starting hub: %w", err)
	}

	server := httpapi.New(h, store, ps, logger, cfg.CORSOriginList())
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server.Handler(),
	}

	printBanner(cfg, serverID)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", log.Fields{"addr": cfg.Addr()})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", log.Fields{})
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return shutdown(httpServer, h, store, ps, logger)
}

// shutdown stops accepting new connections, then has the hub announce
// this instance's departure on the presence channel, stop its
// awareness GC and drop its in-memory state, and only then closes
// pub/sub and storage. The rate-limiter sweeps and the retention sweep
// are stopped by run's deferred calls after shutdown returns.
func shutdown(httpServer *http.Server, h *hub.Hub, store storage.Store, ps pubsub.PubSub, logger ops.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server did not shut down cleanly", log.Fields{"err": err.Error()})
	}

	h.Shutdown(shutdownCtx)

	if ps != nil {
		if err := ps.Disconnect(shutdownCtx); err != nil {
			logger.Warn("pubsub disconnect failed", log.Fields{"err": err.Error()})
		}
	}
	if store != nil {
		if err := store.Disconnect(shutdownCtx); err != nil {
			logger.Warn("storage disconnect failed", log.Fields{"err": err.Error()})
		}
	}

	logger.Info("shutdown complete", log.Fields{})
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if !cfg.PersistenceEnabled() {
		store := storage.NewMemoryStore()
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	store := storage.NewSQLiteStore(cfg.DatabaseURL, cfg.DatabasePoolMin, cfg.DatabasePoolMax)
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func buildPubSub(ctx context.Context, cfg config.Config) (pubsub.PubSub, error) {
	if !cfg.CoordinationEnabled() {
		local := pubsub.NewLocal()
		if err := local.Connect(ctx); err != nil {
			return nil, err
		}
		return local, nil
	}

	etcd := pubsub.NewEtcd(cfg.EtcdEndpointList(), cfg.ChannelPrefix+":")
	if err := etcd.Connect(ctx); err != nil {
		return nil, err
	}
	return etcd, nil
}

// runRetentionSweep starts the background goroutine that periodically
// runs storage.Cleanup (§4.5's retention sweep), returning a channel
// the caller closes to stop it. It runs regardless of
// PersistenceEnabled: the in-memory store's Cleanup applies the same
// retention rules to the sessions, deltas and snapshots it holds.
func runRetentionSweep(store storage.Store, logger ops.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				result, err := store.Cleanup(ctx, storage.CleanupOptions{
					SessionMaxAge:      sessionRetention,
					DeltaMaxAge:        deltaRetention,
					SnapshotKeepLatest: snapshotKeepLatest,
					SnapshotMaxAge:     snapshotRetention,
				})
				cancel()
				if err != nil {
					metrics.StorageErrorsTotal.WithLabelValues("cleanup").Inc()
					logger.Warn("retention sweep failed", log.Fields{"err": err.Error()})
					continue
				}
				metrics.CleanupSweepsTotal.Inc()
				logger.Debug("retention sweep complete", log.Fields{
					"sessionsDeleted":  result.SessionsDeleted,
					"deltasDeleted":    result.DeltasDeleted,
					"snapshotsDeleted": result.SnapshotsDeleted,
				})
			}
		}
	}()
	return stop
}

func newServerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "synckit"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

func printBanner(cfg config.Config, serverID string) {
	color.Cyan("synckit-server")
	fmt.Printf("  server id:    %s\n", serverID)
	fmt.Printf("  environment:  %s\n", cfg.Environment)
	fmt.Printf("  listening on: %s\n", cfg.Addr())
	fmt.Printf("  auth required: %v\n", cfg.AuthRequired)
	fmt.Printf("  persistence:  %v\n", cfg.PersistenceEnabled())
	fmt.Printf("  coordination: %v\n", cfg.CoordinationEnabled())
}
