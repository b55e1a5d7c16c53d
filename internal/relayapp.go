package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gcsewala/authbridge/internal/config"
	"github.com/gcsewala/authbridge/internal/crypto"
	"github.com/gcsewala/authbridge/internal/hostenv"
	"github.com/gcsewala/authbridge/internal/log"
	"github.com/gcsewala/authbridge/internal/relay"
	"github.com/gcsewala/authbridge/internal/server"
	"github.com/gcsewala/authbridge/internal/storage"
)

// ShutdownTimeout bounds the graceful shutdown of the relay service
const ShutdownTimeout = 30 * time.Second

// RelayApp is the relay service with all dependencies built
type RelayApp struct {
	config     config.RelayConfig
	handler    http.Handler
	httpServer *server.HTTPServer
	storage    storage.Storage
	cleanup    *storage.CleanupManager
}

// NewRelayApp builds storage, hashing, verification and the HTTP surface
func NewRelayApp(ctx context.Context, cfg config.Config) (*RelayApp, error) {
	if cfg.Relay == nil {
		return nil, fmt.Errorf("relay section is required")
	}
	relayCfg := *cfg.Relay

	store, err := setupStorage(ctx, relayCfg)
	if err != nil {
		return nil, err
	}
	app, err := newRelayApp(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func newRelayApp(cfg config.Config, store storage.Storage) (*RelayApp, error) {
	relayCfg := *cfg.Relay

	hasher, err := crypto.NewTokenHasher([]byte(relayCfg.HashKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create token hasher: %w", err)
	}

	var verifier *relay.Verifier
	if relayCfg.JWTSecret != "" {
		verifier = relay.NewVerifier([]byte(relayCfg.JWTSecret))
	}

	env, err := hostEnvironment(cfg.Host)
	if err != nil {
		return nil, err
	}

	bridge := relay.NewHandler(store, hasher, verifier, relay.HandlerConfig{
		Path:       relayCfg.Path,
		SessionTTL: relayCfg.SessionTTL,
		CacheSize:  relayCfg.CacheSize,
		Env:        env,
	})

	mux := http.NewServeMux()
	bridge.Register(mux)
	mux.Handle("GET /health", server.NewHealthHandler(string(relayCfg.Storage)))

	handler := server.ChainMiddleware(mux,
		server.NewRecoverMiddleware("relay"),
		server.NewCORSMiddleware(relayCfg.AllowedOrigins),
		server.NewLoggerMiddleware("relay"),
		server.NewRequestIDMiddleware(),
	)

	app := &RelayApp{
		config:     relayCfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, relayCfg.Addr),
		storage:    store,
	}
	if relayCfg.CleanupInterval > 0 {
		app.cleanup = storage.NewCleanupManager(store, relayCfg.CleanupInterval)
	}
	return app, nil
}

// hostEnvironment resolves the relay's view of the production host, which
// scopes the mirror cookies it clears.
func hostEnvironment(host config.HostConfig) (hostenv.Environment, error) {
	domain := host.ProductionDomain
	if domain == "" {
		domain = hostenv.DefaultProductionDomain
	}
	env, err := hostenv.Resolve(domain, "https://"+domain, hostenv.HostConfig{
		ProductionDomain: host.ProductionDomain,
		DashboardURL:     host.DashboardURL,
		DashboardPath:    host.DashboardPath,
	})
	if err != nil {
		return hostenv.Environment{}, fmt.Errorf("resolving host environment: %w", err)
	}
	return env, nil
}

// Handler is the fully wrapped HTTP handler
func (a *RelayApp) Handler() http.Handler {
	return a.handler
}

// Run serves until SIGINT/SIGTERM or a server error, then shuts down
func (a *RelayApp) Run() error {
	log.LogInfoWithFields("relayapp", "Starting session relay", map[string]any{
		"addr":    a.config.Addr,
		"path":    a.config.Path,
		"storage": string(a.config.Storage),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.cleanup != nil {
		a.cleanup.Start(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("relayapp", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("relayapp", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	return a.shutdown(shutdownReason)
}

func (a *RelayApp) shutdown(reason string) error {
	log.LogInfoWithFields("relayapp", "Starting graceful shutdown", map[string]any{
		"reason":  reason,
		"timeout": ShutdownTimeout.String(),
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("relayapp", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	if a.cleanup != nil {
		a.cleanup.Stop()
	}
	if err := a.storage.Close(); err != nil {
		log.LogWarnWithFields("relayapp", "Storage close error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("relayapp", "Relay shutdown complete", map[string]any{
		"reason": reason,
	})
	return nil
}

func setupStorage(ctx context.Context, cfg config.RelayConfig) (storage.Storage, error) {
	switch cfg.Storage {
	case config.StorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.GCPProject,
			"database":   cfg.FirestoreDatabase,
			"collection": cfg.FirestoreCollection,
		})
		store, err := storage.NewFirestoreStorage(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return store, nil
	case config.StoragePostgres:
		log.LogInfoWithFields("storage", "Using Postgres storage", nil)
		store, err := storage.NewPostgresStorage(ctx, string(cfg.PostgresDSN))
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres storage: %w", err)
		}
		return store, nil
	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", nil)
		return storage.NewMemoryStorage(), nil
	}
}
