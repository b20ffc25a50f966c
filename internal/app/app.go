// Package app wires the hub's components together and owns the process
// lifecycle: configuration, storage, the provider catalog, the HTTP
// server, and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"mcphub/internal/audit"
	"mcphub/internal/authserver"
	"mcphub/internal/config"
	"mcphub/internal/connection"
	"mcphub/internal/gateway"
	"mcphub/internal/provider"
	"mcphub/internal/store"
	"mcphub/internal/token"
	"mcphub/internal/vault"
	"mcphub/pkg/logging"
)

// Application holds the assembled hub.
type Application struct {
	cfg     *config.Config
	version string

	store   *store.Store
	creds   *config.ProviderRegistry
	audit   *audit.Logger
	limiter *gateway.RateLimiter
	server  *http.Server
}

// NewApplication builds every component from configuration. Nothing
// starts running until Run.
func NewApplication(cfg *config.Config, version string) (*Application, error) {
	logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	v, err := vault.New(cfg.SecretKey)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing vault: %w", err)
	}

	creds, err := config.NewProviderRegistry(cfg.ProvidersFile)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading provider credentials: %w", err)
	}

	providers, err := provider.DefaultRegistry(s)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("building provider catalog: %w", err)
	}

	issuer := token.NewIssuer(cfg.SecretKey, cfg.Issuer(), cfg.AccessTokenTTL)
	auth := authserver.NewService(s, v, issuer, cfg.Issuer(), cfg.StateTTL, cfg.RefreshTokenTTL)
	connections := connection.NewRegistry(s, v, providers, creds, cfg.Issuer(), cfg.StateTTL)
	auditLog := audit.NewLogger(s, cfg.AuditQueueSize)
	limiter := gateway.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)

	dispatcher := gateway.NewDispatcher(providers, connections, auditLog, limiter, "mcp-hub", version, cfg.InvokeTimeout)
	srv := gateway.NewServer(dispatcher, auth, connections, cfg.Issuer())

	return &Application{
		cfg:     cfg,
		version: version,
		store:   s,
		creds:   creds,
		audit:   auditLog,
		limiter: limiter,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run starts the HTTP server and background maintenance and blocks
// until the context is canceled, then shuts everything down in order.
func (a *Application) Run(ctx context.Context) error {
	if err := a.bootstrapAdmin(ctx); err != nil {
		return err
	}

	if err := a.creds.Watch(ctx); err != nil {
		logging.Warn("App", "Provider credential watching unavailable: %v", err)
	}

	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	go a.runMaintenance(maintenanceCtx)

	errCh := make(chan error, 1)
	go func() {
		logging.Info("App", "Hub listening on %s (public URL %s)", a.cfg.ListenAddr, a.cfg.Issuer())
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stopMaintenance()
		a.shutdown(context.Background())
		return err
	}

	stopMaintenance()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.shutdown(shutdownCtx)
	return nil
}

func (a *Application) shutdown(ctx context.Context) {
	logging.Info("App", "Shutting down")
	if err := a.server.Shutdown(ctx); err != nil {
		logging.Error("App", err, "HTTP server shutdown failed")
	}
	a.creds.Stop()
	// Drain the audit queue before the store goes away.
	a.audit.Close()
	if err := a.store.Close(); err != nil {
		logging.Error("App", err, "Store close failed")
	}
}

// runMaintenance periodically purges expired OAuth states and retired
// refresh tokens, and prunes rate limiter bookkeeping.
func (a *Application) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.store.CleanupExpiredStates(ctx); err != nil {
				logging.Warn("App", "State cleanup failed: %v", err)
			} else if n > 0 {
				logging.Debug("App", "Purged %d expired OAuth states", n)
			}
			if n, err := a.store.PurgeRefreshTokens(ctx, 90*24*time.Hour); err != nil {
				logging.Warn("App", "Refresh token purge failed: %v", err)
			} else if n > 0 {
				logging.Debug("App", "Purged %d retired refresh tokens", n)
			}
			a.limiter.Cleanup()
		}
	}
}
