package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/routrgw/gwreg/internal/api"
	"github.com/routrgw/gwreg/internal/config"
	"github.com/routrgw/gwreg/internal/gatewaystore"
	"github.com/routrgw/gwreg/internal/metrics"
	"github.com/routrgw/gwreg/internal/registry"
	"github.com/routrgw/gwreg/internal/sipprovider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting gwregd",
		"http_addr", cfg.HTTPAddr,
		"data_dir", cfg.DataDir,
		"check_expires_minutes", cfg.CheckExpiresMinutes,
		"transports", cfg.Transports,
	)

	secret, err := cfg.AdminTokenSecretBytes()
	if err != nil {
		slog.Error("failed to resolve admin token secret", "error", err)
		os.Exit(1)
	}
	if err := pinAdminSecret(cfg.DataDir, secret); err != nil {
		slog.Error("failed to pin admin token secret", "error", err)
		os.Exit(1)
	}
	token, expiresAt, err := api.GenerateAdminToken(secret)
	if err != nil {
		slog.Error("failed to mint operator bearer token", "error", err)
		os.Exit(1)
	}
	slog.Info("operator bearer token minted", "expires_at", expiresAt, "token", token)

	db, err := gatewaystore.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open gateway store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := gatewaystore.NewSQLiteStore(db)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	provider, err := sipprovider.New(appCtx, cfg, nil)
	if err != nil {
		slog.Error("failed to create sip provider", "error", err)
		os.Exit(1)
	}
	defer provider.Close()

	go func() {
		if err := provider.ListenAndServe(appCtx, cfg); err != nil && appCtx.Err() == nil {
			slog.Error("sip provider stopped unexpectedly", "error", err)
		}
	}()

	reg := registry.New(registry.Config{
		Provider:            provider,
		Store:               store,
		UserAgent:           cfg.UserAgent,
		ExternAddr:          cfg.ExternAddr,
		CheckExpiresMinutes: cfg.CheckExpiresMinutes,
		DispatchRate:        10,
		DispatchBurst:       5,
		Log:                 logger,
	})
	reg.Start(appCtx)

	startTime := time.Now()
	collector := metrics.NewCollector(&registryMetricsAdapter{reg: reg}, startTime)
	prometheus.MustRegister(collector)

	handler := api.NewServer(reg, secret, startTime)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	reg.Stop()
	appCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("gwregd stopped")
}

// registryMetricsAdapter narrows *registry.Registry's richer Status down to
// the plain RegistrationStatusEntry the metrics package wants, rather than
// coupling the metrics package to the registry package's full status shape.
type registryMetricsAdapter struct {
	reg *registry.Registry
}

func (a *registryMetricsAdapter) AllStatuses() []metrics.RegistrationStatusEntry {
	statuses := a.reg.AllStatuses()
	out := make([]metrics.RegistrationStatusEntry, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, metrics.RegistrationStatusEntry{
			GatewayRef: s.GatewayRef,
			URI:        s.URI,
			State:      string(s.State),
		})
	}
	return out
}

func (a *registryMetricsAdapter) CacheSize() int { return a.reg.CacheSize() }

func (a *registryMetricsAdapter) ConfiguredGatewayCount() int { return a.reg.ConfiguredGatewayCount() }

// pinAdminSecret writes an Argon2id hash of secret to dataDir on first run
// and verifies it on subsequent runs, so an operator is warned if the
// configured admin-token-secret silently changed between restarts.
func pinAdminSecret(dataDir string, secret []byte) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	path := filepath.Join(dataDir, "admin_token.hash")

	existing, err := os.ReadFile(path)
	if err == nil {
		ok, err := api.CheckAdminSecret(secret, string(existing))
		if err != nil {
			return fmt.Errorf("checking pinned admin token secret: %w", err)
		}
		if !ok {
			slog.Warn("configured admin-token-secret differs from the one pinned on a prior run; previously minted operator tokens will stop validating")
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("reading pinned admin token secret: %w", err)
	}

	hash, err := api.HashAdminSecret(secret)
	if err != nil {
		return fmt.Errorf("hashing admin token secret: %w", err)
	}
	return os.WriteFile(path, []byte(hash), 0o600)
}

