package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sitedesk/foreman/internal/dotenv"
	"github.com/sitedesk/foreman/pkg/gateway/auth"
	"github.com/sitedesk/foreman/pkg/gateway/billing"
	"github.com/sitedesk/foreman/pkg/gateway/config"
	gatewayserver "github.com/sitedesk/foreman/pkg/gateway/server"
	"github.com/sitedesk/foreman/pkg/gateway/store"
	"github.com/sitedesk/foreman/pkg/gateway/tools"
	"github.com/sitedesk/foreman/pkg/gateway/upstream"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	buildServer  func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:  config.LoadFromEnv,
		buildServer: buildServer,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildServer assembles the production collaborators: the Postgres store
// (migrated on boot), the text model backend, the realtime credential minter,
// the portal tool executor, and the optional WorkOS and Stripe integrations.
func buildServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	backend, err := upstream.NewGenAIBackend(ctx, cfg.ModelAPIKey, cfg.ModelID)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("model backend: %w", err)
	}

	deps := gatewayserver.Deps{
		ChatStore:  st,
		VoiceStore: st,
		DB:         st,
		Backend:    backend,
		Minter:     upstream.NewRealtimeMinter(cfg.RealtimeAPIKey, cfg.RealtimeBaseURL, cfg.RealtimeModel),
		Executor:   tools.NewHTTPExecutor(cfg.PortalBaseURL, cfg.PortalAPIKey),
	}

	if cfg.WorkOSEnabled() {
		verifier, err := auth.NewJWKSVerifier(ctx, cfg.WorkOSAPIKey, cfg.WorkOSClientID, logger)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("workos verifier: %w", err)
		}
		deps.Verifier = verifier
	}
	if cfg.StripeEnabled() {
		deps.Reporter = billing.NewStripeReporter(cfg.StripeAPIKey, cfg.StripeMeterName, logger)
	}

	return gatewayserver.New(cfg, deps, logger), st.Close, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildServer == nil {
		return errors.New("missing buildServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, cleanup, err := deps.buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"workos", cfg.WorkOSEnabled(),
		"stripe", cfg.StripeEnabled())

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "foreman-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "foreman-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
