// Command tone-engine serves the voice-agent resolution and assembly
// engine: inbound telephony sessions on /ws, browser sessions on
// /v1/live.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonehq/tone-engine/internal/dotenv"
	"github.com/tonehq/tone-engine/pkg/engine/catalog"
	"github.com/tonehq/tone-engine/pkg/engine/config"
	"github.com/tonehq/tone-engine/pkg/engine/resolver"
	"github.com/tonehq/tone-engine/pkg/engine/router"
	"github.com/tonehq/tone-engine/pkg/engine/server"
	"github.com/tonehq/tone-engine/pkg/engine/store"
	"github.com/tonehq/tone-engine/pkg/engine/vault"
)

type engineDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, databaseURL string) (*store.Store, error)
	migrate      func(databaseURL string) error
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultEngineDeps() engineDeps {
	return engineDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  store.New,
		migrate:    store.Migrate,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func runEngine(ctx context.Context, logger *slog.Logger, deps engineDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.migrate == nil {
		return errors.New("missing dependency")
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

	v, err := vault.New(cfg.VaultSecret)
	if err != nil {
		return fmt.Errorf("init credential vault: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := deps.migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	st, err := deps.openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	res := resolver.New(st, v, logger).WithQueryTimeout(cfg.ResolveTimeout)
	cat := catalog.New()

	var carrier router.CarrierLookup
	if cfg.CarrierLookupEnabled() {
		carrier = router.NewCarrierClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken).
			WithTimeout(cfg.CarrierLookupTimeout)
	} else {
		logger.Warn("carrier call-detail lookup disabled, routing relies on handshake parameters")
	}
	rt := router.New(st, carrier, logger)

	srv := server.New(cfg, logger, st, res, cat, rt)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	return srv.Run(runCtx)
}

func runMain(ctx context.Context, stderr io.Writer, deps engineDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "tone-engine: %v\n", err)
		return 1
	}

	if err := runEngine(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "tone-engine: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultEngineDeps()))
}
