package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/tonehq/tone-engine/pkg/engine/config"
	"github.com/tonehq/tone-engine/pkg/engine/store"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                 "127.0.0.1:0",
		DatabaseURL:          "postgres://localhost/tone",
		VaultSecret:          "test-secret",
		CarrierLookupTimeout: time.Second,
		ResolveTimeout:       time.Second,
		HandshakeTimeout:     time.Second,
		WSWriteTimeout:       time.Second,
		WSPingInterval:       time.Second,
		ReadHeaderTimeout:    time.Second,
		ShutdownGracePeriod:  time.Second,
	}
}

func testDeps() engineDeps {
	return engineDeps{
		loadConfig: func() (config.Config, error) { return testConfig(), nil },
		openStore: func(context.Context, string) (*store.Store, error) {
			return nil, errors.New("store unavailable in test")
		},
		migrate:      func(string) error { return nil },
		signalNotify: func(chan<- os.Signal, ...os.Signal) {},
		signalStop:   func(chan<- os.Signal) {},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunEngine_MissingDeps(t *testing.T) {
	deps := testDeps()
	deps.loadConfig = nil
	if err := runEngine(context.Background(), testLogger(), deps); err == nil {
		t.Fatal("expected error for missing dependency")
	}
}

func TestRunEngine_ConfigError(t *testing.T) {
	deps := testDeps()
	deps.loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("bad config")
	}
	err := runEngine(context.Background(), testLogger(), deps)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunEngine_MigrateError(t *testing.T) {
	deps := testDeps()
	deps.loadConfig = func() (config.Config, error) {
		cfg := testConfig()
		cfg.MigrateOnStart = true
		return cfg, nil
	}
	deps.migrate = func(string) error { return errors.New("migration failed") }
	err := runEngine(context.Background(), testLogger(), deps)
	if err == nil || !strings.Contains(err.Error(), "migrate") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunEngine_OpenStoreError(t *testing.T) {
	err := runEngine(context.Background(), testLogger(), testDeps())
	if err == nil || !strings.Contains(err.Error(), "open store") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunMain_ReturnsNonZeroOnError(t *testing.T) {
	var stderr bytes.Buffer
	code := runMain(context.Background(), &stderr, testDeps())
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "tone-engine:") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
