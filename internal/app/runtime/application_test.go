package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/servimap/servimap/internal/config"
	"github.com/servimap/servimap/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SERVIMAP_MASTER_KEY", "runtime-test-master-key-0123456789")
	t.Setenv("SERVIMAP_HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("SERVIMAP_OPS_ADDR", "127.0.0.1:0")
	t.Setenv("SERVIMAP_SHUTDOWN_TIMEOUT", "2s")
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func testLogger() *logger.Logger {
	return logger.New(logger.LoggingConfig{Level: "error", Format: "json"})
}

func TestBuildInMemory(t *testing.T) {
	rt, err := Build(context.Background(), testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rt.db != nil || rt.redis != nil {
		t.Fatalf("expected no external clients without a DSN or Redis address")
	}
	if len(rt.checks()) != 0 {
		t.Fatalf("in-memory runtime should have no readiness checks")
	}
	if got := rt.App().Services(); len(got) != 2 {
		t.Fatalf("expected index sync and settlement runner, got %v", got)
	}
}

func TestBuildRejectsShortMasterKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.MasterKey = "short"
	if _, err := Build(context.Background(), cfg, testLogger()); err == nil {
		t.Fatalf("expected error for short master key")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rt, err := Build(context.Background(), testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
