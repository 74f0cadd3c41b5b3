package requests

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/servimap/servimap/internal/app/domain/request"
)

func TestSettlementRunner_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	runner := NewSettlementRunner(h.svc, "@every 1h", nil)
	if runner.Name() != "settlement-runner" {
		t.Fatalf("unexpected name %s", runner.Name())
	}

	ctx := context.Background()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := runner.Stop(stopCtx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestSettlementRunner_InvalidSchedule(t *testing.T) {
	runner := NewSettlementRunner(nil, "every now and then", nil)
	if err := runner.Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestSettlementRunner_RunOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done := complete(t, h)
	stale := h.book(t, 96*time.Hour)
	h.advance(73 * time.Hour)

	NewSettlementRunner(h.svc, "", nil).RunOnce(ctx)

	got, _ := h.store.GetRequest(ctx, done.ID)
	if got.Status != request.StatusSettled {
		t.Fatalf("expected settled, got %s", got.Status)
	}
	got, _ = h.store.GetRequest(ctx, stale.ID)
	if got.Status != request.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}
