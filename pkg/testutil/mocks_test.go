package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/geo"
)

func TestRecordingNotifier(t *testing.T) {
	var r RecordingNotifier
	r.Deliver(context.Background(),
		notification.Notification{UserID: "a"},
		notification.Notification{UserID: "b"},
		notification.Notification{UserID: "a"})
	if len(r.Items()) != 3 || len(r.For("a")) != 2 {
		t.Fatalf("unexpected recording %+v", r.Items())
	}
}

func TestMockLocator(t *testing.T) {
	ctx := context.Background()
	empty := NewMockLocator()
	if _, err := empty.Nearby(ctx, geo.Point{}, 1); !errors.Is(err, ErrNearbyUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	loc := NewMockLocator("p1")
	if ids, err := loc.Nearby(ctx, geo.Point{}, 1); err != nil || len(ids) != 1 {
		t.Fatalf("nearby: %v %v", ids, err)
	}
	_ = loc.Update(ctx, "p1", geo.Point{}, true)
	if ready, seen := loc.Indexed("p1"); !ready || !seen {
		t.Fatalf("p1 should be indexed")
	}
	if _, seen := loc.Indexed("p2"); seen {
		t.Fatalf("p2 was never updated")
	}
}

func TestClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)
	c.Advance(time.Hour)
	if !c.Now().Equal(start.Add(time.Hour)) {
		t.Fatalf("unexpected time %v", c.Now())
	}
}
