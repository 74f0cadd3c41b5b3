package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/app/storage/memory"
	apperrors "github.com/servimap/servimap/internal/errors"
)

// Monday 2026-05-04 00:00 UTC.
var monday = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	if _, err := store.CreateProvider(context.Background(), provider.Provider{ID: "p1", Status: provider.StatusApproved}); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	svc := New(store, store, nil)
	svc.now = func() time.Time { return monday.Add(-24 * time.Hour) }
	return svc, store
}

func TestService_SetAvailabilityValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := map[string]schedule.Availability{
		"bad timezone":  {Timezone: "Mars/Olympus", Windows: []schedule.Window{{Weekday: time.Monday, StartMinute: 0, EndMinute: 60}}},
		"inverted":      {Windows: []schedule.Window{{Weekday: time.Monday, StartMinute: 600, EndMinute: 540}}},
		"past midnight": {Windows: []schedule.Window{{Weekday: time.Monday, StartMinute: 600, EndMinute: 1441}}},
		"bad weekday":   {Windows: []schedule.Window{{Weekday: 7, StartMinute: 0, EndMinute: 60}}},
		"overlap": {Windows: []schedule.Window{
			{Weekday: time.Monday, StartMinute: 540, EndMinute: 720},
			{Weekday: time.Monday, StartMinute: 700, EndMinute: 800},
		}},
	}
	for name, a := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.SetAvailability(ctx, "p1", a); !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if _, err := svc.SetAvailability(ctx, "ghost", schedule.Availability{}); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_GetAvailabilityDefaults(t *testing.T) {
	svc, _ := newService(t)
	a, err := svc.GetAvailability(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Timezone != "UTC" || len(a.Windows) != 0 {
		t.Fatalf("unexpected default %+v", a)
	}
}

func TestService_SetAvailabilitySortsWindows(t *testing.T) {
	svc, _ := newService(t)
	saved, err := svc.SetAvailability(context.Background(), "p1", schedule.Availability{
		Timezone: "America/Bogota",
		Windows: []schedule.Window{
			{Weekday: time.Tuesday, StartMinute: 540, EndMinute: 1020},
			{Weekday: time.Monday, StartMinute: 780, EndMinute: 1020},
			{Weekday: time.Monday, StartMinute: 540, EndMinute: 720},
		},
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if saved.Windows[0].Weekday != time.Monday || saved.Windows[0].StartMinute != 540 || saved.Windows[2].Weekday != time.Tuesday {
		t.Fatalf("windows not sorted: %+v", saved.Windows)
	}
}

func TestService_CheckSlot(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	// Without availability the provider is always open.
	if err := svc.CheckSlot(ctx, "p1", monday.Add(3*time.Hour), monday.Add(4*time.Hour)); err != nil {
		t.Fatalf("expected open slot, got %v", err)
	}

	// Bogota is UTC-5: Monday 09:00-17:00 local is 14:00-22:00 UTC.
	_, err := svc.SetAvailability(ctx, "p1", schedule.Availability{
		Timezone: "America/Bogota",
		Windows:  []schedule.Window{{Weekday: time.Monday, StartMinute: 540, EndMinute: 1020}},
	})
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}

	if err := svc.CheckSlot(ctx, "p1", monday.Add(14*time.Hour), monday.Add(16*time.Hour)); err != nil {
		t.Fatalf("slot inside window rejected: %v", err)
	}
	if err := svc.CheckSlot(ctx, "p1", monday.Add(21*time.Hour), monday.Add(23*time.Hour)); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict outside hours, got %v", err)
	}

	invalid := []struct {
		name       string
		start, end time.Time
	}{
		{"inverted", monday.Add(16 * time.Hour), monday.Add(15 * time.Hour)},
		{"too long", monday.Add(14 * time.Hour), monday.Add(27 * time.Hour)},
		{"past", monday.Add(-48 * time.Hour), monday.Add(-47 * time.Hour)},
	}
	for _, tc := range invalid {
		if err := svc.CheckSlot(ctx, "p1", tc.start, tc.end); !apperrors.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	err = store.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.CreateRequest(ctx, request.Request{
			ID:             "booked",
			ProviderID:     "p1",
			Status:         request.StatusAccepted,
			ScheduledStart: monday.Add(15 * time.Hour),
			ScheduledEnd:   monday.Add(17 * time.Hour),
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if err := svc.CheckSlot(ctx, "p1", monday.Add(16*time.Hour), monday.Add(18*time.Hour)); !apperrors.IsConflict(err) {
		t.Fatalf("expected double booking conflict, got %v", err)
	}
	if err := svc.CheckSlot(ctx, "p1", monday.Add(17*time.Hour), monday.Add(18*time.Hour)); err != nil {
		t.Fatalf("adjacent slot should be free: %v", err)
	}

	err = store.InTx(ctx, func(tx storage.Tx) error {
		if err := svc.CheckSlotTx(ctx, tx, "p1", "", monday.Add(16*time.Hour), monday.Add(18*time.Hour)); !apperrors.IsConflict(err) {
			t.Fatalf("expected conflict inside batch, got %v", err)
		}
		if err := svc.CheckSlotTx(ctx, tx, "p1", "", monday.Add(21*time.Hour), monday.Add(23*time.Hour)); !apperrors.IsConflict(err) {
			t.Fatalf("expected working hours conflict inside batch, got %v", err)
		}
		return svc.CheckSlotTx(ctx, tx, "p1", "booked", monday.Add(16*time.Hour), monday.Add(18*time.Hour))
	})
	if err != nil {
		t.Fatalf("excluded request should not conflict: %v", err)
	}
}
