package app

import (
	"context"
	"testing"
	"time"

	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/services/requests"
	"github.com/servimap/servimap/internal/geo"
)

func TestNewWiresDefaults(t *testing.T) {
	application, err := New(Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if application.Store == nil || application.Catalog == nil || application.Settlement == nil {
		t.Fatalf("defaults not applied: %+v", application)
	}
	names := application.Services()
	if len(names) != 2 || names[0] != "emergency-index" || names[1] != "settlement-runner" {
		t.Fatalf("unexpected lifecycle components %v", names)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := application.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestProviderStatusReachesEmergencyMatching(t *testing.T) {
	application, err := New(Stores{}, Options{DisableRunner: true}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if _, err := application.Users.Upsert(ctx, user.User{ID: "pro-1", DisplayName: "Ana", Role: user.RoleCustomer}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	here := geo.Point{Lat: 4.65, Lng: -74.05}
	p, err := application.Providers.Register(ctx, "pro-1", provider.Provider{
		BusinessName:    "Ana Plumbing",
		Categories:      []string{"plumbing"},
		Location:        here,
		ServiceRadiusKm: 15,
		HourlyRateCents: 5000,
		Currency:        "USD",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := application.Providers.SetStatus(ctx, p.ID, provider.StatusApproved, "admin-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	cfg, err := application.Emergency.GetConfig(ctx, p.ID)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	cfg.Enabled, cfg.Available, cfg.ResponseTimeMinutes = true, true, 20
	if _, err := application.Emergency.UpdateConfig(ctx, p.ID, cfg); err != nil {
		t.Fatalf("enable emergency: %v", err)
	}

	matches, err := application.Emergency.Match(ctx, "plumbing", here)
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one match, got %v %+v", err, matches)
	}

	if _, err := application.Providers.SetStatus(ctx, p.ID, provider.StatusSuspended, "admin-1"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	matches, err = application.Emergency.Match(ctx, "plumbing", here)
	if err != nil || len(matches) != 0 {
		t.Fatalf("suspended provider must not match, got %v %+v", err, matches)
	}
}

func TestScheduledBookingOnMemoryStore(t *testing.T) {
	application, err := New(Stores{}, Options{DisableRunner: true}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := application.Users.Upsert(ctx, user.User{ID: "pro-1", DisplayName: "Ana", Role: user.RoleCustomer}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	here := geo.Point{Lat: 4.65, Lng: -74.05}
	p, err := application.Providers.Register(ctx, "pro-1", provider.Provider{
		BusinessName:    "Ana Plumbing",
		Categories:      []string{"plumbing"},
		Location:        here,
		ServiceRadiusKm: 15,
		HourlyRateCents: 5000,
		Currency:        "USD",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := application.Providers.SetStatus(ctx, p.ID, provider.StatusApproved, "admin-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	book := func(start time.Time) (request.Request, error) {
		type result struct {
			r   request.Request
			err error
		}
		done := make(chan result, 1)
		go func() {
			r, err := application.Requests.Create(ctx, "cust-1", requests.CreateInput{
				ProviderID:     p.ID,
				Category:       "plumbing",
				Location:       here,
				ScheduledStart: start,
				ScheduledEnd:   start.Add(2 * time.Hour),
			})
			done <- result{r, err}
		}()
		select {
		case res := <-done:
			return res.r, res.err
		case <-ctx.Done():
			t.Fatal("booking did not return before the deadline")
			return request.Request{}, nil
		}
	}

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(48 * time.Hour)
	r, err := book(day.Add(10 * time.Hour))
	if err != nil {
		t.Fatalf("book without availability: %v", err)
	}
	if r.Status != request.StatusPending || r.PriceCents != 10000 {
		t.Fatalf("unexpected booking %+v", r)
	}

	if _, err := application.Scheduling.SetAvailability(ctx, p.ID, schedule.Availability{
		Timezone: "UTC",
		Windows:  []schedule.Window{{Weekday: day.Weekday(), StartMinute: 8 * 60, EndMinute: 18 * 60}},
	}); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if _, err := book(day.Add(13 * time.Hour)); err != nil {
		t.Fatalf("book inside working hours: %v", err)
	}
	if _, err := book(day.Add(19 * time.Hour)); err == nil {
		t.Fatal("booking outside working hours should fail")
	}
}
