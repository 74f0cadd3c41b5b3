package emergency

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/app/storage/memory"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/geo"
	"github.com/servimap/servimap/pkg/testutil"
)

var customerAt = geo.Point{Lat: 4.7110, Lng: -74.0721}

func seedProvider(t *testing.T, store *memory.Store, id string, offsetLat float64, status provider.Status, cfg domain.Config) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateProvider(ctx, provider.Provider{
		ID:              id,
		BusinessName:    "Biz " + id,
		Categories:      []string{"plumbing"},
		Location:        geo.Point{Lat: customerAt.Lat + offsetLat, Lng: customerAt.Lng},
		ServiceRadiusKm: 20,
		HourlyRateCents: 6000,
		Currency:        "USD",
		Status:          status,
	})
	if err != nil {
		t.Fatalf("seed provider %s: %v", id, err)
	}
	cfg.ProviderID = id
	if _, err := store.SaveEmergencyConfig(ctx, cfg); err != nil {
		t.Fatalf("seed config %s: %v", id, err)
	}
}

func ready(response, surcharge int) domain.Config {
	return domain.Config{Enabled: true, Available: true, ResponseTimeMinutes: response, SurchargePercent: surcharge}
}

func TestService_MatchOrdersByETA(t *testing.T) {
	store := memory.New()
	// ~1.1 km, 5.5 km and 11 km north of the customer.
	seedProvider(t, store, "near-slow", 0.01, provider.StatusApproved, ready(60, 50))
	seedProvider(t, store, "mid-fast", 0.05, provider.StatusApproved, ready(5, 100))
	seedProvider(t, store, "far-fast", 0.10, provider.StatusApproved, ready(5, 0))
	seedProvider(t, store, "busy", 0.01, provider.StatusApproved, domain.Config{Enabled: true, ResponseTimeMinutes: 5})
	seedProvider(t, store, "pending", 0.01, provider.StatusPending, ready(5, 0))
	seedProvider(t, store, "out-of-range", 0.5, provider.StatusApproved, ready(5, 0))

	svc := New(store, store, nil, nil, nil, Settings{}, nil)
	got, err := svc.Match(context.Background(), "plumbing", customerAt)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ProviderID)
	}
	want := []string{"mid-fast", "far-fast", "near-slow"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	// One hour minimum at 60.00 plus a 100% surcharge.
	if got[0].QuoteCents != 12000 {
		t.Fatalf("expected quote 12000, got %d", got[0].QuoteCents)
	}
	if got[0].ETAMinutes <= 5 {
		t.Fatalf("eta should include travel time, got %d", got[0].ETAMinutes)
	}
}

func TestService_MatchRejectsNonEmergencyCategory(t *testing.T) {
	svc := New(memory.New(), nil, nil, nil, nil, Settings{}, nil)
	if _, err := svc.Match(context.Background(), "cleaning", customerAt); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Match(context.Background(), "astrology", customerAt); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_MatchTruncates(t *testing.T) {
	store := memory.New()
	for _, id := range []string{"a", "b", "c"} {
		seedProvider(t, store, id, 0.01, provider.StatusApproved, ready(10, 0))
	}
	svc := New(store, store, nil, nil, nil, Settings{MaxCandidates: 2}, nil)
	got, err := svc.Match(context.Background(), "plumbing", customerAt)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 2 || got[0].ProviderID != "a" || got[1].ProviderID != "b" {
		t.Fatalf("expected ties broken by id and truncated, got %+v", got)
	}
}

func TestService_CreateRequest(t *testing.T) {
	store := memory.New()
	seedProvider(t, store, "p1", 0.01, provider.StatusApproved, ready(10, 0))
	seedProvider(t, store, "p2", 0.02, provider.StatusApproved, ready(10, 0))
	notifier := &testutil.RecordingNotifier{}
	svc := New(store, store, nil, nil, notifier, Settings{AcceptTimeout: 5 * time.Minute}, nil)
	now := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	req, candidates, err := svc.CreateRequest(ctx, "c1", RequestInput{Category: "plumbing", Location: customerAt, Description: "burst pipe"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(candidates) != 2 || req.Kind != request.KindEmergency || req.Status != request.StatusPending {
		t.Fatalf("unexpected request %+v", req)
	}
	if !req.AcceptDeadline.Equal(now.Add(5*time.Minute)) || req.PriceCents != 0 {
		t.Fatalf("unexpected deadline or price %+v", req)
	}
	if !req.IsCandidate("p1") || !req.IsCandidate("p2") {
		t.Fatalf("candidates not recorded %+v", req.CandidateProviderIDs)
	}

	offers, _ := store.ListNotifications(ctx, "p2", true, 0)
	if len(offers) != 1 || offers[0].Type != notification.TypeEmergencyOffer || offers[0].Data["request_id"] != req.ID {
		t.Fatalf("expected offer for p2, got %+v", offers)
	}
	if len(notifier.Items()) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(notifier.Items()))
	}
}

func TestService_CreateRequestUnavailable(t *testing.T) {
	store := memory.New()
	svc := New(store, store, nil, nil, nil, Settings{}, nil)
	_, _, err := svc.CreateRequest(context.Background(), "c1", RequestInput{Category: "locksmith", Location: customerAt})
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if list, _ := store.ListRequests(context.Background(), storageFilter("c1")); len(list) != 0 {
		t.Fatalf("no request should be stored, got %+v", list)
	}
}

func TestService_CreateRequestSkipsCustomersOwnProfile(t *testing.T) {
	store := memory.New()
	seedProvider(t, store, "c1", 0.01, provider.StatusApproved, ready(10, 0))
	svc := New(store, store, nil, nil, nil, Settings{MaxCandidates: 1}, nil)
	ctx := context.Background()

	if _, _, err := svc.CreateRequest(ctx, "c1", RequestInput{Category: "plumbing", Location: customerAt}); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("own profile only: expected unavailable, got %v", err)
	}

	seedProvider(t, store, "p1", 0.01, provider.StatusApproved, ready(10, 0))
	req, candidates, err := svc.CreateRequest(ctx, "c1", RequestInput{Category: "plumbing", Location: customerAt})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ProviderID != "p1" || req.IsCandidate("c1") {
		t.Fatalf("customer offered own request: %+v", req.CandidateProviderIDs)
	}

	matches, err := svc.Match(ctx, "plumbing", customerAt)
	if err != nil || len(matches) != 1 || matches[0].ProviderID != "c1" {
		t.Fatalf("plain match should still list c1 first, got %v %+v", err, matches)
	}
}

func TestService_MatchSkipsUnquotableRate(t *testing.T) {
	store := memory.New()
	seedProvider(t, store, "p1", 0.01, provider.StatusApproved, ready(10, 0))
	seedProvider(t, store, "p2", 0.02, provider.StatusApproved, ready(10, 0))
	ctx := context.Background()
	p, _ := store.GetProvider(ctx, "p1")
	p.HourlyRateCents = 1 << 60
	if _, err := store.UpdateProvider(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}

	svc := New(store, store, nil, nil, nil, Settings{}, nil)
	got, err := svc.Match(ctx, "plumbing", customerAt)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 1 || got[0].ProviderID != "p2" || got[0].QuoteCents <= 0 {
		t.Fatalf("expected only p2, got %+v", got)
	}
}

func TestService_UpdateConfig(t *testing.T) {
	store := memory.New()
	seedProvider(t, store, "p1", 0, provider.StatusApproved, domain.Config{})
	locator := testutil.NewMockLocator()
	svc := New(store, store, nil, locator, nil, Settings{}, nil)
	ctx := context.Background()

	if _, err := svc.UpdateConfig(ctx, "p1", domain.Config{Enabled: true, SurchargePercent: 301, ResponseTimeMinutes: 10}); !apperrors.IsValidation(err) {
		t.Fatalf("expected surcharge validation, got %v", err)
	}
	if _, err := svc.UpdateConfig(ctx, "p1", domain.Config{Enabled: true, ResponseTimeMinutes: 0}); !apperrors.IsValidation(err) {
		t.Fatalf("expected response time validation, got %v", err)
	}
	if _, err := svc.UpdateConfig(ctx, "ghost", ready(10, 0)); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	cfg, err := svc.UpdateConfig(ctx, "p1", ready(15, 25))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if indexed, _ := locator.Indexed("p1"); !cfg.Ready() || !indexed {
		t.Fatalf("provider should be indexed as ready: %+v", cfg)
	}

	if _, err := svc.UpdateConfig(ctx, "p1", domain.Config{Enabled: true, ResponseTimeMinutes: 15}); err != nil {
		t.Fatalf("toggle unavailable: %v", err)
	}
	if indexed, _ := locator.Indexed("p1"); indexed {
		t.Fatalf("unavailable provider should be removed from the index")
	}
}

func TestService_GetConfigDefaults(t *testing.T) {
	store := memory.New()
	_, _ = store.CreateProvider(context.Background(), provider.Provider{ID: "p1", Status: provider.StatusApproved})
	svc := New(store, store, nil, nil, nil, Settings{}, nil)

	cfg, err := svc.GetConfig(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.ProviderID != "p1" || cfg.Enabled {
		t.Fatalf("expected disabled default, got %+v", cfg)
	}
}

func TestService_ProviderChangedUnindexesSuspended(t *testing.T) {
	store := memory.New()
	seedProvider(t, store, "p1", 0, provider.StatusApproved, ready(10, 0))
	locator := testutil.NewMockLocator()
	svc := New(store, store, nil, locator, nil, Settings{}, nil)

	p, _ := store.GetProvider(context.Background(), "p1")
	err := svc.ProviderChanged(context.Background(), p)
	if indexed, _ := locator.Indexed("p1"); err != nil || !indexed {
		t.Fatalf("approved provider should be indexed: %v", err)
	}
	p.Status = provider.StatusSuspended
	err = svc.ProviderChanged(context.Background(), p)
	if indexed, _ := locator.Indexed("p1"); err != nil || indexed {
		t.Fatalf("suspended provider should be removed: %v", err)
	}
}

func storageFilter(customerID string) storage.RequestFilter {
	return storage.RequestFilter{CustomerID: customerID}
}

func TestIndexSyncRebuildsFromStore(t *testing.T) {
	store := memory.New()
	seedProvider(t, store, "p1", 0, provider.StatusApproved, ready(10, 0))
	seedProvider(t, store, "p2", 0.01, provider.StatusSuspended, ready(10, 0))
	seedProvider(t, store, "p3", 0.02, provider.StatusApproved, domain.Config{Enabled: true})
	locator := testutil.NewMockLocator()
	svc := New(store, store, nil, locator, nil, Settings{}, nil)

	sync := NewIndexSync(svc)
	if err := sync.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if indexed, _ := locator.Indexed("p1"); !indexed {
		t.Fatalf("approved ready provider should be indexed")
	}
	if ready, seen := locator.Indexed("p2"); seen && ready {
		t.Fatalf("suspended provider must not be indexed as ready")
	}
	if _, seen := locator.Indexed("p3"); seen {
		t.Fatalf("unavailable provider should not be touched")
	}
	if err := sync.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
