package providers

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/services/users"
	"github.com/servimap/servimap/internal/app/storage/memory"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/geo"
)

var bogota = geo.Point{Lat: 4.7110, Lng: -74.0721}

type listenerFunc func(ctx context.Context, p provider.Provider) error

func (f listenerFunc) ProviderChanged(ctx context.Context, p provider.Provider) error {
	return f(ctx, p)
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, store, nil, users.New(store, nil), nil, nil), store
}

func TestService_Register(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	p, err := svc.Register(ctx, "u1", provider.Provider{
		BusinessName:    " Fix It ",
		Categories:      []string{"Plumbing", "plumbing", "electrical"},
		Location:        bogota,
		ServiceRadiusKm: 15,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Status != provider.StatusPending || p.Currency != "USD" || p.HourlyRateCents != 6000 {
		t.Fatalf("unexpected defaults %+v", p)
	}
	if diff := cmp.Diff([]string{"plumbing", "electrical"}, p.Categories); diff != "" {
		t.Fatalf("categories mismatch (-want +got):\n%s", diff)
	}

	u, err := store.GetUser(ctx, "u1")
	if err != nil || u.Role != user.RoleProvider {
		t.Fatalf("user should be promoted to provider: %v %+v", err, u)
	}

	if _, err := svc.Register(ctx, "u1", provider.Provider{BusinessName: "x", Categories: []string{"plumbing"}, Location: bogota, ServiceRadiusKm: 5}); !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate registration, got %v", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	valid := provider.Provider{BusinessName: "Fix", Categories: []string{"plumbing"}, Location: bogota, ServiceRadiusKm: 10}

	tests := map[string]func(p *provider.Provider){
		"no name":         func(p *provider.Provider) { p.BusinessName = "  " },
		"no categories":   func(p *provider.Provider) { p.Categories = nil },
		"unknown":         func(p *provider.Provider) { p.Categories = []string{"astrology"} },
		"bad location":    func(p *provider.Provider) { p.Location = geo.Point{Lat: 100} },
		"zero radius":     func(p *provider.Provider) { p.ServiceRadiusKm = 0 },
		"too far":         func(p *provider.Provider) { p.ServiceRadiusKm = 250 },
		"negative rate":   func(p *provider.Provider) { p.HourlyRateCents = -1 },
		"huge rate":       func(p *provider.Provider) { p.HourlyRateCents = 1 << 60 },
		"currency length": func(p *provider.Provider) { p.Currency = "DOLLARS" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := valid
			p.Categories = append([]string(nil), valid.Categories...)
			mutate(&p)
			if _, err := svc.Register(context.Background(), "u-"+name, p); !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_UpdateKeepsStatus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "u1", provider.Provider{BusinessName: "Fix", Categories: []string{"plumbing"}, Location: bogota, ServiceRadiusKm: 10}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var seen []string
	svc.AddListener(listenerFunc(func(_ context.Context, p provider.Provider) error {
		seen = append(seen, p.ID)
		return nil
	}))

	radius := 25.0
	name := "Fix Better"
	updated, err := svc.Update(ctx, "u1", Patch{BusinessName: &name, ServiceRadiusKm: &radius})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.BusinessName != name || updated.ServiceRadiusKm != 25 || updated.Status != provider.StatusPending {
		t.Fatalf("unexpected update %+v", updated)
	}
	if len(seen) != 1 {
		t.Fatalf("listener should run once, ran %d", len(seen))
	}

	bad := 0.0
	if _, err := svc.Update(ctx, "u1", Patch{ServiceRadiusKm: &bad}); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	huge := int64(1 << 60)
	if _, err := svc.Update(ctx, "u1", Patch{HourlyRateCents: &huge}); !apperrors.IsValidation(err) {
		t.Fatalf("expected rate validation error, got %v", err)
	}
}

func TestService_SuspendDisablesEmergency(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "u1", provider.Provider{BusinessName: "Fix", Categories: []string{"plumbing"}, Location: bogota, ServiceRadiusKm: 10}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.SaveEmergencyConfig(ctx, emergency.Config{ProviderID: "u1", Enabled: true, Available: true, ResponseTimeMinutes: 30}); err != nil {
		t.Fatalf("save config: %v", err)
	}

	approved, err := svc.SetStatus(ctx, "u1", provider.StatusApproved, "admin")
	if err != nil || !approved.Verified {
		t.Fatalf("approve: %v %+v", err, approved)
	}
	suspended, err := svc.SetStatus(ctx, "u1", provider.StatusSuspended, "admin")
	if err != nil || suspended.Status != provider.StatusSuspended {
		t.Fatalf("suspend: %v %+v", err, suspended)
	}

	cfg, _ := store.GetEmergencyConfig(ctx, "u1")
	if cfg.Available {
		t.Fatalf("suspension should disable emergency availability")
	}
	inbox, _ := store.ListNotifications(ctx, "u1", false, 0)
	if len(inbox) != 2 {
		t.Fatalf("expected 2 status notifications, got %d", len(inbox))
	}
	if _, err := svc.SetStatus(ctx, "u1", "bogus", "admin"); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_Search(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	register := func(id string, loc geo.Point, radius float64, categories ...string) {
		t.Helper()
		if _, err := svc.Register(ctx, id, provider.Provider{BusinessName: id, Categories: categories, Location: loc, ServiceRadiusKm: radius}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		if _, err := svc.SetStatus(ctx, id, provider.StatusApproved, "admin"); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	register("near", geo.Point{Lat: 4.7150, Lng: -74.0721}, 10, "plumbing")
	register("far", geo.Point{Lat: 4.8000, Lng: -74.0721}, 20, "plumbing")
	register("short-reach", geo.Point{Lat: 4.7600, Lng: -74.0721}, 1, "plumbing")
	register("cleaner", bogota, 10, "cleaning")
	if _, err := svc.Register(ctx, "pending", provider.Provider{BusinessName: "p", Categories: []string{"plumbing"}, Location: bogota, ServiceRadiusKm: 10}); err != nil {
		t.Fatalf("register pending: %v", err)
	}

	matches, err := svc.Search(ctx, Query{Category: "plumbing", Point: bogota})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var ids []string
	for _, m := range matches {
		ids = append(ids, m.Provider.ID)
	}
	if diff := cmp.Diff([]string{"near", "far"}, ids); diff != "" {
		t.Fatalf("search order mismatch (-want +got):\n%s", diff)
	}

	narrow, _ := svc.Search(ctx, Query{Category: "plumbing", Point: bogota, RadiusKm: 2})
	if len(narrow) != 1 || narrow[0].Provider.ID != "near" {
		t.Fatalf("query radius should cap reach: %+v", narrow)
	}

	if _, err := svc.Search(ctx, Query{Category: "astrology", Point: bogota}); !apperrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
