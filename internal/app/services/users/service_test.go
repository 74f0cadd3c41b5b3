package users

import (
	"context"
	"testing"

	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/storage/memory"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/geo"
)

func TestService_Upsert(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	u, err := svc.Upsert(ctx, user.User{ID: "u1", DisplayName: "  Ana  "})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if u.Role != user.RoleCustomer || u.DisplayName != "Ana" {
		t.Fatalf("unexpected user %+v", u)
	}

	if _, err := svc.Upsert(ctx, user.User{ID: "u2", Role: user.RoleAdmin}); !apperrors.IsValidation(err) {
		t.Fatalf("admin self-registration should fail, got %v", err)
	}
	if _, err := svc.Upsert(ctx, user.User{}); !apperrors.IsValidation(err) {
		t.Fatalf("missing id should fail, got %v", err)
	}
	if _, err := svc.Upsert(ctx, user.User{ID: "u3", Location: geo.Point{Lat: 123, Lng: 1}}); !apperrors.IsValidation(err) {
		t.Fatalf("bad location should fail, got %v", err)
	}
}

func TestService_UpsertKeepsStoredRole(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.SetRole(ctx, "u1", user.RoleProvider); err != nil {
		t.Fatalf("set role: %v", err)
	}
	u, err := svc.Upsert(ctx, user.User{ID: "u1", Role: user.RoleCustomer, DisplayName: "Bo"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if u.Role != user.RoleProvider {
		t.Fatalf("role should be preserved, got %s", u.Role)
	}

	got, err := svc.Get(ctx, "u1")
	if err != nil || got.DisplayName != "Bo" {
		t.Fatalf("get: %v %+v", err, got)
	}
}
