//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	app "github.com/servimap/servimap/internal/app"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/storage/postgres"
	"github.com/servimap/servimap/internal/middleware"
	"github.com/servimap/servimap/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations and the booking
// flow work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dsn, postgres.Pool{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Up(db.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	application, err := app.New(app.Stores{Store: postgres.New(db.DB)}, app.Options{DisableRunner: true}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	key, _ := middleware.DeriveSigningKey([]byte("integration-master-key-0123456789"))
	handler, err := NewHandler(application, Options{SigningKey: key, RateLimitRPS: 1000, RateLimitBurst: 1000}, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	h := &harness{t: t, app: application, handler: handler, key: key}

	suffix := uuid.NewString()[:8]
	proID := "pro-" + suffix
	proTok := h.seedProvider(proID)
	custTok := h.token("cust-"+suffix, user.RoleCustomer)

	start := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Minute)
	resp := h.do(http.MethodPost, "/v1/requests", custTok, map[string]any{
		"provider_id":     proID,
		"category":        "plumbing",
		"location":        map[string]float64{"lat": 4.66, "lng": -74.05},
		"scheduled_start": start,
		"scheduled_end":   start.Add(time.Hour),
	})
	h.expect(resp, http.StatusCreated)
	id := decode[map[string]any](t, resp)["id"].(string)
	h.expect(h.do(http.MethodPost, "/v1/requests/"+id+"/accept", proTok, nil), http.StatusOK)
}
