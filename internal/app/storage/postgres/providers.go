package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/geo"
)

const providerColumns = `id, business_name, description, categories, lat, lng, service_radius_km,
	hourly_rate_cents, currency, rating_average, rating_count, status, verified, created_at, updated_at`

type providerRow struct {
	ID              string         `db:"id"`
	BusinessName    string         `db:"business_name"`
	Description     string         `db:"description"`
	Categories      pq.StringArray `db:"categories"`
	Lat             float64        `db:"lat"`
	Lng             float64        `db:"lng"`
	ServiceRadiusKm float64        `db:"service_radius_km"`
	HourlyRateCents int64          `db:"hourly_rate_cents"`
	Currency        string         `db:"currency"`
	RatingAverage   float64        `db:"rating_average"`
	RatingCount     int            `db:"rating_count"`
	Status          string         `db:"status"`
	Verified        bool           `db:"verified"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func toProviderRow(p provider.Provider) providerRow {
	return providerRow{
		ID:              p.ID,
		BusinessName:    p.BusinessName,
		Description:     p.Description,
		Categories:      pq.StringArray(p.Categories),
		Lat:             p.Location.Lat,
		Lng:             p.Location.Lng,
		ServiceRadiusKm: p.ServiceRadiusKm,
		HourlyRateCents: p.HourlyRateCents,
		Currency:        p.Currency,
		RatingAverage:   p.RatingAverage,
		RatingCount:     p.RatingCount,
		Status:          string(p.Status),
		Verified:        p.Verified,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func (r providerRow) toDomain() provider.Provider {
	return provider.Provider{
		ID:              r.ID,
		BusinessName:    r.BusinessName,
		Description:     r.Description,
		Categories:      []string(r.Categories),
		Location:        geo.Point{Lat: r.Lat, Lng: r.Lng},
		ServiceRadiusKm: r.ServiceRadiusKm,
		HourlyRateCents: r.HourlyRateCents,
		Currency:        r.Currency,
		RatingAverage:   r.RatingAverage,
		RatingCount:     r.RatingCount,
		Status:          provider.Status(r.Status),
		Verified:        r.Verified,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateProvider(ctx context.Context, p provider.Provider) (provider.Provider, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	_, err := sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO providers (`+providerColumns+`)
		VALUES (:id, :business_name, :description, :categories, :lat, :lng, :service_radius_km,
			:hourly_rate_cents, :currency, :rating_average, :rating_count, :status, :verified, :created_at, :updated_at)
	`, toProviderRow(p))
	if err != nil {
		return provider.Provider{}, conflictOr(err, "provider", p.ID, "already registered")
	}
	return p, nil
}

func (s *Store) UpdateProvider(ctx context.Context, p provider.Provider) (provider.Provider, error) {
	return updateProvider(ctx, s.db, p)
}

func (t *tx) UpdateProvider(ctx context.Context, p provider.Provider) (provider.Provider, error) {
	return updateProvider(ctx, t.ext, p)
}

func updateProvider(ctx context.Context, ext sqlx.ExtContext, p provider.Provider) (provider.Provider, error) {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now()
	}
	res, err := sqlx.NamedExecContext(ctx, ext, `
		UPDATE providers
		SET business_name = :business_name, description = :description, categories = :categories,
		    lat = :lat, lng = :lng, service_radius_km = :service_radius_km,
		    hourly_rate_cents = :hourly_rate_cents, currency = :currency,
		    rating_average = :rating_average, rating_count = :rating_count,
		    status = :status, verified = :verified, updated_at = :updated_at
		WHERE id = :id
	`, toProviderRow(p))
	if err != nil {
		return provider.Provider{}, err
	}
	if err := requireRow(res, "provider", p.ID); err != nil {
		return provider.Provider{}, err
	}
	return getProvider(ctx, ext, p.ID, false)
}

func (s *Store) GetProvider(ctx context.Context, id string) (provider.Provider, error) {
	return getProvider(ctx, s.db, id, false)
}

func (t *tx) GetProvider(ctx context.Context, id string) (provider.Provider, error) {
	return getProvider(ctx, t.ext, id, true)
}

func getProvider(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (provider.Provider, error) {
	var row providerRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+providerColumns+` FROM providers WHERE id = $1`+lockClause(lock), id); err != nil {
		return provider.Provider{}, notFound(err, "provider", id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListProviders(ctx context.Context, filter storage.ProviderFilter) ([]provider.Provider, error) {
	var rows []providerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR $2 = ANY(categories))
		ORDER BY id
	`, string(filter.Status), filter.Category)
	if err != nil {
		return nil, err
	}
	result := make([]provider.Provider, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- emergency configs ---------------------------------------------------------

type emergencyRow struct {
	ProviderID          string    `db:"provider_id"`
	Enabled             bool      `db:"enabled"`
	Available           bool      `db:"available"`
	SurchargePercent    int       `db:"surcharge_percent"`
	ResponseTimeMinutes int       `db:"response_time_minutes"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r emergencyRow) toDomain() emergency.Config {
	return emergency.Config{
		ProviderID:          r.ProviderID,
		Enabled:             r.Enabled,
		Available:           r.Available,
		SurchargePercent:    r.SurchargePercent,
		ResponseTimeMinutes: r.ResponseTimeMinutes,
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

const emergencyColumns = `provider_id, enabled, available, surcharge_percent, response_time_minutes, updated_at`

func (s *Store) GetEmergencyConfig(ctx context.Context, providerID string) (emergency.Config, error) {
	return getEmergencyConfig(ctx, s.db, providerID, false)
}

func (t *tx) GetEmergencyConfig(ctx context.Context, providerID string) (emergency.Config, error) {
	return getEmergencyConfig(ctx, t.ext, providerID, true)
}

func getEmergencyConfig(ctx context.Context, q sqlx.QueryerContext, providerID string, lock bool) (emergency.Config, error) {
	var row emergencyRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+emergencyColumns+` FROM emergency_configs WHERE provider_id = $1`+lockClause(lock), providerID); err != nil {
		return emergency.Config{}, notFound(err, "emergency config", providerID)
	}
	return row.toDomain(), nil
}

func (s *Store) SaveEmergencyConfig(ctx context.Context, cfg emergency.Config) (emergency.Config, error) {
	return saveEmergencyConfig(ctx, s.db, cfg)
}

func (t *tx) SaveEmergencyConfig(ctx context.Context, cfg emergency.Config) (emergency.Config, error) {
	return saveEmergencyConfig(ctx, t.ext, cfg)
}

func saveEmergencyConfig(ctx context.Context, ext sqlx.ExtContext, cfg emergency.Config) (emergency.Config, error) {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = now()
	}
	_, err := ext.ExecContext(ctx, `
		INSERT INTO emergency_configs (`+emergencyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id) DO UPDATE
		SET enabled = EXCLUDED.enabled, available = EXCLUDED.available,
		    surcharge_percent = EXCLUDED.surcharge_percent,
		    response_time_minutes = EXCLUDED.response_time_minutes,
		    updated_at = EXCLUDED.updated_at
	`, cfg.ProviderID, cfg.Enabled, cfg.Available, cfg.SurchargePercent, cfg.ResponseTimeMinutes, cfg.UpdatedAt)
	if err != nil {
		return emergency.Config{}, err
	}
	return cfg, nil
}

func (s *Store) ListReadyEmergencyConfigs(ctx context.Context) ([]emergency.Config, error) {
	var rows []emergencyRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+emergencyColumns+`
		FROM emergency_configs
		WHERE enabled AND available
		ORDER BY provider_id
	`); err != nil {
		return nil, err
	}
	result := make([]emergency.Config, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- availability ----------------------------------------------------------------

type availabilityRow struct {
	ProviderID string                        `db:"provider_id"`
	Timezone   string                        `db:"timezone"`
	Windows    jsonColumn[[]schedule.Window] `db:"windows"`
	UpdatedAt  time.Time                     `db:"updated_at"`
}

func (s *Store) GetAvailability(ctx context.Context, providerID string) (schedule.Availability, error) {
	return getAvailability(ctx, s.db, providerID)
}

func (t *tx) GetAvailability(ctx context.Context, providerID string) (schedule.Availability, error) {
	return getAvailability(ctx, t.ext, providerID)
}

func getAvailability(ctx context.Context, q sqlx.QueryerContext, providerID string) (schedule.Availability, error) {
	var row availabilityRow
	if err := sqlx.GetContext(ctx, q, &row, `
		SELECT provider_id, timezone, windows, updated_at
		FROM provider_availability
		WHERE provider_id = $1
	`, providerID); err != nil {
		return schedule.Availability{}, notFound(err, "availability", providerID)
	}
	return schedule.Availability{
		ProviderID: row.ProviderID,
		Timezone:   row.Timezone,
		Windows:    row.Windows.V,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) SaveAvailability(ctx context.Context, a schedule.Availability) (schedule.Availability, error) {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_availability (provider_id, timezone, windows, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id) DO UPDATE
		SET timezone = EXCLUDED.timezone, windows = EXCLUDED.windows, updated_at = EXCLUDED.updated_at
	`, a.ProviderID, a.Timezone, jsonColumn[[]schedule.Window]{V: a.Windows}, a.UpdatedAt)
	if err != nil {
		return schedule.Availability{}, err
	}
	return a, nil
}
