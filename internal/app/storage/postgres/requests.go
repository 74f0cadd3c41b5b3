package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/geo"
)

const requestColumns = `id, kind, customer_id, provider_id, candidate_provider_ids, category, description,
	address, lat, lng, scheduled_start, scheduled_end, estimated_minutes, price_cents, surcharge_percent,
	currency, status, accept_deadline, started_at, completed_at, rating_deadline, dispute_deadline,
	rated, dispute_id, cancel_reason, history, created_at, updated_at`

type requestRow struct {
	ID                   string                           `db:"id"`
	Kind                 string                           `db:"kind"`
	CustomerID           string                           `db:"customer_id"`
	ProviderID           string                           `db:"provider_id"`
	CandidateProviderIDs pq.StringArray                   `db:"candidate_provider_ids"`
	Category             string                           `db:"category"`
	Description          string                           `db:"description"`
	Address              string                           `db:"address"`
	Lat                  float64                          `db:"lat"`
	Lng                  float64                          `db:"lng"`
	ScheduledStart       sql.NullTime                     `db:"scheduled_start"`
	ScheduledEnd         sql.NullTime                     `db:"scheduled_end"`
	EstimatedMinutes     int                              `db:"estimated_minutes"`
	PriceCents           int64                            `db:"price_cents"`
	SurchargePercent     int                              `db:"surcharge_percent"`
	Currency             string                           `db:"currency"`
	Status               string                           `db:"status"`
	AcceptDeadline       sql.NullTime                     `db:"accept_deadline"`
	StartedAt            sql.NullTime                     `db:"started_at"`
	CompletedAt          sql.NullTime                     `db:"completed_at"`
	RatingDeadline       sql.NullTime                     `db:"rating_deadline"`
	DisputeDeadline      sql.NullTime                     `db:"dispute_deadline"`
	Rated                bool                             `db:"rated"`
	DisputeID            string                           `db:"dispute_id"`
	CancelReason         string                           `db:"cancel_reason"`
	History              jsonColumn[[]request.Transition] `db:"history"`
	CreatedAt            time.Time                        `db:"created_at"`
	UpdatedAt            time.Time                        `db:"updated_at"`
}

func toRequestRow(r request.Request) requestRow {
	candidates := r.CandidateProviderIDs
	if candidates == nil {
		candidates = []string{}
	}
	history := r.History
	if history == nil {
		history = []request.Transition{}
	}
	return requestRow{
		ID:                   r.ID,
		Kind:                 string(r.Kind),
		CustomerID:           r.CustomerID,
		ProviderID:           r.ProviderID,
		CandidateProviderIDs: pq.StringArray(candidates),
		Category:             r.Category,
		Description:          r.Description,
		Address:              r.Address,
		Lat:                  r.Location.Lat,
		Lng:                  r.Location.Lng,
		ScheduledStart:       nullTime(r.ScheduledStart),
		ScheduledEnd:         nullTime(r.ScheduledEnd),
		EstimatedMinutes:     r.EstimatedMinutes,
		PriceCents:           r.PriceCents,
		SurchargePercent:     r.SurchargePercent,
		Currency:             r.Currency,
		Status:               string(r.Status),
		AcceptDeadline:       nullTime(r.AcceptDeadline),
		StartedAt:            nullTime(r.StartedAt),
		CompletedAt:          nullTime(r.CompletedAt),
		RatingDeadline:       nullTime(r.RatingDeadline),
		DisputeDeadline:      nullTime(r.DisputeDeadline),
		Rated:                r.Rated,
		DisputeID:            r.DisputeID,
		CancelReason:         r.CancelReason,
		History:              jsonColumn[[]request.Transition]{V: history},
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func (r requestRow) toDomain() request.Request {
	return request.Request{
		ID:                   r.ID,
		Kind:                 request.Kind(r.Kind),
		CustomerID:           r.CustomerID,
		ProviderID:           r.ProviderID,
		CandidateProviderIDs: []string(r.CandidateProviderIDs),
		Category:             r.Category,
		Description:          r.Description,
		Address:              r.Address,
		Location:             geo.Point{Lat: r.Lat, Lng: r.Lng},
		ScheduledStart:       fromNullTime(r.ScheduledStart),
		ScheduledEnd:         fromNullTime(r.ScheduledEnd),
		EstimatedMinutes:     r.EstimatedMinutes,
		PriceCents:           r.PriceCents,
		SurchargePercent:     r.SurchargePercent,
		Currency:             r.Currency,
		Status:               request.Status(r.Status),
		AcceptDeadline:       fromNullTime(r.AcceptDeadline),
		StartedAt:            fromNullTime(r.StartedAt),
		CompletedAt:          fromNullTime(r.CompletedAt),
		RatingDeadline:       fromNullTime(r.RatingDeadline),
		DisputeDeadline:      fromNullTime(r.DisputeDeadline),
		Rated:                r.Rated,
		DisputeID:            r.DisputeID,
		CancelReason:         r.CancelReason,
		History:              r.History.V,
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

func requestsFromRows(rows []requestRow) []request.Request {
	result := make([]request.Request, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

func (s *Store) GetRequest(ctx context.Context, id string) (request.Request, error) {
	return getRequest(ctx, s.db, id, false)
}

func (t *tx) GetRequest(ctx context.Context, id string) (request.Request, error) {
	return getRequest(ctx, t.ext, id, true)
}

func getRequest(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (request.Request, error) {
	var row requestRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`+lockClause(lock), id); err != nil {
		return request.Request{}, notFound(err, "request", id)
	}
	return row.toDomain(), nil
}

func (t *tx) CreateRequest(ctx context.Context, r request.Request) (request.Request, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO service_requests (`+requestColumns+`)
		VALUES (:id, :kind, :customer_id, :provider_id, :candidate_provider_ids, :category, :description,
			:address, :lat, :lng, :scheduled_start, :scheduled_end, :estimated_minutes, :price_cents, :surcharge_percent,
			:currency, :status, :accept_deadline, :started_at, :completed_at, :rating_deadline, :dispute_deadline,
			:rated, :dispute_id, :cancel_reason, :history, :created_at, :updated_at)
	`, toRequestRow(r))
	if err != nil {
		return request.Request{}, conflictOr(err, "request", r.ID, "already exists")
	}
	return r, nil
}

func (t *tx) UpdateRequest(ctx context.Context, r request.Request) (request.Request, error) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now()
	}
	res, err := sqlx.NamedExecContext(ctx, t.ext, `
		UPDATE service_requests
		SET provider_id = :provider_id, candidate_provider_ids = :candidate_provider_ids,
		    estimated_minutes = :estimated_minutes, price_cents = :price_cents,
		    surcharge_percent = :surcharge_percent, status = :status,
		    started_at = :started_at, completed_at = :completed_at,
		    rating_deadline = :rating_deadline, dispute_deadline = :dispute_deadline,
		    rated = :rated, dispute_id = :dispute_id, cancel_reason = :cancel_reason,
		    history = :history, updated_at = :updated_at
		WHERE id = :id
	`, toRequestRow(r))
	if err != nil {
		return request.Request{}, err
	}
	if err := requireRow(res, "request", r.ID); err != nil {
		return request.Request{}, err
	}
	return r, nil
}

func (t *tx) ListActiveRequestsForProvider(ctx context.Context, providerID string) ([]request.Request, error) {
	var rows []requestRow
	err := sqlx.SelectContext(ctx, t.ext, &rows, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE provider_id = $1 AND status = ANY($2)
		ORDER BY scheduled_start
	`, providerID, pq.StringArray{
		string(request.StatusPending), string(request.StatusAccepted), string(request.StatusInProgress),
	})
	if err != nil {
		return nil, err
	}
	return requestsFromRows(rows), nil
}

func (s *Store) ListRequests(ctx context.Context, filter storage.RequestFilter) ([]request.Request, error) {
	statuses := make(pq.StringArray, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE (($1 = '' AND $2 = '' AND $3 = '')
		       OR ($1 <> '' AND customer_id = $1)
		       OR ($2 <> '' AND provider_id = $2)
		       OR ($3 <> '' AND status = 'pending' AND $3 = ANY(candidate_provider_ids)))
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4))
		ORDER BY created_at DESC, id
		LIMIT $5
	`, filter.CustomerID, filter.ProviderID, filter.CandidateID, statuses, pageSize(filter.Limit))
	if err != nil {
		return nil, err
	}
	return requestsFromRows(rows), nil
}

func (s *Store) ListSettlementDue(ctx context.Context, at time.Time, after storage.SettlementCursor, limit int) ([]request.Request, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE status = 'completed' AND dispute_deadline IS NOT NULL AND dispute_deadline <= $1
		  AND ($2 = '' OR (dispute_deadline, id) > ($3, $2))
		ORDER BY dispute_deadline, id
		LIMIT $4
	`, at.UTC(), after.ID, after.Deadline.UTC(), pageSize(limit))
	if err != nil {
		return nil, err
	}
	return requestsFromRows(rows), nil
}

func (s *Store) ListExpired(ctx context.Context, at time.Time, limit int) ([]request.Request, error) {
	var rows []requestRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE status = 'pending' AND accept_deadline IS NOT NULL AND accept_deadline < $1
		ORDER BY accept_deadline
		LIMIT $2
	`, at.UTC(), pageSize(limit))
	if err != nil {
		return nil, err
	}
	return requestsFromRows(rows), nil
}
