package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/servimap/servimap/internal/app/domain/moderation"
	"github.com/servimap/servimap/internal/app/domain/review"
)

// --- reviews -------------------------------------------------------------------

const reviewColumns = `id, request_id, provider_id, customer_id, stars, comment, hidden, created_at, updated_at`

type reviewRow struct {
	ID         string    `db:"id"`
	RequestID  string    `db:"request_id"`
	ProviderID string    `db:"provider_id"`
	CustomerID string    `db:"customer_id"`
	Stars      int       `db:"stars"`
	Comment    string    `db:"comment"`
	Hidden     bool      `db:"hidden"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r reviewRow) toDomain() review.Review {
	return review.Review{
		ID:         r.ID,
		RequestID:  r.RequestID,
		ProviderID: r.ProviderID,
		CustomerID: r.CustomerID,
		Stars:      r.Stars,
		Comment:    r.Comment,
		Hidden:     r.Hidden,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func toReviewRow(r review.Review) reviewRow {
	return reviewRow{
		ID:         r.ID,
		RequestID:  r.RequestID,
		ProviderID: r.ProviderID,
		CustomerID: r.CustomerID,
		Stars:      r.Stars,
		Comment:    r.Comment,
		Hidden:     r.Hidden,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (s *Store) GetReview(ctx context.Context, id string) (review.Review, error) {
	return getReview(ctx, s.db, id, false)
}

func (t *tx) GetReview(ctx context.Context, id string) (review.Review, error) {
	return getReview(ctx, t.ext, id, true)
}

func getReview(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (review.Review, error) {
	var row reviewRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`+lockClause(lock), id); err != nil {
		return review.Review{}, notFound(err, "review", id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListReviews(ctx context.Context, providerID string, includeHidden bool) ([]review.Review, error) {
	var rows []reviewRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE provider_id = $1 AND ($2 OR NOT hidden)
		ORDER BY created_at DESC, id
	`, providerID, includeHidden); err != nil {
		return nil, err
	}
	result := make([]review.Review, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (t *tx) CreateReview(ctx context.Context, r review.Review) (review.Review, error) {
	r.ID = uuid.NewString()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if _, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES (:id, :request_id, :provider_id, :customer_id, :stars, :comment, :hidden, :created_at, :updated_at)
	`, toReviewRow(r)); err != nil {
		return review.Review{}, conflictOr(err, "review", r.RequestID, "request already rated")
	}
	return r, nil
}

func (t *tx) UpdateReview(ctx context.Context, r review.Review) (review.Review, error) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now()
	}
	res, err := sqlx.NamedExecContext(ctx, t.ext, `
		UPDATE reviews SET comment = :comment, hidden = :hidden, updated_at = :updated_at WHERE id = :id
	`, toReviewRow(r))
	if err != nil {
		return review.Review{}, err
	}
	if err := requireRow(res, "review", r.ID); err != nil {
		return review.Review{}, err
	}
	return r, nil
}

// --- disputes ------------------------------------------------------------------

const disputeColumns = `id, request_id, opened_by, reason, status, outcome, refund_cents, resolved_by, note, created_at, updated_at`

type disputeRow struct {
	ID          string    `db:"id"`
	RequestID   string    `db:"request_id"`
	OpenedBy    string    `db:"opened_by"`
	Reason      string    `db:"reason"`
	Status      string    `db:"status"`
	Outcome     string    `db:"outcome"`
	RefundCents int64     `db:"refund_cents"`
	ResolvedBy  string    `db:"resolved_by"`
	Note        string    `db:"note"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r disputeRow) toDomain() moderation.Dispute {
	return moderation.Dispute{
		ID:          r.ID,
		RequestID:   r.RequestID,
		OpenedBy:    r.OpenedBy,
		Reason:      r.Reason,
		Status:      moderation.DisputeStatus(r.Status),
		Outcome:     moderation.Outcome(r.Outcome),
		RefundCents: r.RefundCents,
		ResolvedBy:  r.ResolvedBy,
		Note:        r.Note,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func toDisputeRow(d moderation.Dispute) disputeRow {
	return disputeRow{
		ID:          d.ID,
		RequestID:   d.RequestID,
		OpenedBy:    d.OpenedBy,
		Reason:      d.Reason,
		Status:      string(d.Status),
		Outcome:     string(d.Outcome),
		RefundCents: d.RefundCents,
		ResolvedBy:  d.ResolvedBy,
		Note:        d.Note,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (s *Store) GetDispute(ctx context.Context, id string) (moderation.Dispute, error) {
	return getDispute(ctx, s.db, id, false)
}

func (t *tx) GetDispute(ctx context.Context, id string) (moderation.Dispute, error) {
	return getDispute(ctx, t.ext, id, true)
}

func getDispute(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (moderation.Dispute, error) {
	var row disputeRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`+lockClause(lock), id); err != nil {
		return moderation.Dispute{}, notFound(err, "dispute", id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListDisputes(ctx context.Context, status moderation.DisputeStatus) ([]moderation.Dispute, error) {
	var rows []disputeRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at, id
	`, string(status)); err != nil {
		return nil, err
	}
	result := make([]moderation.Dispute, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (t *tx) CreateDispute(ctx context.Context, d moderation.Dispute) (moderation.Dispute, error) {
	d.ID = uuid.NewString()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if _, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES (:id, :request_id, :opened_by, :reason, :status, :outcome, :refund_cents, :resolved_by, :note, :created_at, :updated_at)
	`, toDisputeRow(d)); err != nil {
		return moderation.Dispute{}, err
	}
	return d, nil
}

func (t *tx) UpdateDispute(ctx context.Context, d moderation.Dispute) (moderation.Dispute, error) {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now()
	}
	res, err := sqlx.NamedExecContext(ctx, t.ext, `
		UPDATE disputes
		SET status = :status, outcome = :outcome, refund_cents = :refund_cents,
		    resolved_by = :resolved_by, note = :note, updated_at = :updated_at
		WHERE id = :id
	`, toDisputeRow(d))
	if err != nil {
		return moderation.Dispute{}, err
	}
	if err := requireRow(res, "dispute", d.ID); err != nil {
		return moderation.Dispute{}, err
	}
	return d, nil
}

// --- reports -------------------------------------------------------------------

const reportColumns = `id, reporter_id, target_type, target_id, reason, status, action, resolved_by, created_at, updated_at`

type reportRow struct {
	ID         string    `db:"id"`
	ReporterID string    `db:"reporter_id"`
	TargetType string    `db:"target_type"`
	TargetID   string    `db:"target_id"`
	Reason     string    `db:"reason"`
	Status     string    `db:"status"`
	Action     string    `db:"action"`
	ResolvedBy string    `db:"resolved_by"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r reportRow) toDomain() moderation.Report {
	return moderation.Report{
		ID:         r.ID,
		ReporterID: r.ReporterID,
		TargetType: moderation.TargetType(r.TargetType),
		TargetID:   r.TargetID,
		Reason:     r.Reason,
		Status:     moderation.ReportStatus(r.Status),
		Action:     moderation.Action(r.Action),
		ResolvedBy: r.ResolvedBy,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func toReportRow(r moderation.Report) reportRow {
	return reportRow{
		ID:         r.ID,
		ReporterID: r.ReporterID,
		TargetType: string(r.TargetType),
		TargetID:   r.TargetID,
		Reason:     r.Reason,
		Status:     string(r.Status),
		Action:     string(r.Action),
		ResolvedBy: r.ResolvedBy,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (s *Store) CreateReport(ctx context.Context, r moderation.Report) (moderation.Report, error) {
	r.ID = uuid.NewString()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if _, err := sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (:id, :reporter_id, :target_type, :target_id, :reason, :status, :action, :resolved_by, :created_at, :updated_at)
	`, toReportRow(r)); err != nil {
		return moderation.Report{}, err
	}
	return r, nil
}

func (s *Store) GetReport(ctx context.Context, id string) (moderation.Report, error) {
	return getReport(ctx, s.db, id, false)
}

func (t *tx) GetReport(ctx context.Context, id string) (moderation.Report, error) {
	return getReport(ctx, t.ext, id, true)
}

func getReport(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (moderation.Report, error) {
	var row reportRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+reportColumns+` FROM reports WHERE id = $1`+lockClause(lock), id); err != nil {
		return moderation.Report{}, notFound(err, "report", id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListReports(ctx context.Context, status moderation.ReportStatus) ([]moderation.Report, error) {
	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at, id
	`, string(status)); err != nil {
		return nil, err
	}
	result := make([]moderation.Report, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (t *tx) UpdateReport(ctx context.Context, r moderation.Report) (moderation.Report, error) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now()
	}
	res, err := sqlx.NamedExecContext(ctx, t.ext, `
		UPDATE reports SET status = :status, action = :action, resolved_by = :resolved_by, updated_at = :updated_at
		WHERE id = :id
	`, toReportRow(r))
	if err != nil {
		return moderation.Report{}, err
	}
	if err := requireRow(res, "report", r.ID); err != nil {
		return moderation.Report{}, err
	}
	return r, nil
}
