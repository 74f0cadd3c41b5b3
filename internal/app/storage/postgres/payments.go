package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/servimap/servimap/internal/app/domain/payment"
)

const transactionColumns = `id, request_id, payer_id, payee_id, type, amount_cents, currency, status,
	external_ref, failure_reason, created_at, updated_at`

type transactionRow struct {
	ID            string    `db:"id"`
	RequestID     string    `db:"request_id"`
	PayerID       string    `db:"payer_id"`
	PayeeID       string    `db:"payee_id"`
	Type          string    `db:"type"`
	AmountCents   int64     `db:"amount_cents"`
	Currency      string    `db:"currency"`
	Status        string    `db:"status"`
	ExternalRef   string    `db:"external_ref"`
	FailureReason string    `db:"failure_reason"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func toTransactionRow(t payment.Transaction) transactionRow {
	return transactionRow{
		ID:            t.ID,
		RequestID:     t.RequestID,
		PayerID:       t.PayerID,
		PayeeID:       t.PayeeID,
		Type:          string(t.Type),
		AmountCents:   t.AmountCents,
		Currency:      t.Currency,
		Status:        string(t.Status),
		ExternalRef:   t.ExternalRef,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func (r transactionRow) toDomain() payment.Transaction {
	return payment.Transaction{
		ID:            r.ID,
		RequestID:     r.RequestID,
		PayerID:       r.PayerID,
		PayeeID:       r.PayeeID,
		Type:          payment.Type(r.Type),
		AmountCents:   r.AmountCents,
		Currency:      r.Currency,
		Status:        payment.Status(r.Status),
		ExternalRef:   r.ExternalRef,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func transactionsFromRows(rows []transactionRow) []payment.Transaction {
	result := make([]payment.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

func (s *Store) GetTransaction(ctx context.Context, id string) (payment.Transaction, error) {
	return getTransaction(ctx, s.db, id, false)
}

func (t *tx) GetTransaction(ctx context.Context, id string) (payment.Transaction, error) {
	return getTransaction(ctx, t.ext, id, true)
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, id string, lock bool) (payment.Transaction, error) {
	var row transactionRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`+lockClause(lock), id); err != nil {
		return payment.Transaction{}, notFound(err, "transaction", id)
	}
	return row.toDomain(), nil
}

func (s *Store) ListTransactionsForRequest(ctx context.Context, requestID string) ([]payment.Transaction, error) {
	return listTransactionsForRequest(ctx, s.db, requestID)
}

func (t *tx) ListTransactionsForRequest(ctx context.Context, requestID string) ([]payment.Transaction, error) {
	return listTransactionsForRequest(ctx, t.ext, requestID)
}

func listTransactionsForRequest(ctx context.Context, q sqlx.QueryerContext, requestID string) ([]payment.Transaction, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE request_id = $1
		ORDER BY created_at, id
	`, requestID); err != nil {
		return nil, err
	}
	return transactionsFromRows(rows), nil
}

func (s *Store) ListTransactionsForUser(ctx context.Context, userID string, limit int) ([]payment.Transaction, error) {
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, pageSize(limit)); err != nil {
		return nil, err
	}
	return transactionsFromRows(rows), nil
}

func (t *tx) CreateTransaction(ctx context.Context, txn payment.Transaction) (payment.Transaction, error) {
	txn.ID = uuid.NewString()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now()
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = txn.CreatedAt
	}
	if _, err := sqlx.NamedExecContext(ctx, t.ext, `
		INSERT INTO payment_transactions (`+transactionColumns+`)
		VALUES (:id, :request_id, :payer_id, :payee_id, :type, :amount_cents, :currency, :status,
			:external_ref, :failure_reason, :created_at, :updated_at)
	`, toTransactionRow(txn)); err != nil {
		return payment.Transaction{}, err
	}
	return txn, nil
}

func (t *tx) UpdateTransaction(ctx context.Context, txn payment.Transaction) (payment.Transaction, error) {
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = now()
	}
	res, err := sqlx.NamedExecContext(ctx, t.ext, `
		UPDATE payment_transactions
		SET status = :status, external_ref = :external_ref, failure_reason = :failure_reason, updated_at = :updated_at
		WHERE id = :id
	`, toTransactionRow(txn))
	if err != nil {
		return payment.Transaction{}, err
	}
	if err := requireRow(res, "transaction", txn.ID); err != nil {
		return payment.Transaction{}, err
	}
	return txn, nil
}
