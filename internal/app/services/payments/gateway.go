package payments

import (
	"context"
	"fmt"

	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/httputil"
)

// Result is a gateway's answer for one ledger entry. Pending results are
// finished later through the webhook.
type Result struct {
	Reference     string         `json:"reference"`
	Status        payment.Status `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// Gateway moves money with an external payment processor.
type Gateway interface {
	Authorize(ctx context.Context, txn payment.Transaction) (Result, error)
	Capture(ctx context.Context, txn payment.Transaction) (Result, error)
	Refund(ctx context.Context, txn payment.Transaction) (Result, error)
	Payout(ctx context.Context, txn payment.Transaction) (Result, error)
}

// NoopGateway settles every entry immediately. It backs local development
// and tests.
type NoopGateway struct{}

func (NoopGateway) Authorize(_ context.Context, txn payment.Transaction) (Result, error) {
	return noopResult(txn), nil
}

func (NoopGateway) Capture(_ context.Context, txn payment.Transaction) (Result, error) {
	return noopResult(txn), nil
}

func (NoopGateway) Refund(_ context.Context, txn payment.Transaction) (Result, error) {
	return noopResult(txn), nil
}

func (NoopGateway) Payout(_ context.Context, txn payment.Transaction) (Result, error) {
	return noopResult(txn), nil
}

func noopResult(txn payment.Transaction) Result {
	return Result{Reference: "noop_" + txn.ID, Status: payment.StatusSucceeded}
}

// HTTPGateway talks JSON to a payment processor.
type HTTPGateway struct {
	client *httputil.Client
}

// NewHTTPGateway wraps client, whose base URL and API key address the processor.
func NewHTTPGateway(client *httputil.Client) *HTTPGateway {
	return &HTTPGateway{client: client}
}

type gatewayRequest struct {
	TransactionID string `json:"transaction_id"`
	RequestID     string `json:"request_id"`
	PayerID       string `json:"payer_id"`
	PayeeID       string `json:"payee_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference,omitempty"`
}

func (g *HTTPGateway) Authorize(ctx context.Context, txn payment.Transaction) (Result, error) {
	return g.post(ctx, "/v1/holds", txn)
}

func (g *HTTPGateway) Capture(ctx context.Context, txn payment.Transaction) (Result, error) {
	return g.post(ctx, "/v1/captures", txn)
}

func (g *HTTPGateway) Refund(ctx context.Context, txn payment.Transaction) (Result, error) {
	return g.post(ctx, "/v1/refunds", txn)
}

func (g *HTTPGateway) Payout(ctx context.Context, txn payment.Transaction) (Result, error) {
	return g.post(ctx, "/v1/payouts", txn)
}

func (g *HTTPGateway) post(ctx context.Context, path string, txn payment.Transaction) (Result, error) {
	var res Result
	err := g.client.PostJSON(ctx, path, gatewayRequest{
		TransactionID: txn.ID,
		RequestID:     txn.RequestID,
		PayerID:       txn.PayerID,
		PayeeID:       txn.PayeeID,
		AmountCents:   txn.AmountCents,
		Currency:      txn.Currency,
		Reference:     txn.ExternalRef,
	}, &res)
	if err != nil {
		return Result{}, fmt.Errorf("payment gateway %s: %w", path, err)
	}
	switch res.Status {
	case payment.StatusSucceeded, payment.StatusFailed:
	default:
		res.Status = payment.StatusPending
	}
	return res, nil
}
