package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/pkg/logger"
)

// DefaultCommissionBasisPoints is the platform's cut of a settled job (15%).
const DefaultCommissionBasisPoints = 1500

// Webhook event types acted upon. Anything else is acknowledged and ignored.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Options configures the payment service.
type Options struct {
	CommissionBasisPoints int
	WebhookSecret         string
}

// Service builds ledger entries for lifecycle batches, drives them through
// the gateway once committed and applies gateway callbacks.
type Service struct {
	store    storage.PaymentStore
	tx       storage.Transactor
	gateway  Gateway
	notifier notifications.Deliverer
	bps      int
	secret   []byte
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a payment service. A nil gateway settles locally.
func New(store storage.PaymentStore, tx storage.Transactor, gateway Gateway, notifier notifications.Deliverer, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if gateway == nil {
		gateway = NoopGateway{}
	}
	bps := opts.CommissionBasisPoints
	if bps <= 0 {
		bps = DefaultCommissionBasisPoints
	}
	return &Service{
		store:    store,
		tx:       tx,
		gateway:  gateway,
		notifier: notifier,
		bps:      bps,
		secret:   []byte(opts.WebhookSecret),
		log:      log,
		now:      time.Now,
	}
}

// CommissionBasisPoints returns the configured platform commission.
func (s *Service) CommissionBasisPoints() int { return s.bps }

// NewHold builds the authorization placed on the customer when a price is
// fixed.
func (s *Service) NewHold(r request.Request) payment.Transaction {
	return payment.Transaction{
		RequestID:   r.ID,
		PayerID:     r.CustomerID,
		PayeeID:     payment.PlatformAccount,
		Type:        payment.TypeHold,
		AmountCents: r.PriceCents,
		Currency:    r.Currency,
		Status:      payment.StatusPending,
	}
}

// Refund builds a refund of amount to the customer.
func (s *Service) Refund(r request.Request, amountCents int64, holdRef string) payment.Transaction {
	return payment.Transaction{
		RequestID:   r.ID,
		PayerID:     payment.PlatformAccount,
		PayeeID:     r.CustomerID,
		Type:        payment.TypeRefund,
		AmountCents: amountCents,
		Currency:    r.Currency,
		Status:      payment.StatusPending,
		ExternalRef: holdRef,
	}
}

// Settlement builds the entries closing out r: the held amount minus
// refundCents is captured and split into provider payout and platform fee,
// and refundCents goes back to the customer.
func (s *Service) Settlement(r request.Request, refundCents int64, holdRef string) []payment.Transaction {
	if refundCents < 0 {
		refundCents = 0
	}
	if refundCents > r.PriceCents {
		refundCents = r.PriceCents
	}
	captured := r.PriceCents - refundCents

	var entries []payment.Transaction
	if captured > 0 {
		fee, payout := payment.Commission(captured, s.bps)
		entries = append(entries, payment.Transaction{
			RequestID:   r.ID,
			PayerID:     r.CustomerID,
			PayeeID:     payment.PlatformAccount,
			Type:        payment.TypeCapture,
			AmountCents: captured,
			Currency:    r.Currency,
			Status:      payment.StatusPending,
			ExternalRef: holdRef,
		})
		if payout > 0 {
			entries = append(entries, payment.Transaction{
				RequestID:   r.ID,
				PayerID:     payment.PlatformAccount,
				PayeeID:     r.ProviderID,
				Type:        payment.TypePayout,
				AmountCents: payout,
				Currency:    r.Currency,
				Status:      payment.StatusPending,
			})
		}
		if fee > 0 {
			entries = append(entries, payment.Transaction{
				RequestID:   r.ID,
				PayerID:     r.ProviderID,
				PayeeID:     payment.PlatformAccount,
				Type:        payment.TypeFee,
				AmountCents: fee,
				Currency:    r.Currency,
				Status:      payment.StatusPending,
			})
		}
	}
	if refundCents > 0 {
		entries = append(entries, s.Refund(r, refundCents, holdRef))
	}
	return entries
}

// HoldFor returns the request's hold entry, if any, from txns.
func HoldFor(txns []payment.Transaction) (payment.Transaction, bool) {
	for _, t := range txns {
		if t.Type == payment.TypeHold {
			return t, true
		}
	}
	return payment.Transaction{}, false
}

// ListForRequest returns a request's ledger.
func (s *Service) ListForRequest(ctx context.Context, requestID string) ([]payment.Transaction, error) {
	return s.store.ListTransactionsForRequest(ctx, requestID)
}

// ListForUser returns entries where userID pays or is paid, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]payment.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.RequiredError("user_id")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListTransactionsForUser(ctx, userID, limit)
}

// Dispatch sends committed pending entries to the gateway and records what
// it answered. Gateway errors leave the entry pending for the webhook.
func (s *Service) Dispatch(ctx context.Context, txns ...payment.Transaction) {
	for _, txn := range txns {
		if txn.Status != payment.StatusPending {
			continue
		}
		res, err := s.call(ctx, txn)
		if err != nil {
			s.log.WithError(err).
				WithField("transaction_id", txn.ID).
				WithField("type", txn.Type).
				Warn("payment gateway call failed")
			continue
		}
		if err := s.applyOutcome(ctx, txn.ID, res.Reference, res.Status, res.FailureReason); err != nil {
			s.log.WithError(err).WithField("transaction_id", txn.ID).Error("record payment outcome failed")
		}
	}
}

func (s *Service) call(ctx context.Context, txn payment.Transaction) (Result, error) {
	switch txn.Type {
	case payment.TypeHold:
		return s.gateway.Authorize(ctx, txn)
	case payment.TypeCapture:
		return s.gateway.Capture(ctx, txn)
	case payment.TypeRefund:
		return s.gateway.Refund(ctx, txn)
	case payment.TypePayout:
		return s.gateway.Payout(ctx, txn)
	default:
		// Fees are internal ledger entries.
		return Result{Status: payment.StatusSucceeded}, nil
	}
}

// WebhookResult describes how a gateway callback was handled.
type WebhookResult struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id,omitempty"`
	Handled       bool   `json:"handled"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature, optionally prefixed
// with "sha256=".
func (s *Service) VerifySignature(body []byte, signature string) error {
	if len(s.secret) == 0 {
		return apperrors.Unauthorized("payment webhooks are not configured")
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return apperrors.Unauthorized("invalid webhook signature")
	}
	want, _ := hex.DecodeString(Sign(s.secret, body))
	if !hmac.Equal(got, want) {
		return apperrors.Unauthorized("invalid webhook signature")
	}
	return nil
}

// HandleWebhook verifies and applies a gateway callback.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if err := s.VerifySignature(body, signature); err != nil {
		metrics.RecordWebhook("", false)
		return WebhookResult{}, err
	}
	if !gjson.ValidBytes(body) {
		metrics.RecordWebhook("", false)
		return WebhookResult{}, apperrors.BadRequest("webhook body is not valid JSON")
	}

	fields := gjson.GetManyBytes(body, "type", "data.transaction_id", "data.reference", "data.failure_reason")
	result := WebhookResult{Type: fields[0].String(), TransactionID: fields[1].String()}

	var status payment.Status
	switch result.Type {
	case EventPaymentSucceeded:
		status = payment.StatusSucceeded
	case EventPaymentFailed:
		status = payment.StatusFailed
	default:
		s.log.WithField("type", result.Type).Debug("ignoring payment webhook")
		metrics.RecordWebhook(result.Type, true)
		return result, nil
	}
	if result.TransactionID == "" {
		metrics.RecordWebhook(result.Type, false)
		return result, apperrors.RequiredError("data.transaction_id")
	}

	if err := s.applyOutcome(ctx, result.TransactionID, fields[2].String(), status, fields[3].String()); err != nil {
		metrics.RecordWebhook(result.Type, false)
		return result, err
	}
	result.Handled = true
	metrics.RecordWebhook(result.Type, true)
	return result, nil
}

// applyOutcome records a final gateway status. A failed hold cancels a
// request that has not started yet.
func (s *Service) applyOutcome(ctx context.Context, id, ref string, status payment.Status, reason string) error {
	var outbox notifications.Outbox
	var cancelled *request.Request
	err := s.tx.InTx(ctx, func(tx storage.Tx) error {
		txn, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if txn.Status != payment.StatusPending {
			// Final states never change; repeated callbacks are no-ops.
			return nil
		}
		if ref != "" {
			txn.ExternalRef = ref
		}
		txn.Status = status
		if status == payment.StatusFailed {
			txn.FailureReason = strings.TrimSpace(reason)
			if txn.FailureReason == "" {
				txn.FailureReason = "declined"
			}
		}
		if _, err := tx.UpdateTransaction(ctx, txn); err != nil {
			return err
		}
		if status != payment.StatusFailed {
			return nil
		}

		if err := outbox.Write(ctx, tx, notification.Notification{
			UserID:    txn.PayerID,
			Type:      notification.TypePaymentFailed,
			Title:     "Payment failed",
			Body:      fmt.Sprintf("A %s of %d cents failed: %s.", txn.Type, txn.AmountCents, txn.FailureReason),
			Data:      map[string]string{"request_id": txn.RequestID, "transaction_id": txn.ID},
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		if txn.Type != payment.TypeHold {
			return nil
		}

		r, err := tx.GetRequest(ctx, txn.RequestID)
		if err != nil {
			return err
		}
		if r.Status != request.StatusPending && r.Status != request.StatusAccepted {
			return nil
		}
		if err := r.MoveTo(request.StatusCancelled, "payments", "payment hold failed", s.now().UTC()); err != nil {
			return err
		}
		r.CancelReason = "payment failed"
		if _, err := tx.UpdateRequest(ctx, r); err != nil {
			return err
		}
		if r.ProviderID != "" {
			if err := outbox.Write(ctx, tx, notification.Notification{
				UserID:    r.ProviderID,
				Type:      notification.TypeRequestCancelled,
				Title:     "Booking cancelled",
				Body:      "The customer's payment could not be authorized.",
				Data:      map[string]string{"request_id": r.ID},
				CreatedAt: s.now().UTC(),
			}); err != nil {
				return err
			}
		}
		cancelled = &r
		return nil
	})
	if err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.Deliver(ctx, outbox.Items()...)
	}
	if cancelled != nil {
		metrics.RecordTransition(string(cancelled.Kind), string(request.StatusCancelled))
		s.log.WithField("request_id", cancelled.ID).Warn("request cancelled after failed payment hold")
	}
	s.log.WithField("transaction_id", id).WithField("status", status).Info("payment outcome recorded")
	return nil
}
