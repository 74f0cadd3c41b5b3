package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/services/payments"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
)

// Settle releases payment for a completed request whose dispute window has
// closed. Settling an already settled request returns it unchanged.
func (s *Service) Settle(ctx context.Context, id string) (request.Request, error) {
	return s.settle(ctx, id, s.now().UTC())
}

func (s *Service) settle(ctx context.Context, id string, now time.Time) (request.Request, error) {
	var (
		settled request.Request
		from    request.Status
		outbox  notifications.Outbox
		ledger  []payment.Transaction
	)
	err := s.tx.InTx(ctx, func(tx storage.Tx) error {
		r, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		from = r.Status
		if r.Status == request.StatusSettled {
			settled = r
			return nil
		}
		if r.Status != request.StatusCompleted {
			return apperrors.NewTransitionError("request", r.ID, string(r.Status), string(request.StatusSettled))
		}
		if now.Before(r.DisputeDeadline) {
			return apperrors.NewConflictError("request", r.ID, "dispute window still open")
		}
		ledger, err = s.CloseOut(ctx, tx, &r, 0, SystemActor, "dispute window closed", &outbox)
		if err != nil {
			return err
		}
		settled, err = tx.UpdateRequest(ctx, r)
		return err
	})
	if err != nil {
		return request.Request{}, err
	}
	s.afterCommit(ctx, from, settled, &outbox, ledger)
	return settled, nil
}

// CloseOut settles r inside tx: it writes the capture, payout, fee and
// refund entries for refundCents, moves r to settled and notifies both
// parties. The caller persists r and dispatches the returned entries after
// commit.
func (s *Service) CloseOut(ctx context.Context, tx storage.Tx, r *request.Request, refundCents int64, actor, note string, outbox *notifications.Outbox) ([]payment.Transaction, error) {
	txns, err := tx.ListTransactionsForRequest(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	hold, ok := payments.HoldFor(txns)
	if !ok {
		return nil, apperrors.NewConflictError("request", r.ID, "no payment hold to settle")
	}
	if hold.Status == payment.StatusFailed {
		return nil, apperrors.NewConflictError("request", r.ID, "payment hold failed")
	}
	if err := r.MoveTo(request.StatusSettled, actor, note, s.now().UTC()); err != nil {
		return nil, err
	}

	var ledger []payment.Transaction
	var payout int64
	for _, e := range s.payments.Settlement(*r, refundCents, hold.ExternalRef) {
		saved, err := tx.CreateTransaction(ctx, e)
		if err != nil {
			return nil, err
		}
		if saved.Type == payment.TypePayout {
			payout = saved.AmountCents
		}
		ledger = append(ledger, saved)
	}

	if err := outbox.Write(ctx, tx, s.note(*r, r.CustomerID, notification.TypeRequestSettled,
		"Payment settled", settledBody(refundCents, r.Currency))); err != nil {
		return nil, err
	}
	if err := outbox.Write(ctx, tx, s.note(*r, r.ProviderID, notification.TypeRequestSettled,
		"Payout on the way", fmt.Sprintf("%s %s will be paid out.", formatCents(payout), r.Currency))); err != nil {
		return nil, err
	}
	return ledger, nil
}

// Dispatch sends ledger entries committed by a CloseOut batch to the gateway.
func (s *Service) Dispatch(ctx context.Context, ledger []payment.Transaction) {
	if len(ledger) > 0 {
		s.payments.Dispatch(ctx, ledger...)
	}
}

func settledBody(refundCents int64, currency string) string {
	if refundCents > 0 {
		return fmt.Sprintf("%s %s was refunded to you.", formatCents(refundCents), currency)
	}
	return "Thanks for using ServiMap."
}

func formatCents(c int64) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}

// errSkip aborts a batch that found nothing to do.
var errSkip = errors.New("skip")

// SettleDue settles every request whose dispute window closed before now
// and reports how many succeeded. It pages through the whole queue, so a
// request that keeps failing does not hold back the ones behind it.
func (s *Service) SettleDue(ctx context.Context, now time.Time) (int, error) {
	var cursor storage.SettlementCursor
	settled := 0
	for {
		due, err := s.requests.ListSettlementDue(ctx, now, cursor, s.settings.BatchSize)
		if err != nil {
			return settled, fmt.Errorf("list settlement due: %w", err)
		}
		for _, r := range due {
			if err := ctx.Err(); err != nil {
				return settled, err
			}
			cursor = storage.SettlementCursor{Deadline: r.DisputeDeadline, ID: r.ID}
			if _, err := s.settle(ctx, r.ID, now); err != nil {
				metrics.RecordSettlement("settle", false)
				s.log.WithError(err).WithField("request_id", r.ID).Warn("settlement failed")
				continue
			}
			metrics.RecordSettlement("settle", true)
			settled++
		}
		if len(due) < s.settings.BatchSize {
			return settled, nil
		}
	}
}

// ExpireStale expires pending requests nobody accepted in time, refunding
// any hold.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.requests.ListExpired(ctx, now, s.settings.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	expired := 0
	for _, candidate := range stale {
		_, err := s.mutate(ctx, candidate.ID, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
			if r.Status != request.StatusPending || !now.After(r.AcceptDeadline) {
				return nil, errSkip
			}
			if err := r.MoveTo(request.StatusExpired, SystemActor, "accept deadline passed", now); err != nil {
				return nil, err
			}
			ledger, err := s.releaseHold(ctx, tx, *r)
			if err != nil {
				return nil, err
			}
			if err := outbox.Write(ctx, tx, s.note(*r, r.CustomerID, notification.TypeRequestExpired,
				"Request expired", "No provider accepted in time. Any hold has been released.")); err != nil {
				return nil, err
			}
			if r.ProviderID != "" {
				if err := outbox.Write(ctx, tx, s.note(*r, r.ProviderID, notification.TypeRequestExpired,
					"Booking expired", "The booking request expired before you responded.")); err != nil {
					return nil, err
				}
			}
			return ledger, nil
		})
		switch {
		case errors.Is(err, errSkip):
		case err != nil:
			metrics.RecordSettlement("expire", false)
			s.log.WithError(err).WithField("request_id", candidate.ID).Warn("expire failed")
		default:
			metrics.RecordSettlement("expire", true)
			expired++
		}
	}
	return expired, nil
}
