package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/servimap/servimap/internal/app/domain/moderation"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/review"
	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/services/requests"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/pkg/logger"
)

// Store is the read surface moderation needs.
type Store interface {
	storage.ModerationStore
	storage.ReviewStore
	GetProvider(ctx context.Context, id string) (provider.Provider, error)
}

// Suspender changes a provider's moderation status inside a moderation batch.
type Suspender interface {
	SetStatusTx(ctx context.Context, tx storage.Tx, id string, status provider.Status, actor string, outbox *notifications.Outbox) (provider.Provider, error)
	StatusChanged(ctx context.Context, p provider.Provider, actor string)
}

// Service handles disputes, abuse reports and review visibility.
type Service struct {
	store     Store
	tx        storage.Transactor
	requests  *requests.Service
	suspender Suspender
	notifier  notifications.Deliverer
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the moderation service.
func New(store Store, tx storage.Transactor, reqs *requests.Service, suspender Suspender, notifier notifications.Deliverer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("moderation")
	}
	return &Service{
		store:     store,
		tx:        tx,
		requests:  reqs,
		suspender: suspender,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// ListDisputes returns disputes, optionally filtered by status.
func (s *Service) ListDisputes(ctx context.Context, status domain.DisputeStatus) ([]domain.Dispute, error) {
	return s.store.ListDisputes(ctx, status)
}

// ResolveDispute closes a dispute and settles its request according to
// outcome: release pays the provider, refund returns everything to the
// customer, split refunds refundCents and releases the rest.
func (s *Service) ResolveDispute(ctx context.Context, id, adminID string, outcome domain.Outcome, refundCents int64, note string) (domain.Dispute, error) {
	if !outcome.Valid() {
		return domain.Dispute{}, apperrors.NewValidationError("outcome", "must be release, refund or split")
	}
	note = strings.TrimSpace(note)

	var (
		resolved domain.Dispute
		settled  request.Request
		outbox   notifications.Outbox
		ledger   []payment.Transaction
	)
	err := s.tx.InTx(ctx, func(tx storage.Tx) error {
		d, err := tx.GetDispute(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != domain.DisputeOpen {
			return apperrors.NewConflictError("dispute", id, "already resolved")
		}
		r, err := tx.GetRequest(ctx, d.RequestID)
		if err != nil {
			return err
		}
		if r.Status != request.StatusDisputed {
			return apperrors.NewTransitionError("request", r.ID, string(r.Status), string(request.StatusSettled))
		}

		switch outcome {
		case domain.OutcomeRelease:
			refundCents = 0
		case domain.OutcomeRefund:
			refundCents = r.PriceCents
		case domain.OutcomeSplit:
			if refundCents <= 0 || refundCents >= r.PriceCents {
				return apperrors.NewValidationError("refund_cents", fmt.Sprintf("must be between 1 and %d", r.PriceCents-1))
			}
		}

		ledger, err = s.requests.CloseOut(ctx, tx, &r, refundCents, adminID, "dispute "+string(outcome), &outbox)
		if err != nil {
			return err
		}
		if settled, err = tx.UpdateRequest(ctx, r); err != nil {
			return err
		}

		d.Status = domain.DisputeResolved
		d.Outcome = outcome
		d.RefundCents = refundCents
		d.ResolvedBy = adminID
		d.Note = note
		if resolved, err = tx.UpdateDispute(ctx, d); err != nil {
			return err
		}
		for _, to := range []string{r.CustomerID, r.ProviderID} {
			if err := outbox.Write(ctx, tx, notification.Notification{
				UserID:    to,
				Type:      notification.TypeDisputeResolved,
				Title:     "Dispute resolved",
				Body:      fmt.Sprintf("Outcome: %s.", outcome),
				Data:      map[string]string{"request_id": r.ID, "dispute_id": d.ID, "outcome": string(outcome)},
				CreatedAt: s.now().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Dispute{}, err
	}

	if s.notifier != nil {
		s.notifier.Deliver(ctx, outbox.Items()...)
	}
	s.requests.Dispatch(ctx, ledger)
	metrics.RecordTransition(string(settled.Kind), string(settled.Status))
	s.log.WithField("dispute_id", id).
		WithField("outcome", outcome).
		WithField("refund_cents", refundCents).
		Info("dispute resolved")
	return resolved, nil
}

// FileReport flags a provider or review for review by an admin.
func (s *Service) FileReport(ctx context.Context, reporterID string, target domain.TargetType, targetID, reason string) (domain.Report, error) {
	reporterID = strings.TrimSpace(reporterID)
	targetID = strings.TrimSpace(targetID)
	reason = strings.TrimSpace(reason)
	switch {
	case reporterID == "":
		return domain.Report{}, apperrors.RequiredError("reporter_id")
	case targetID == "":
		return domain.Report{}, apperrors.RequiredError("target_id")
	case reason == "":
		return domain.Report{}, apperrors.RequiredError("reason")
	}

	switch target {
	case domain.TargetProvider:
		if targetID == reporterID {
			return domain.Report{}, apperrors.NewValidationError("target_id", "cannot report yourself")
		}
		if _, err := s.store.GetProvider(ctx, targetID); err != nil {
			return domain.Report{}, err
		}
	case domain.TargetReview:
		if _, err := s.store.GetReview(ctx, targetID); err != nil {
			return domain.Report{}, err
		}
	default:
		return domain.Report{}, apperrors.NewValidationError("target_type", "must be provider or review")
	}

	report, err := s.store.CreateReport(ctx, domain.Report{
		ReporterID: reporterID,
		TargetType: target,
		TargetID:   targetID,
		Reason:     reason,
		Status:     domain.ReportOpen,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return domain.Report{}, err
	}
	s.log.WithField("report_id", report.ID).
		WithField("target_type", target).
		WithField("target_id", targetID).
		Info("report filed")
	return report, nil
}

// ListReports returns reports, optionally filtered by status.
func (s *Service) ListReports(ctx context.Context, status domain.ReportStatus) ([]domain.Report, error) {
	return s.store.ListReports(ctx, status)
}

// ResolveReport applies an admin decision to an open report. A suspension
// commits in the same batch as the report update.
func (s *Service) ResolveReport(ctx context.Context, id, adminID string, action domain.Action) (domain.Report, error) {
	switch action {
	case domain.ActionDismiss, domain.ActionHideReview:
	case domain.ActionSuspendProvider:
		if s.suspender == nil {
			return domain.Report{}, apperrors.NewConflictError("report", id, "provider suspension unavailable")
		}
	default:
		return domain.Report{}, apperrors.NewValidationError("action", "must be dismiss, hide_review or suspend_provider")
	}

	var (
		resolved  domain.Report
		suspended *provider.Provider
		outbox    notifications.Outbox
	)
	err := s.tx.InTx(ctx, func(tx storage.Tx) error {
		report, err := tx.GetReport(ctx, id)
		if err != nil {
			return err
		}
		if report.Status != domain.ReportOpen {
			return apperrors.NewConflictError("report", id, "already resolved")
		}

		switch action {
		case domain.ActionHideReview:
			if report.TargetType != domain.TargetReview {
				return apperrors.NewValidationError("action", "hide_review applies to review reports")
			}
			if err := hideReview(ctx, tx, report.TargetID); err != nil {
				return err
			}
		case domain.ActionSuspendProvider:
			providerID := report.TargetID
			if report.TargetType == domain.TargetReview {
				rev, err := tx.GetReview(ctx, report.TargetID)
				if err != nil {
					return err
				}
				providerID = rev.ProviderID
			}
			p, err := s.suspender.SetStatusTx(ctx, tx, providerID, provider.StatusSuspended, adminID, &outbox)
			if err != nil {
				return err
			}
			suspended = &p
		}

		report.Status = domain.ReportActioned
		if action == domain.ActionDismiss {
			report.Status = domain.ReportDismissed
		}
		report.Action = action
		report.ResolvedBy = adminID
		resolved, err = tx.UpdateReport(ctx, report)
		return err
	})
	if err != nil {
		return domain.Report{}, err
	}
	if s.notifier != nil {
		s.notifier.Deliver(ctx, outbox.Items()...)
	}
	if suspended != nil {
		s.suspender.StatusChanged(ctx, *suspended, adminID)
	}
	s.log.WithField("report_id", id).WithField("action", action).Info("report resolved")
	return resolved, nil
}

// hideReview hides a review and takes it out of the provider's average.
func hideReview(ctx context.Context, tx storage.Tx, reviewID string) error {
	rev, err := tx.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if rev.Hidden {
		return nil
	}
	rev.Hidden = true
	if _, err := tx.UpdateReview(ctx, rev); err != nil {
		return err
	}
	p, err := tx.GetProvider(ctx, rev.ProviderID)
	if err != nil {
		return err
	}
	p.RemoveRating(rev.Stars)
	_, err = tx.UpdateProvider(ctx, p)
	return err
}

// ListReviews returns a provider's visible reviews.
func (s *Service) ListReviews(ctx context.Context, providerID string) ([]review.Review, error) {
	if _, err := s.store.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx, providerID, false)
}
