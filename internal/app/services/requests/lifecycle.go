package requests

import (
	"context"
	"fmt"
	"strings"

	"github.com/servimap/servimap/internal/app/domain/moderation"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/review"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
)

const maxCommentLength = 2000

// Start marks an accepted request as in progress.
func (s *Service) Start(ctx context.Context, id, providerID string) (request.Request, error) {
	return s.mutate(ctx, id, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
		if err := apperrors.EnsureOwnership(r.ProviderID, providerID, "request", r.ID); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		if err := r.MoveTo(request.StatusInProgress, providerID, "", now); err != nil {
			return nil, err
		}
		r.StartedAt = now
		return nil, outbox.Write(ctx, tx, s.note(*r, r.CustomerID, notification.TypeRequestStarted,
			"Work started", "Your provider has started the job."))
	})
}

// Complete finishes an in-progress request and opens the rating and
// dispute windows.
func (s *Service) Complete(ctx context.Context, id, providerID string) (request.Request, error) {
	return s.mutate(ctx, id, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
		if err := apperrors.EnsureOwnership(r.ProviderID, providerID, "request", r.ID); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		if err := r.MoveTo(request.StatusCompleted, providerID, "", now); err != nil {
			return nil, err
		}
		r.CompletedAt = now
		r.RatingDeadline = now.Add(s.settings.RatingWindow)
		r.DisputeDeadline = now.Add(s.settings.DisputeWindow)
		return nil, outbox.Write(ctx, tx, s.note(*r, r.CustomerID, notification.TypeRequestCompleted,
			"Job completed",
			fmt.Sprintf("Rate your provider by %s. Payment is released after %s unless you open a dispute.",
				r.RatingDeadline.Format("Jan 2 15:04 MST"), r.DisputeDeadline.Format("Jan 2 15:04 MST"))))
	})
}

// Cancel withdraws a request before work starts and refunds the hold. The
// customer or the assigned provider may cancel.
func (s *Service) Cancel(ctx context.Context, id, userID, reason string) (request.Request, error) {
	return s.mutate(ctx, id, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
		if !r.IsParty(userID) {
			return nil, apperrors.NewOwnershipError("request", r.ID, userID)
		}
		reason = strings.TrimSpace(reason)
		if err := r.MoveTo(request.StatusCancelled, userID, reason, s.now().UTC()); err != nil {
			return nil, err
		}
		r.CancelReason = reason

		ledger, err := s.releaseHold(ctx, tx, *r)
		if err != nil {
			return nil, err
		}

		var notify []string
		switch {
		case userID == r.CustomerID && r.ProviderID != "":
			notify = []string{r.ProviderID}
		case userID == r.CustomerID:
			notify = r.CandidateProviderIDs
		default:
			notify = []string{r.CustomerID}
		}
		for _, to := range notify {
			if err := outbox.Write(ctx, tx, s.note(*r, to, notification.TypeRequestCancelled,
				"Request cancelled", withReason("The request was cancelled", reason))); err != nil {
				return nil, err
			}
		}
		return ledger, nil
	})
}

// Rate records the customer's review of a completed request and folds it
// into the provider's average. Each request can be rated once, before the
// rating deadline.
func (s *Service) Rate(ctx context.Context, id, customerID string, stars int, comment string) (review.Review, error) {
	if stars < review.MinStars || stars > review.MaxStars {
		return review.Review{}, apperrors.NewValidationError("stars", fmt.Sprintf("must be between %d and %d", review.MinStars, review.MaxStars))
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLength {
		return review.Review{}, apperrors.NewValidationError("comment", fmt.Sprintf("must be at most %d characters", maxCommentLength))
	}

	var saved review.Review
	_, err := s.mutate(ctx, id, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
		if err := apperrors.EnsureOwnership(r.CustomerID, customerID, "request", r.ID); err != nil {
			return nil, err
		}
		if r.Status != request.StatusCompleted {
			return nil, apperrors.NewConflictError("request", r.ID, "only completed requests can be rated")
		}
		if r.Rated {
			return nil, apperrors.NewConflictError("request", r.ID, "already rated")
		}
		if s.now().After(r.RatingDeadline) {
			return nil, apperrors.NewConflictError("request", r.ID, "rating window closed")
		}

		var err error
		saved, err = tx.CreateReview(ctx, review.Review{
			RequestID:  r.ID,
			ProviderID: r.ProviderID,
			CustomerID: customerID,
			Stars:      stars,
			Comment:    comment,
			CreatedAt:  s.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		p, err := tx.GetProvider(ctx, r.ProviderID)
		if err != nil {
			return nil, err
		}
		p.AddRating(stars)
		if _, err := tx.UpdateProvider(ctx, p); err != nil {
			return nil, err
		}
		r.Rated = true
		return nil, outbox.Write(ctx, tx, s.note(*r, r.ProviderID, notification.TypeRequestRated,
			"New review", fmt.Sprintf("You received %d stars.", stars)))
	})
	if err != nil {
		return review.Review{}, err
	}
	return saved, nil
}

// OpenDispute moves a completed request into moderation. Either party may
// open one before the dispute deadline; settlement waits for an admin.
func (s *Service) OpenDispute(ctx context.Context, id, actor, reason string) (moderation.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return moderation.Dispute{}, apperrors.RequiredError("reason")
	}

	var opened moderation.Dispute
	_, err := s.mutate(ctx, id, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
		if !r.IsParty(actor) {
			return nil, apperrors.NewOwnershipError("request", r.ID, actor)
		}
		now := s.now().UTC()
		if r.Status == request.StatusCompleted && now.After(r.DisputeDeadline) {
			return nil, apperrors.NewConflictError("request", r.ID, "dispute window closed")
		}
		if err := r.MoveTo(request.StatusDisputed, actor, reason, now); err != nil {
			return nil, err
		}

		var err error
		opened, err = tx.CreateDispute(ctx, moderation.Dispute{
			RequestID: r.ID,
			OpenedBy:  actor,
			Reason:    reason,
			Status:    moderation.DisputeOpen,
			CreatedAt: now,
		})
		if err != nil {
			return nil, err
		}
		r.DisputeID = opened.ID

		other := r.CustomerID
		if actor == r.CustomerID {
			other = r.ProviderID
		}
		return nil, outbox.Write(ctx, tx, s.note(*r, other, notification.TypeDisputeOpened,
			"Dispute opened", "Payment is on hold until an admin reviews the case."))
	})
	if err != nil {
		return moderation.Dispute{}, err
	}
	return opened, nil
}
