package requests

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/services/payments"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/catalog"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/geo"
	"github.com/servimap/servimap/pkg/logger"
)

// SystemActor is recorded on transitions made by background jobs.
const SystemActor = "system"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Settings tunes lifecycle deadlines.
type Settings struct {
	// AcceptTimeout bounds how long a scheduled booking waits for the
	// provider. The deadline never passes the booked start.
	AcceptTimeout time.Duration
	RatingWindow  time.Duration
	DisputeWindow time.Duration
	BatchSize     int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		AcceptTimeout: 24 * time.Hour,
		RatingWindow:  48 * time.Hour,
		DisputeWindow: 72 * time.Hour,
		BatchSize:     100,
	}
}

// SlotChecker validates a booking slot inside a batch.
type SlotChecker interface {
	CheckSlotTx(ctx context.Context, tx storage.Tx, providerID, excludeID string, start, end time.Time) error
}

// Service drives service requests through their lifecycle. Every status
// change, together with its ledger entries and notifications, commits as
// one batch.
type Service struct {
	requests storage.RequestStore
	tx       storage.Transactor
	catalog  *catalog.Catalog
	slots    SlotChecker
	payments *payments.Service
	notifier notifications.Deliverer
	settings Settings
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the request service.
func New(requests storage.RequestStore, tx storage.Transactor, cat *catalog.Catalog, slots SlotChecker, pay *payments.Service, notifier notifications.Deliverer, settings Settings, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	def := DefaultSettings()
	if settings.AcceptTimeout <= 0 {
		settings.AcceptTimeout = def.AcceptTimeout
	}
	if settings.RatingWindow <= 0 {
		settings.RatingWindow = def.RatingWindow
	}
	if settings.DisputeWindow <= 0 {
		settings.DisputeWindow = def.DisputeWindow
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = def.BatchSize
	}
	return &Service{
		requests: requests,
		tx:       tx,
		catalog:  cat,
		slots:    slots,
		payments: pay,
		notifier: notifier,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// CreateInput describes a scheduled booking.
type CreateInput struct {
	ProviderID     string    `json:"provider_id"`
	Category       string    `json:"category"`
	Description    string    `json:"description"`
	Address        string    `json:"address"`
	Location       geo.Point `json:"location"`
	ScheduledStart time.Time `json:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end"`
}

// Create books a provider. The request, the customer's payment hold and the
// provider's notification commit together.
func (s *Service) Create(ctx context.Context, customerID string, in CreateInput) (request.Request, error) {
	customerID = strings.TrimSpace(customerID)
	in.ProviderID = strings.TrimSpace(in.ProviderID)
	switch {
	case customerID == "":
		return request.Request{}, apperrors.RequiredError("customer_id")
	case in.ProviderID == "":
		return request.Request{}, apperrors.RequiredError("provider_id")
	case in.ProviderID == customerID:
		return request.Request{}, apperrors.NewValidationError("provider_id", "cannot book yourself")
	}
	cat, err := s.catalog.Get(in.Category)
	if err != nil {
		return request.Request{}, apperrors.NewValidationError("category", "unknown category "+in.Category)
	}
	if err := in.Location.Validate(); err != nil {
		return request.Request{}, apperrors.NewValidationError("location", err.Error())
	}

	now := s.now().UTC()
	start, end := in.ScheduledStart.UTC(), in.ScheduledEnd.UTC()
	var created request.Request
	var outbox notifications.Outbox
	var ledger []payment.Transaction

	err = s.tx.InTx(ctx, func(tx storage.Tx) error {
		p, err := tx.GetProvider(ctx, in.ProviderID)
		if err != nil {
			return err
		}
		if p.Status != provider.StatusApproved {
			return apperrors.NewConflictError("provider", p.ID, "provider is not accepting bookings")
		}
		if !p.Serves(cat.ID) {
			return apperrors.NewValidationError("category", p.BusinessName+" does not offer "+cat.ID)
		}
		if s.slots != nil {
			if err := s.slots.CheckSlotTx(ctx, tx, p.ID, "", start, end); err != nil {
				return err
			}
		}

		minutes := int(end.Sub(start) / time.Minute)
		price := cat.Quote(minutes, p.HourlyRateCents, 0)
		if price <= 0 {
			return apperrors.NewValidationError("hourly_rate_cents", "provider rate cannot be quoted")
		}
		deadline := now.Add(s.settings.AcceptTimeout)
		if start.Before(deadline) {
			deadline = start
		}
		created, err = tx.CreateRequest(ctx, request.Request{
			Kind:             request.KindScheduled,
			CustomerID:       customerID,
			ProviderID:       p.ID,
			Category:         cat.ID,
			Description:      strings.TrimSpace(in.Description),
			Address:          strings.TrimSpace(in.Address),
			Location:         in.Location,
			ScheduledStart:   start,
			ScheduledEnd:     end,
			EstimatedMinutes: minutes,
			PriceCents:       price,
			Currency:         p.Currency,
			Status:           request.StatusPending,
			AcceptDeadline:   deadline,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return err
		}
		hold, err := tx.CreateTransaction(ctx, s.payments.NewHold(created))
		if err != nil {
			return err
		}
		ledger = append(ledger, hold)
		return outbox.Write(ctx, tx, s.note(created, p.ID, notification.TypeRequestCreated,
			"New booking request",
			fmt.Sprintf("%s on %s.", cat.Name, start.Format(time.RFC1123))))
	})
	if err != nil {
		return request.Request{}, err
	}
	s.afterCommit(ctx, "", created, &outbox, ledger)
	s.log.WithField("request_id", created.ID).
		WithField("customer_id", customerID).
		WithField("provider_id", created.ProviderID).
		Info("booking created")
	return created, nil
}

// Accept assigns a pending request. Scheduled requests may only be accepted
// by their provider; emergency requests go to the first candidate to accept,
// at that candidate's price.
func (s *Service) Accept(ctx context.Context, id, providerID string) (request.Request, error) {
	return s.mutate(ctx, id, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
		now := s.now().UTC()
		if r.Status == request.StatusPending && now.After(r.AcceptDeadline) {
			return nil, apperrors.NewConflictError("request", r.ID, "offer expired")
		}
		var ledger []payment.Transaction

		switch r.Kind {
		case request.KindEmergency:
			if !r.IsCandidate(providerID) {
				return nil, apperrors.NewOwnershipError("request", r.ID, providerID)
			}
			if providerID == r.CustomerID {
				return nil, apperrors.NewValidationError("provider_id", "cannot accept your own request")
			}
			if r.Status != request.StatusPending {
				return nil, apperrors.NewConflictError("request", r.ID, "already taken")
			}
			p, err := tx.GetProvider(ctx, providerID)
			if err != nil {
				return nil, err
			}
			cfg, err := tx.GetEmergencyConfig(ctx, providerID)
			if err != nil && !apperrors.IsNotFound(err) {
				return nil, err
			}
			if p.Status != provider.StatusApproved || !cfg.Ready() {
				return nil, apperrors.NewConflictError("provider", providerID, "not available for emergencies")
			}
			cat, err := s.catalog.Get(r.Category)
			if err != nil {
				return nil, err
			}
			r.ProviderID = providerID
			r.SurchargePercent = cfg.SurchargePercent
			r.Currency = p.Currency
			r.PriceCents = cat.Quote(r.EstimatedMinutes, p.HourlyRateCents, cfg.SurchargePercent)
			if r.PriceCents <= 0 {
				return nil, apperrors.NewValidationError("hourly_rate_cents", "provider rate cannot be quoted")
			}
			if err := r.MoveTo(request.StatusAccepted, providerID, "", now); err != nil {
				return nil, err
			}
			ledger = append(ledger, s.payments.NewHold(*r))
			for _, other := range r.CandidateProviderIDs {
				if other == providerID {
					continue
				}
				if err := outbox.Write(ctx, tx, s.note(*r, other, notification.TypeEmergencyTaken,
					"Emergency taken", "Another provider accepted this request.")); err != nil {
					return nil, err
				}
			}
		default:
			if err := apperrors.EnsureOwnership(r.ProviderID, providerID, "request", r.ID); err != nil {
				return nil, err
			}
			if err := r.MoveTo(request.StatusAccepted, providerID, "", now); err != nil {
				return nil, err
			}
		}

		return ledger, outbox.Write(ctx, tx, s.note(*r, r.CustomerID, notification.TypeRequestAccepted,
			"Request accepted", "Your provider is confirmed."))
	})
}

// Reject declines a pending request. An emergency rejection only withdraws
// the candidate; the request is rejected once no candidates remain.
func (s *Service) Reject(ctx context.Context, id, providerID, reason string) (request.Request, error) {
	return s.mutate(ctx, id, func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error) {
		now := s.now().UTC()
		reason = strings.TrimSpace(reason)

		if r.Kind == request.KindEmergency {
			if !r.IsCandidate(providerID) {
				return nil, apperrors.NewOwnershipError("request", r.ID, providerID)
			}
			if r.Status != request.StatusPending {
				return nil, apperrors.NewTransitionError("request", r.ID, string(r.Status), string(request.StatusRejected))
			}
			remaining := make([]string, 0, len(r.CandidateProviderIDs))
			for _, c := range r.CandidateProviderIDs {
				if c != providerID {
					remaining = append(remaining, c)
				}
			}
			r.CandidateProviderIDs = remaining
			if len(remaining) > 0 {
				return nil, nil
			}
			if err := r.MoveTo(request.StatusRejected, providerID, "no candidates left", now); err != nil {
				return nil, err
			}
			return nil, outbox.Write(ctx, tx, s.note(*r, r.CustomerID, notification.TypeRequestRejected,
				"No provider available", "Every nearby provider declined. Please try again."))
		}

		if err := apperrors.EnsureOwnership(r.ProviderID, providerID, "request", r.ID); err != nil {
			return nil, err
		}
		if err := r.MoveTo(request.StatusRejected, providerID, reason, now); err != nil {
			return nil, err
		}
		ledger, err := s.releaseHold(ctx, tx, *r)
		if err != nil {
			return nil, err
		}
		return ledger, outbox.Write(ctx, tx, s.note(*r, r.CustomerID, notification.TypeRequestRejected,
			"Booking declined", withReason("The provider declined your booking", reason)))
	})
}

// Get returns a request visible to userID. Admins see everything.
func (s *Service) Get(ctx context.Context, id, userID string, role user.Role) (request.Request, error) {
	r, err := s.requests.GetRequest(ctx, id)
	if err != nil {
		return request.Request{}, err
	}
	if role != user.RoleAdmin && !r.Visible(userID) {
		return request.Request{}, apperrors.NewOwnershipError("request", id, userID)
	}
	return r, nil
}

// List returns the caller's requests, newest first. Providers also see
// pending emergency offers.
func (s *Service) List(ctx context.Context, userID string, role user.Role, statuses []request.Status, limit int) ([]request.Request, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.RequiredError("user_id")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	filter := storage.RequestFilter{Statuses: statuses, Limit: limit}
	switch role {
	case user.RoleAdmin:
	case user.RoleProvider:
		filter.ProviderID = userID
		filter.CandidateID = userID
	default:
		filter.CustomerID = userID
	}
	return s.requests.ListRequests(ctx, filter)
}

// Transactions returns the ledger of a request visible to userID.
func (s *Service) Transactions(ctx context.Context, id, userID string, role user.Role) ([]payment.Transaction, error) {
	if _, err := s.Get(ctx, id, userID, role); err != nil {
		return nil, err
	}
	return s.payments.ListForRequest(ctx, id)
}

type mutation func(tx storage.Tx, r *request.Request, outbox *notifications.Outbox) ([]payment.Transaction, error)

// mutate loads request id inside a batch, applies fn and persists the
// request with the ledger entries fn returns.
func (s *Service) mutate(ctx context.Context, id string, fn mutation) (request.Request, error) {
	var (
		updated request.Request
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
		entries, err := fn(tx, &r, &outbox)
		if err != nil {
			return err
		}
		for _, e := range entries {
			saved, err := tx.CreateTransaction(ctx, e)
			if err != nil {
				return err
			}
			ledger = append(ledger, saved)
		}
		updated, err = tx.UpdateRequest(ctx, r)
		return err
	})
	if err != nil {
		return request.Request{}, err
	}
	s.afterCommit(ctx, from, updated, &outbox, ledger)
	return updated, nil
}

func (s *Service) afterCommit(ctx context.Context, from request.Status, r request.Request, outbox *notifications.Outbox, ledger []payment.Transaction) {
	if s.notifier != nil {
		s.notifier.Deliver(ctx, outbox.Items()...)
	}
	if len(ledger) > 0 {
		s.payments.Dispatch(ctx, ledger...)
	}
	if r.Status != from {
		metrics.RecordTransition(string(r.Kind), string(r.Status))
		s.log.WithField("request_id", r.ID).
			WithField("from", from).
			WithField("to", r.Status).
			Info("request transitioned")
	}
}

// releaseHold refunds the customer's hold unless it failed or was already
// returned.
func (s *Service) releaseHold(ctx context.Context, tx storage.Tx, r request.Request) ([]payment.Transaction, error) {
	txns, err := tx.ListTransactionsForRequest(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	hold, ok := payments.HoldFor(txns)
	if !ok || hold.Status == payment.StatusFailed {
		return nil, nil
	}
	for _, t := range txns {
		if t.Type == payment.TypeRefund {
			return nil, nil
		}
	}
	return []payment.Transaction{s.payments.Refund(r, hold.AmountCents, hold.ExternalRef)}, nil
}

func (s *Service) note(r request.Request, userID string, typ notification.Type, title, body string) notification.Notification {
	return notification.Notification{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		Data:      map[string]string{"request_id": r.ID, "status": string(r.Status)},
		CreatedAt: s.now().UTC(),
	}
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg + "."
	}
	return msg + ": " + reason + "."
}
