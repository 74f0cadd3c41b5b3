package memory

import (
	"context"
	"sort"

	"github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/moderation"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/review"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
)

// tx stages writes on top of the store maps and applies them on commit.
type tx struct {
	s             *Store
	providers     map[string]provider.Provider
	emergency     map[string]emergency.Config
	requests      map[string]request.Request
	transactions  map[string]payment.Transaction
	notifications map[string]notification.Notification
	reviews       map[string]review.Review
	disputes      map[string]moderation.Dispute
	reports       map[string]moderation.Report
}

var _ storage.Tx = (*tx)(nil)

// InTx runs fn under the store's write lock. Writes become visible only if
// fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		s:             s,
		providers:     make(map[string]provider.Provider),
		emergency:     make(map[string]emergency.Config),
		requests:      make(map[string]request.Request),
		transactions:  make(map[string]payment.Transaction),
		notifications: make(map[string]notification.Notification),
		reviews:       make(map[string]review.Review),
		disputes:      make(map[string]moderation.Dispute),
		reports:       make(map[string]moderation.Report),
	}
	if err := fn(t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (t *tx) commit() {
	apply(t.s.providers, t.providers)
	apply(t.s.emergency, t.emergency)
	apply(t.s.requests, t.requests)
	apply(t.s.transactions, t.transactions)
	apply(t.s.notifications, t.notifications)
	apply(t.s.reviews, t.reviews)
	apply(t.s.disputes, t.disputes)
	apply(t.s.reports, t.reports)
}

func apply[T any](base, staged map[string]T) {
	for id, v := range staged {
		base[id] = v
	}
}

func lookup[T any](staged, base map[string]T, id string) (T, bool) {
	if v, ok := staged[id]; ok {
		return v, true
	}
	v, ok := base[id]
	return v, ok
}

func (t *tx) GetProvider(_ context.Context, id string) (provider.Provider, error) {
	p, ok := lookup(t.providers, t.s.providers, id)
	if !ok {
		return provider.Provider{}, apperrors.NewNotFoundError("provider", id)
	}
	return cloneProvider(p), nil
}

func (t *tx) UpdateProvider(_ context.Context, p provider.Provider) (provider.Provider, error) {
	original, ok := lookup(t.providers, t.s.providers, p.ID)
	if !ok {
		return provider.Provider{}, apperrors.NewNotFoundError("provider", p.ID)
	}
	p.CreatedAt = original.CreatedAt
	touch(&p.UpdatedAt)
	t.providers[p.ID] = cloneProvider(p)
	return cloneProvider(p), nil
}

func (t *tx) GetEmergencyConfig(_ context.Context, providerID string) (emergency.Config, error) {
	cfg, ok := lookup(t.emergency, t.s.emergency, providerID)
	if !ok {
		return emergency.Config{}, apperrors.NewNotFoundError("emergency config", providerID)
	}
	return cfg, nil
}

func (t *tx) SaveEmergencyConfig(_ context.Context, cfg emergency.Config) (emergency.Config, error) {
	touch(&cfg.UpdatedAt)
	t.emergency[cfg.ProviderID] = cfg
	return cfg, nil
}

// GetAvailability reads committed windows; batches never write them.
func (t *tx) GetAvailability(_ context.Context, providerID string) (schedule.Availability, error) {
	a, ok := t.s.availability[providerID]
	if !ok {
		return schedule.Availability{}, apperrors.NewNotFoundError("availability", providerID)
	}
	return cloneAvailability(a), nil
}

func (t *tx) GetRequest(_ context.Context, id string) (request.Request, error) {
	r, ok := lookup(t.requests, t.s.requests, id)
	if !ok {
		return request.Request{}, apperrors.NewNotFoundError("request", id)
	}
	return cloneRequest(r), nil
}

func (t *tx) CreateRequest(_ context.Context, r request.Request) (request.Request, error) {
	if _, exists := lookup(t.requests, t.s.requests, r.ID); exists && r.ID != "" {
		return request.Request{}, apperrors.NewConflictError("request", r.ID, "already exists")
	}
	stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	t.requests[r.ID] = cloneRequest(r)
	return cloneRequest(r), nil
}

func (t *tx) UpdateRequest(_ context.Context, r request.Request) (request.Request, error) {
	original, ok := lookup(t.requests, t.s.requests, r.ID)
	if !ok {
		return request.Request{}, apperrors.NewNotFoundError("request", r.ID)
	}
	r.CreatedAt = original.CreatedAt
	touch(&r.UpdatedAt)
	t.requests[r.ID] = cloneRequest(r)
	return cloneRequest(r), nil
}

func (t *tx) ListActiveRequestsForProvider(_ context.Context, providerID string) ([]request.Request, error) {
	var result []request.Request
	collect := func(r request.Request) {
		if r.ProviderID == providerID && r.Status.Active() {
			result = append(result, cloneRequest(r))
		}
	}
	for id, r := range t.s.requests {
		if _, shadowed := t.requests[id]; !shadowed {
			collect(r)
		}
	}
	for _, r := range t.requests {
		collect(r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ScheduledStart.Before(result[j].ScheduledStart) })
	return result, nil
}

func (t *tx) GetTransaction(_ context.Context, id string) (payment.Transaction, error) {
	txn, ok := lookup(t.transactions, t.s.transactions, id)
	if !ok {
		return payment.Transaction{}, apperrors.NewNotFoundError("transaction", id)
	}
	return txn, nil
}

func (t *tx) ListTransactionsForRequest(_ context.Context, requestID string) ([]payment.Transaction, error) {
	return transactionsForRequest(t.s.transactions, t.transactions, requestID), nil
}

func (t *tx) CreateTransaction(_ context.Context, txn payment.Transaction) (payment.Transaction, error) {
	txn.ID = ""
	stamp(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	t.transactions[txn.ID] = txn
	return txn, nil
}

func (t *tx) UpdateTransaction(_ context.Context, txn payment.Transaction) (payment.Transaction, error) {
	original, ok := lookup(t.transactions, t.s.transactions, txn.ID)
	if !ok {
		return payment.Transaction{}, apperrors.NewNotFoundError("transaction", txn.ID)
	}
	txn.CreatedAt = original.CreatedAt
	touch(&txn.UpdatedAt)
	t.transactions[txn.ID] = txn
	return txn, nil
}

func (t *tx) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	n.ID = ""
	stamp(&n.ID, &n.CreatedAt, &n.CreatedAt)
	t.notifications[n.ID] = cloneNotification(n)
	return cloneNotification(n), nil
}

func (t *tx) GetReview(_ context.Context, id string) (review.Review, error) {
	r, ok := lookup(t.reviews, t.s.reviews, id)
	if !ok {
		return review.Review{}, apperrors.NewNotFoundError("review", id)
	}
	return r, nil
}

func (t *tx) CreateReview(_ context.Context, r review.Review) (review.Review, error) {
	for _, reviews := range []map[string]review.Review{t.s.reviews, t.reviews} {
		for _, existing := range reviews {
			if existing.RequestID == r.RequestID {
				return review.Review{}, apperrors.NewConflictError("review", r.RequestID, "request already rated")
			}
		}
	}
	r.ID = ""
	stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	t.reviews[r.ID] = r
	return r, nil
}

func (t *tx) UpdateReview(_ context.Context, r review.Review) (review.Review, error) {
	original, ok := lookup(t.reviews, t.s.reviews, r.ID)
	if !ok {
		return review.Review{}, apperrors.NewNotFoundError("review", r.ID)
	}
	r.CreatedAt = original.CreatedAt
	touch(&r.UpdatedAt)
	t.reviews[r.ID] = r
	return r, nil
}

func (t *tx) GetDispute(_ context.Context, id string) (moderation.Dispute, error) {
	d, ok := lookup(t.disputes, t.s.disputes, id)
	if !ok {
		return moderation.Dispute{}, apperrors.NewNotFoundError("dispute", id)
	}
	return d, nil
}

func (t *tx) CreateDispute(_ context.Context, d moderation.Dispute) (moderation.Dispute, error) {
	d.ID = ""
	stamp(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	t.disputes[d.ID] = d
	return d, nil
}

func (t *tx) UpdateDispute(_ context.Context, d moderation.Dispute) (moderation.Dispute, error) {
	original, ok := lookup(t.disputes, t.s.disputes, d.ID)
	if !ok {
		return moderation.Dispute{}, apperrors.NewNotFoundError("dispute", d.ID)
	}
	d.CreatedAt = original.CreatedAt
	touch(&d.UpdatedAt)
	t.disputes[d.ID] = d
	return d, nil
}

func (t *tx) GetReport(_ context.Context, id string) (moderation.Report, error) {
	r, ok := lookup(t.reports, t.s.reports, id)
	if !ok {
		return moderation.Report{}, apperrors.NewNotFoundError("report", id)
	}
	return r, nil
}

func (t *tx) UpdateReport(_ context.Context, r moderation.Report) (moderation.Report, error) {
	original, ok := lookup(t.reports, t.s.reports, r.ID)
	if !ok {
		return moderation.Report{}, apperrors.NewNotFoundError("report", r.ID)
	}
	r.CreatedAt = original.CreatedAt
	touch(&r.UpdatedAt)
	t.reports[r.ID] = r
	return r, nil
}
