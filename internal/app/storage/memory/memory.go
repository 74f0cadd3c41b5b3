package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/moderation"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/review"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
// Batches hold the write lock for their whole duration, so they serialise.
type Store struct {
	mu            sync.RWMutex
	users         map[string]user.User
	providers     map[string]provider.Provider
	emergency     map[string]emergency.Config
	availability  map[string]schedule.Availability
	requests      map[string]request.Request
	transactions  map[string]payment.Transaction
	notifications map[string]notification.Notification
	reviews       map[string]review.Review
	disputes      map[string]moderation.Dispute
	reports       map[string]moderation.Report
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]user.User),
		providers:     make(map[string]provider.Provider),
		emergency:     make(map[string]emergency.Config),
		availability:  make(map[string]schedule.Availability),
		requests:      make(map[string]request.Request),
		transactions:  make(map[string]payment.Transaction),
		notifications: make(map[string]notification.Notification),
		reviews:       make(map[string]review.Review),
		disputes:      make(map[string]moderation.Dispute),
		reports:       make(map[string]moderation.Report),
	}
}

func stamp(id *string, created, updated *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if created.IsZero() {
		*created = time.Now().UTC()
	}
	if updated.IsZero() {
		*updated = *created
	}
}

func touch(updated *time.Time) {
	if updated.IsZero() {
		*updated = time.Now().UTC()
	}
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// UserStore implementation ----------------------------------------------------

func (s *Store) UpsertUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
		touch(&u.UpdatedAt)
	} else {
		stamp(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, apperrors.NewNotFoundError("user", id)
	}
	return u, nil
}

// ProviderStore implementation ------------------------------------------------

func (s *Store) CreateProvider(_ context.Context, p provider.Provider) (provider.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.providers[p.ID]; exists {
		return provider.Provider{}, apperrors.NewConflictError("provider", p.ID, "already registered")
	}
	stamp(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	s.providers[p.ID] = cloneProvider(p)
	return cloneProvider(p), nil
}

func (s *Store) UpdateProvider(_ context.Context, p provider.Provider) (provider.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.providers[p.ID]
	if !ok {
		return provider.Provider{}, apperrors.NewNotFoundError("provider", p.ID)
	}
	p.CreatedAt = original.CreatedAt
	touch(&p.UpdatedAt)
	s.providers[p.ID] = cloneProvider(p)
	return cloneProvider(p), nil
}

func (s *Store) GetProvider(_ context.Context, id string) (provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return provider.Provider{}, apperrors.NewNotFoundError("provider", id)
	}
	return cloneProvider(p), nil
}

func (s *Store) ListProviders(_ context.Context, filter storage.ProviderFilter) ([]provider.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []provider.Provider
	for _, p := range s.providers {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Category != "" && !p.Serves(filter.Category) {
			continue
		}
		result = append(result, cloneProvider(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetEmergencyConfig(_ context.Context, providerID string) (emergency.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.emergency[providerID]
	if !ok {
		return emergency.Config{}, apperrors.NewNotFoundError("emergency config", providerID)
	}
	return cfg, nil
}

func (s *Store) SaveEmergencyConfig(_ context.Context, cfg emergency.Config) (emergency.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&cfg.UpdatedAt)
	s.emergency[cfg.ProviderID] = cfg
	return cfg, nil
}

func (s *Store) ListReadyEmergencyConfigs(_ context.Context) ([]emergency.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []emergency.Config
	for _, cfg := range s.emergency {
		if cfg.Ready() {
			result = append(result, cfg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProviderID < result[j].ProviderID })
	return result, nil
}

func (s *Store) GetAvailability(_ context.Context, providerID string) (schedule.Availability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.availability[providerID]
	if !ok {
		return schedule.Availability{}, apperrors.NewNotFoundError("availability", providerID)
	}
	return cloneAvailability(a), nil
}

func (s *Store) SaveAvailability(_ context.Context, a schedule.Availability) (schedule.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&a.UpdatedAt)
	s.availability[a.ProviderID] = cloneAvailability(a)
	return cloneAvailability(a), nil
}

// RequestStore implementation -------------------------------------------------

func (s *Store) GetRequest(_ context.Context, id string) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return request.Request{}, apperrors.NewNotFoundError("request", id)
	}
	return cloneRequest(r), nil
}

func (s *Store) ListRequests(_ context.Context, filter storage.RequestFilter) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Request
	for _, r := range s.requests {
		if matchesRequest(r, filter) {
			result = append(result, cloneRequest(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return limit(result, filter.Limit), nil
}

func matchesRequest(r request.Request, f storage.RequestFilter) bool {
	party := f.CustomerID == "" && f.ProviderID == "" && f.CandidateID == ""
	if f.CustomerID != "" && r.CustomerID == f.CustomerID {
		party = true
	}
	if f.ProviderID != "" && r.ProviderID == f.ProviderID {
		party = true
	}
	if f.CandidateID != "" && r.Status == request.StatusPending && r.IsCandidate(f.CandidateID) {
		party = true
	}
	if !party {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if r.Status == st {
			return true
		}
	}
	return false
}

func (s *Store) ListSettlementDue(_ context.Context, now time.Time, after storage.SettlementCursor, n int) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Request
	for _, r := range s.requests {
		if r.Status == request.StatusCompleted && !r.DisputeDeadline.IsZero() && !r.DisputeDeadline.After(now) && after.After(r) {
			result = append(result, cloneRequest(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DisputeDeadline.Equal(result[j].DisputeDeadline) {
			return result[i].DisputeDeadline.Before(result[j].DisputeDeadline)
		}
		return result[i].ID < result[j].ID
	})
	return limit(result, n), nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time, n int) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Request
	for _, r := range s.requests {
		if r.Status == request.StatusPending && !r.AcceptDeadline.IsZero() && now.After(r.AcceptDeadline) {
			result = append(result, cloneRequest(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AcceptDeadline.Before(result[j].AcceptDeadline) })
	return limit(result, n), nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) GetTransaction(_ context.Context, id string) (payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return payment.Transaction{}, apperrors.NewNotFoundError("transaction", id)
	}
	return t, nil
}

func (s *Store) ListTransactionsForRequest(_ context.Context, requestID string) ([]payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionsForRequest(s.transactions, nil, requestID), nil
}

func (s *Store) ListTransactionsForUser(_ context.Context, userID string, n int) ([]payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.Transaction
	for _, t := range s.transactions {
		if t.Involves(userID) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return limit(result, n), nil
}

func transactionsForRequest(base, staged map[string]payment.Transaction, requestID string) []payment.Transaction {
	var result []payment.Transaction
	for id, t := range base {
		if _, shadowed := staged[id]; shadowed {
			continue
		}
		if t.RequestID == requestID {
			result = append(result, t)
		}
	}
	for _, t := range staged {
		if t.RequestID == requestID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// NotificationStore implementation --------------------------------------------

func (s *Store) ListNotifications(_ context.Context, userID string, unreadOnly bool, n int) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notification.Notification
	for _, item := range s.notifications {
		if item.UserID != userID || (unreadOnly && item.Read) {
			continue
		}
		result = append(result, cloneNotification(item))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return limit(result, n), nil
}

func (s *Store) GetNotification(_ context.Context, id string) (notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.notifications[id]
	if !ok {
		return notification.Notification{}, apperrors.NewNotFoundError("notification", id)
	}
	return cloneNotification(item), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) (notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.notifications[id]
	if !ok {
		return notification.Notification{}, apperrors.NewNotFoundError("notification", id)
	}
	item.Read = true
	s.notifications[id] = item
	return cloneNotification(item), nil
}

// ReviewStore implementation --------------------------------------------------

func (s *Store) GetReview(_ context.Context, id string) (review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok {
		return review.Review{}, apperrors.NewNotFoundError("review", id)
	}
	return r, nil
}

func (s *Store) ListReviews(_ context.Context, providerID string, includeHidden bool) ([]review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []review.Review
	for _, r := range s.reviews {
		if r.ProviderID != providerID || (r.Hidden && !includeHidden) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ModerationStore implementation ----------------------------------------------

func (s *Store) GetDispute(_ context.Context, id string) (moderation.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.disputes[id]
	if !ok {
		return moderation.Dispute{}, apperrors.NewNotFoundError("dispute", id)
	}
	return d, nil
}

func (s *Store) ListDisputes(_ context.Context, status moderation.DisputeStatus) ([]moderation.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []moderation.Dispute
	for _, d := range s.disputes {
		if status == "" || d.Status == status {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *Store) CreateReport(_ context.Context, r moderation.Report) (moderation.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = ""
	stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	s.reports[r.ID] = r
	return r, nil
}

func (s *Store) GetReport(_ context.Context, id string) (moderation.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return moderation.Report{}, apperrors.NewNotFoundError("report", id)
	}
	return r, nil
}

func (s *Store) ListReports(_ context.Context, status moderation.ReportStatus) ([]moderation.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []moderation.Report
	for _, r := range s.reports {
		if status == "" || r.Status == status {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Clone helpers ----------------------------------------------------------------

func cloneProvider(p provider.Provider) provider.Provider {
	p.Categories = append([]string(nil), p.Categories...)
	return p
}

func cloneAvailability(a schedule.Availability) schedule.Availability {
	a.Windows = append([]schedule.Window(nil), a.Windows...)
	return a
}

func cloneRequest(r request.Request) request.Request {
	r.CandidateProviderIDs = append([]string(nil), r.CandidateProviderIDs...)
	r.History = append([]request.Transition(nil), r.History...)
	return r
}

func cloneNotification(n notification.Notification) notification.Notification {
	if n.Data == nil {
		return n
	}
	data := make(map[string]string, len(n.Data))
	for k, v := range n.Data {
		data[k] = v
	}
	n.Data = data
	return n
}
