package storage

import (
	"context"
	"time"

	"github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/moderation"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/payment"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/review"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/domain/user"
)

// UserStore persists user profiles.
type UserStore interface {
	UpsertUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
}

// ProviderFilter narrows ListProviders. Empty fields match everything.
type ProviderFilter struct {
	Status   provider.Status
	Category string
}

// ProviderStore persists provider profiles together with their emergency
// settings and weekly availability.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p provider.Provider) (provider.Provider, error)
	UpdateProvider(ctx context.Context, p provider.Provider) (provider.Provider, error)
	GetProvider(ctx context.Context, id string) (provider.Provider, error)
	ListProviders(ctx context.Context, filter ProviderFilter) ([]provider.Provider, error)

	GetEmergencyConfig(ctx context.Context, providerID string) (emergency.Config, error)
	SaveEmergencyConfig(ctx context.Context, cfg emergency.Config) (emergency.Config, error)
	ListReadyEmergencyConfigs(ctx context.Context) ([]emergency.Config, error)

	GetAvailability(ctx context.Context, providerID string) (schedule.Availability, error)
	SaveAvailability(ctx context.Context, a schedule.Availability) (schedule.Availability, error)
}

// RequestFilter narrows ListRequests. A request matches when it belongs to
// any of the non-empty party fields and, if Statuses is set, has one of them.
type RequestFilter struct {
	CustomerID  string
	ProviderID  string
	CandidateID string
	Statuses    []request.Status
	Limit       int
}

// SettlementCursor is a position in the settlement queue, which is ordered
// by dispute deadline then request ID. The zero cursor starts at the head.
type SettlementCursor struct {
	Deadline time.Time
	ID       string
}

// After reports whether r sorts after c in the settlement queue.
func (c SettlementCursor) After(r request.Request) bool {
	if c.ID == "" {
		return true
	}
	if !r.DisputeDeadline.Equal(c.Deadline) {
		return r.DisputeDeadline.After(c.Deadline)
	}
	return r.ID > c.ID
}

// RequestStore exposes read access to service requests. Writes go through Tx.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (request.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]request.Request, error)
	// ListSettlementDue returns completed requests whose dispute window closed
	// before now, in queue order starting after the cursor.
	ListSettlementDue(ctx context.Context, now time.Time, after SettlementCursor, limit int) ([]request.Request, error)
	// ListExpired returns pending requests whose accept deadline passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]request.Request, error)
}

// PaymentStore exposes ledger reads.
type PaymentStore interface {
	GetTransaction(ctx context.Context, id string) (payment.Transaction, error)
	ListTransactionsForRequest(ctx context.Context, requestID string) ([]payment.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userID string, limit int) ([]payment.Transaction, error)
}

// NotificationStore exposes a user's inbox.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]notification.Notification, error)
	GetNotification(ctx context.Context, id string) (notification.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (notification.Notification, error)
}

// ReviewStore exposes provider reviews.
type ReviewStore interface {
	GetReview(ctx context.Context, id string) (review.Review, error)
	ListReviews(ctx context.Context, providerID string, includeHidden bool) ([]review.Review, error)
}

// ModerationStore persists disputes and abuse reports.
type ModerationStore interface {
	GetDispute(ctx context.Context, id string) (moderation.Dispute, error)
	ListDisputes(ctx context.Context, status moderation.DisputeStatus) ([]moderation.Dispute, error)

	CreateReport(ctx context.Context, r moderation.Report) (moderation.Report, error)
	GetReport(ctx context.Context, id string) (moderation.Report, error)
	ListReports(ctx context.Context, status moderation.ReportStatus) ([]moderation.Report, error)
}

// Tx is the write surface of a batch. Records read through a Tx are locked
// until the batch commits or rolls back.
type Tx interface {
	GetProvider(ctx context.Context, id string) (provider.Provider, error)
	UpdateProvider(ctx context.Context, p provider.Provider) (provider.Provider, error)
	GetEmergencyConfig(ctx context.Context, providerID string) (emergency.Config, error)
	SaveEmergencyConfig(ctx context.Context, cfg emergency.Config) (emergency.Config, error)
	GetAvailability(ctx context.Context, providerID string) (schedule.Availability, error)

	GetRequest(ctx context.Context, id string) (request.Request, error)
	CreateRequest(ctx context.Context, r request.Request) (request.Request, error)
	UpdateRequest(ctx context.Context, r request.Request) (request.Request, error)
	ListActiveRequestsForProvider(ctx context.Context, providerID string) ([]request.Request, error)

	GetTransaction(ctx context.Context, id string) (payment.Transaction, error)
	ListTransactionsForRequest(ctx context.Context, requestID string) ([]payment.Transaction, error)
	CreateTransaction(ctx context.Context, t payment.Transaction) (payment.Transaction, error)
	UpdateTransaction(ctx context.Context, t payment.Transaction) (payment.Transaction, error)

	CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error)

	GetReview(ctx context.Context, id string) (review.Review, error)
	CreateReview(ctx context.Context, r review.Review) (review.Review, error)
	UpdateReview(ctx context.Context, r review.Review) (review.Review, error)

	GetDispute(ctx context.Context, id string) (moderation.Dispute, error)
	CreateDispute(ctx context.Context, d moderation.Dispute) (moderation.Dispute, error)
	UpdateDispute(ctx context.Context, d moderation.Dispute) (moderation.Dispute, error)
	GetReport(ctx context.Context, id string) (moderation.Report, error)
	UpdateReport(ctx context.Context, r moderation.Report) (moderation.Report, error)
}

// Transactor runs fn as one atomic batch. If fn returns an error nothing it
// wrote is persisted.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Store is the full persistence surface the application needs.
type Store interface {
	UserStore
	ProviderStore
	RequestStore
	PaymentStore
	NotificationStore
	ReviewStore
	ModerationStore
	Transactor
}
