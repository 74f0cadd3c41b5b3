package notifications

import (
	"context"
	"strings"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Broker fans committed notifications out to live subscribers.
type Broker interface {
	Publish(ctx context.Context, n notification.Notification) error
	// Subscribe streams a user's notifications until ctx is cancelled, after
	// which the channel is closed.
	Subscribe(ctx context.Context, userID string) (<-chan notification.Notification, error)
}

// Deliverer publishes notifications after the batch that wrote them commits.
type Deliverer interface {
	Deliver(ctx context.Context, items ...notification.Notification)
}

// Service manages user inboxes and realtime delivery.
type Service struct {
	store  storage.NotificationStore
	broker Broker
	log    *logger.Logger
}

var _ Deliverer = (*Service)(nil)

// New constructs a notification service. A nil broker defaults to an
// in-process Hub.
func New(store storage.NotificationStore, broker Broker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	if broker == nil {
		broker = NewHub(0)
	}
	return &Service{store: store, broker: broker, log: log}
}

// List returns a user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]notification.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.RequiredError("user_id")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListNotifications(ctx, userID, unreadOnly, limit)
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) (notification.Notification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return notification.Notification{}, err
	}
	if err := apperrors.EnsureOwnership(n.UserID, userID, "notification", id); err != nil {
		return notification.Notification{}, err
	}
	if n.Read {
		return n, nil
	}
	return s.store.MarkNotificationRead(ctx, id)
}

// Subscribe opens a realtime stream for userID.
func (s *Service) Subscribe(ctx context.Context, userID string) (<-chan notification.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.RequiredError("user_id")
	}
	return s.broker.Subscribe(ctx, userID)
}

// Deliver publishes committed notifications. Failures are logged; the
// records are already in the inbox.
func (s *Service) Deliver(ctx context.Context, items ...notification.Notification) {
	for _, n := range items {
		err := s.broker.Publish(ctx, n)
		metrics.RecordNotification(string(n.Type), err == nil)
		if err != nil {
			s.log.WithError(err).
				WithField("notification_id", n.ID).
				WithField("user_id", n.UserID).
				Warn("publish notification failed")
		}
	}
}

// Outbox collects the notifications written inside one batch so they can
// be delivered once it commits.
type Outbox struct {
	items []notification.Notification
}

// Write stores n inside tx and queues it for delivery.
func (o *Outbox) Write(ctx context.Context, tx storage.Tx, n notification.Notification) error {
	saved, err := tx.CreateNotification(ctx, n)
	if err != nil {
		return err
	}
	o.items = append(o.items, saved)
	return nil
}

// Items returns the queued notifications.
func (o *Outbox) Items() []notification.Notification {
	if o == nil {
		return nil
	}
	return o.items
}
