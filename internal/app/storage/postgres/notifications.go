package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/servimap/servimap/internal/app/domain/notification"
)

const notificationColumns = `id, user_id, type, title, body, data, read, created_at`

type notificationRow struct {
	ID        string                        `db:"id"`
	UserID    string                        `db:"user_id"`
	Type      string                        `db:"type"`
	Title     string                        `db:"title"`
	Body      string                        `db:"body"`
	Data      jsonColumn[map[string]string] `db:"data"`
	Read      bool                          `db:"read"`
	CreatedAt time.Time                     `db:"created_at"`
}

func (r notificationRow) toDomain() notification.Notification {
	return notification.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      notification.Type(r.Type),
		Title:     r.Title,
		Body:      r.Body,
		Data:      r.Data.V,
		Read:      r.Read,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]notification.Notification, error) {
	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, unreadOnly, pageSize(limit)); err != nil {
		return nil, err
	}
	result := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (notification.Notification, error) {
	var row notificationRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id); err != nil {
		return notification.Notification{}, notFound(err, "notification", id)
	}
	return row.toDomain(), nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) (notification.Notification, error) {
	var row notificationRow
	if err := s.db.QueryRowxContext(ctx, `
		UPDATE notifications SET read = TRUE WHERE id = $1
		RETURNING `+notificationColumns, id).StructScan(&row); err != nil {
		return notification.Notification{}, notFound(err, "notification", id)
	}
	return row.toDomain(), nil
}

func (t *tx) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	n.ID = uuid.NewString()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	if _, err := t.ext.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, string(n.Type), n.Title, n.Body, jsonColumn[map[string]string]{V: data}, n.Read, n.CreatedAt); err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}
