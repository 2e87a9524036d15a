package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const notificationCols = `id, recipient_id, type, title, body, data, read, read_at, created_at, delivered_at, delivery_attempts`

func scanNotification(r rowScanner) (*models.Notification, error) {
	var n models.Notification
	var typ string
	var data []byte
	var readAt, deliveredAt sql.NullTime
	if err := r.Scan(&n.ID, &n.RecipientID, &typ, &n.Title, &n.Body, &data, &n.Read, &readAt,
		&n.CreatedAt, &deliveredAt, &n.DeliveryAttempts); err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	n.ReadAt = timePtr(readAt)
	n.DeliveredAt = timePtr(deliveredAt)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

// InsertNotification пишет уведомление в ту же транзакцию, что и изменение данных.
// Доставку потом забирает relay (delivered_at IS NULL).
func InsertNotification(ctx context.Context, q Querier, n models.Notification) (*models.Notification, error) {
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return scanNotification(q.QueryRowContext(ctx, `
		INSERT INTO notifications (recipient_id, type, title, body, data, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING `+notificationCols,
		n.RecipientID, string(n.Type), n.Title, n.Body, string(raw), n.CreatedAt))
}

func GetNotification(ctx context.Context, q Querier, id string) (*models.Notification, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	n, err := scanNotification(q.QueryRowContext(ctx,
		`SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return n, nil
}

// ListNotifications: уведомления получателя, новые сверху.
func ListNotifications(ctx context.Context, q Querier, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+notificationCols+` FROM notifications
		WHERE recipient_id = $1 AND (NOT $2 OR read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3`, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func CountUnread(ctx context.Context, q Querier, recipientID string) (int, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE`, recipientID).Scan(&n)
	return n, err
}

// MarkNotificationRead: только своё уведомление. false, если не найдено у этого получателя.
func MarkNotificationRead(ctx context.Context, q Querier, id, recipientID string, at time.Time) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2`, id, recipientID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func MarkAllNotificationsRead(ctx context.Context, q Querier, recipientID string, at time.Time) (int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND read = FALSE`, recipientID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimUndelivered забирает пачку недоставленных уведомлений под блокировку.
// Вызывать внутри транзакции: параллельные relay не получат одни и те же строки.
func ClaimUndelivered(ctx context.Context, tx *sql.Tx, maxAttempts, batch int) ([]models.Notification, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+notificationCols+` FROM notifications
		WHERE delivered_at IS NULL AND delivery_attempts < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, maxAttempts, batch)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func MarkDelivered(ctx context.Context, q Querier, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = $2, delivery_attempts = delivery_attempts + 1
		WHERE id = ANY($1::uuid[])`, pq.Array(ids), at)
	return err
}

func MarkDeliveryFailed(ctx context.Context, q Querier, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		UPDATE notifications SET delivery_attempts = delivery_attempts + 1
		WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	return err
}

func collectNotifications(rows *sql.Rows) ([]models.Notification, error) {
	defer func() { _ = rows.Close() }()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}
