package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const subscriptionCols = `id, parent_id, driver_id, student_id, COALESCE(request_id::text, ''), monthly_fee, currency,
	status, start_date, next_payment_date, last_payment_date, total_paid, payments_count,
	cancelled_at, COALESCE(cancelled_by::text, ''), cancellation_reason, created_at, updated_at`

func scanSubscription(r rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	var status string
	var lastPay, cancelled sql.NullTime
	if err := r.Scan(&s.ID, &s.ParentID, &s.DriverID, &s.StudentID, &s.RequestID, &s.MonthlyFee, &s.Currency,
		&status, &s.StartDate, &s.NextPaymentDate, &lastPay, &s.TotalPaid, &s.PaymentsCount,
		&cancelled, &s.CancelledBy, &s.CancellationReason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = models.SubscriptionStatus(status)
	s.LastPaymentDate = timePtr(lastPay)
	s.CancelledAt = timePtr(cancelled)
	return &s, nil
}

func CreateSubscription(ctx context.Context, q Querier, s models.Subscription) (*models.Subscription, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := q.QueryRowContext(ctx, `
		INSERT INTO subscriptions (parent_id, driver_id, student_id, request_id, monthly_fee, currency, status,
		                           start_date, next_payment_date, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, 'active', $7, $8, $7, $7)
		RETURNING `+subscriptionCols,
		s.ParentID, s.DriverID, s.StudentID, s.RequestID, s.MonthlyFee, s.Currency, s.StartDate, s.NextPaymentDate)
	return scanSubscription(row)
}

func GetSubscription(ctx context.Context, q Querier, id string) (*models.Subscription, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	s, err := scanSubscription(q.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func LockSubscription(ctx context.Context, tx *sql.Tx, id string) (*models.Subscription, error) {
	s, err := scanSubscription(tx.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// RecordSubscriptionPayment: бухгалтерия подписки после успешной оплаты.
func RecordSubscriptionPayment(ctx context.Context, q Querier, id string, amount int64, nextPayment, paidAt time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE subscriptions
		SET next_payment_date = $2, last_payment_date = $3, total_paid = total_paid + $4,
		    payments_count = payments_count + 1, updated_at = $3
		WHERE id = $1`, id, nextPayment, paidAt, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelSubscription: мягкая отмена. false, подписка уже отменена.
func CancelSubscription(ctx context.Context, q Querier, id, actorID, reason string, at time.Time) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'cancelled', cancelled_at = $2, cancelled_by = $3, cancellation_reason = $4, updated_at = $2
		WHERE id = $1 AND status = 'active'`, id, at, actorID, reason)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func ListSubscriptionsForUser(ctx context.Context, q Querier, userID string) ([]models.Subscription, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT `+subscriptionCols+` FROM subscriptions
		WHERE parent_id = $1 OR driver_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectSubscriptions(rows)
}

// DueForExpiryNotice: активные подписки с оплатой до `until`, по которым ещё не напоминали
// для текущей даты платежа.
func DueForExpiryNotice(ctx context.Context, q Querier, until time.Time, batch int) ([]models.Subscription, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT `+subscriptionCols+` FROM subscriptions
		WHERE status = 'active'
		  AND next_payment_date <= $1
		  AND (expiry_notified_for IS NULL OR expiry_notified_for <> next_payment_date)
		ORDER BY next_payment_date
		LIMIT $2`, until, batch)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectSubscriptions(rows)
}

func MarkExpiryNotified(ctx context.Context, q Querier, id string, dueDate time.Time) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := q.ExecContext(ctx, `UPDATE subscriptions SET expiry_notified_for = $2 WHERE id = $1`, id, dueDate)
	return err
}

func collectSubscriptions(rows *sql.Rows) ([]models.Subscription, error) {
	var out []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
