package db

import (
	"context"
	"database/sql"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const paymentCols = `id, COALESCE(subscription_id::text, ''), COALESCE(student_id::text, ''), amount, currency, method,
	transaction_id, status, due_date, paid_at, created_at`

func scanPayment(r rowScanner) (*models.Payment, error) {
	var p models.Payment
	var status string
	var due sql.NullTime
	if err := r.Scan(&p.ID, &p.SubscriptionID, &p.StudentID, &p.Amount, &p.Currency, &p.Method,
		&p.TransactionID, &status, &due, &p.PaidAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	p.DueDate = timePtr(due)
	return &p, nil
}

// InsertPayment: только вставка, платежи не изменяются.
func InsertPayment(ctx context.Context, q Querier, p models.Payment) (*models.Payment, error) {
	var due any
	if p.DueDate != nil {
		due = *p.DueDate
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO payments (subscription_id, student_id, amount, currency, method, transaction_id, status,
		                      due_date, paid_at, created_at)
		VALUES (NULLIF($1, '')::uuid, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+paymentCols,
		p.SubscriptionID, p.StudentID, p.Amount, p.Currency, p.Method, p.TransactionID, string(p.Status), due, p.PaidAt)
	return scanPayment(row)
}

func ListPaymentsBySubscription(ctx context.Context, q Querier, subscriptionID string) ([]models.Payment, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE subscription_id = $1
		ORDER BY paid_at DESC`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func GetPayment(ctx context.Context, q Querier, id string) (*models.Payment, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	p, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}
