package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

// ErrAgreementOpen: по заявке уже есть договор, ожидающий подписи.
var ErrAgreementOpen = errors.New("request already has an open agreement")

const agreementCols = `id, request_id, parent_id, driver_id, child_name, monthly_amount, currency, pickup_time,
	pickup_address, dropoff_address, contract_months, payment_day, terms, start_date, end_date, auto_renewal,
	status, parent_signed_at, COALESCE(student_id::text, ''), COALESCE(subscription_id::text, ''),
	created_at, updated_at`

func scanAgreement(r rowScanner) (*models.Agreement, error) {
	var a models.Agreement
	var status string
	var signed sql.NullTime
	if err := r.Scan(&a.ID, &a.RequestID, &a.ParentID, &a.DriverID, &a.ChildName, &a.MonthlyAmount, &a.Currency,
		&a.PickupTime, &a.PickupAddress, &a.DropoffAddress, &a.ContractMonths, &a.PaymentDay, &a.Terms,
		&a.StartDate, &a.EndDate, &a.AutoRenewal, &status, &signed, &a.StudentID, &a.SubscriptionID,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = models.AgreementStatus(status)
	a.ParentSignedAt = timePtr(signed)
	return &a, nil
}

func CreateAgreement(ctx context.Context, q Querier, a models.Agreement) (*models.Agreement, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := q.QueryRowContext(ctx, `
		INSERT INTO service_agreements (request_id, parent_id, driver_id, child_name, monthly_amount, currency,
		                                pickup_time, pickup_address, dropoff_address, contract_months, payment_day,
		                                terms, start_date, end_date, auto_renewal, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'pending-parent-signature')
		RETURNING `+agreementCols,
		a.RequestID, a.ParentID, a.DriverID, a.ChildName, a.MonthlyAmount, a.Currency,
		a.PickupTime, a.PickupAddress, a.DropoffAddress, a.ContractMonths, a.PaymentDay,
		a.Terms, a.StartDate, a.EndDate, a.AutoRenewal)
	out, err := scanAgreement(row)
	if _, ok := uniqueViolation(err); ok {
		return nil, ErrAgreementOpen
	}
	return out, err
}

func GetAgreement(ctx context.Context, q Querier, id string) (*models.Agreement, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	a, err := scanAgreement(q.QueryRowContext(ctx, `SELECT `+agreementCols+` FROM service_agreements WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// LockAgreement: договор под блокировкой на время подписи или отказа.
func LockAgreement(ctx context.Context, tx *sql.Tx, id string) (*models.Agreement, error) {
	a, err := scanAgreement(tx.QueryRowContext(ctx, `SELECT `+agreementCols+` FROM service_agreements WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListAgreementsFor: договоры, где пользователь родитель или водитель, новые первыми.
func ListAgreementsFor(ctx context.Context, q Querier, userID string) ([]models.Agreement, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT `+agreementCols+` FROM service_agreements
		WHERE parent_id = $1 OR driver_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SignAgreement: pending-parent-signature → active с привязкой ребёнка и подписки.
func SignAgreement(ctx context.Context, q Querier, id string, at time.Time, studentID, subscriptionID string) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE service_agreements
		SET status = 'active', parent_signed_at = $2, student_id = $3::uuid, subscription_id = $4::uuid, updated_at = $2
		WHERE id = $1 AND status = 'pending-parent-signature'`, id, at, studentID, subscriptionID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func DeclineAgreement(ctx context.Context, q Querier, id string, at time.Time) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE service_agreements SET status = 'declined', updated_at = $2
		WHERE id = $1 AND status = 'pending-parent-signature'`, id, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
