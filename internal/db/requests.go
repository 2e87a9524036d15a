package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const requestCols = `id, child_name, child_age, school, pickup_address, dropoff_address, requested_time, notes,
	request_type, parent_id, COALESCE(driver_id::text, ''), status, response_message,
	COALESCE(responded_by::text, ''), responded_at, COALESCE(student_id::text, ''),
	COALESCE(subscription_id::text, ''), COALESCE(agreement_id::text, ''), created_at, updated_at`

func scanRequest(r rowScanner) (*models.RideRequest, error) {
	var rr models.RideRequest
	var typ, status string
	var responded sql.NullTime
	if err := r.Scan(&rr.ID, &rr.ChildName, &rr.ChildAge, &rr.School, &rr.PickupAddress, &rr.DropoffAddress,
		&rr.RequestedTime, &rr.Notes, &typ, &rr.ParentID, &rr.DriverID, &status, &rr.ResponseMessage,
		&rr.RespondedBy, &responded, &rr.StudentID, &rr.SubscriptionID, &rr.AgreementID, &rr.CreatedAt, &rr.UpdatedAt); err != nil {
		return nil, err
	}
	rr.Type = models.RequestType(typ)
	rr.Status = models.RequestStatus(status)
	rr.RespondedAt = timePtr(responded)
	return &rr, nil
}

func CreateRideRequest(ctx context.Context, q Querier, rr models.RideRequest) (*models.RideRequest, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := q.QueryRowContext(ctx, `
		INSERT INTO ride_requests (child_name, child_age, school, pickup_address, dropoff_address,
		                           requested_time, notes, request_type, parent_id, driver_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')::uuid, 'pending')
		RETURNING `+requestCols,
		rr.ChildName, rr.ChildAge, rr.School, rr.PickupAddress, rr.DropoffAddress,
		rr.RequestedTime, rr.Notes, string(rr.Type), rr.ParentID, rr.DriverID)
	return scanRequest(row)
}

func GetRideRequest(ctx context.Context, q Querier, id string) (*models.RideRequest, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rr, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return rr, nil
}

// LockRideRequest: заявка под блокировкой на время ответа водителя.
func LockRideRequest(ctx context.Context, tx *sql.Tx, id string) (*models.RideRequest, error) {
	rr, err := scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return rr, nil
}

type RequestResponse struct {
	Status         models.RequestStatus
	Message        string
	RespondedBy    string
	RespondedAt    time.Time
	StudentID      string
	SubscriptionID string
	AgreementID    string
}

// RespondRideRequest переводит заявку из pending. false, заявка уже не pending.
func RespondRideRequest(ctx context.Context, q Querier, id string, r RequestResponse) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE ride_requests
		SET status = $2, response_message = $3, responded_by = $4, responded_at = $5,
		    student_id = NULLIF($6, '')::uuid, subscription_id = NULLIF($7, '')::uuid,
		    agreement_id = NULLIF($8, '')::uuid, updated_at = $5
		WHERE id = $1 AND status = 'pending'`,
		id, string(r.Status), r.Message, r.RespondedBy, r.RespondedAt, r.StudentID, r.SubscriptionID, r.AgreementID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SettleAgreementRequest: agreement-created → approved (подписан) или rejected (отклонён).
func SettleAgreementRequest(ctx context.Context, q Querier, id string, status models.RequestStatus, studentID, subscriptionID string, at time.Time) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE ride_requests
		SET status = $2, student_id = NULLIF($3, '')::uuid, subscription_id = NULLIF($4, '')::uuid, updated_at = $5
		WHERE id = $1 AND status = 'agreement-created'`,
		id, string(status), studentID, subscriptionID, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CompleteRideRequest: approved → completed.
func CompleteRideRequest(ctx context.Context, q Querier, id string, at time.Time) (bool, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := q.ExecContext(ctx, `
		UPDATE ride_requests SET status = 'completed', updated_at = $2
		WHERE id = $1 AND status = 'approved'`, id, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListPendingForDriver: заявки, адресованные водителю, и общие (без водителя).
func ListPendingForDriver(ctx context.Context, q Querier, driverID string) ([]models.RideRequest, error) {
	return listRequests(ctx, q, `
		WHERE status = 'pending' AND (driver_id = $1 OR driver_id IS NULL)
		ORDER BY request_type = 'emergency' DESC, created_at`, driverID)
}

func ListRequestsByParent(ctx context.Context, q Querier, parentID string) ([]models.RideRequest, error) {
	return listRequests(ctx, q, `WHERE parent_id = $1 ORDER BY created_at DESC`, parentID)
}

func ListRequestsRespondedBy(ctx context.Context, q Querier, driverID string) ([]models.RideRequest, error) {
	return listRequests(ctx, q, `WHERE responded_by = $1 ORDER BY responded_at DESC`, driverID)
}

func listRequests(ctx context.Context, q Querier, where string, args ...any) ([]models.RideRequest, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `SELECT `+requestCols+` FROM ride_requests `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.RideRequest
	for rows.Next() {
		rr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rr)
	}
	return out, rows.Err()
}
