package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const tripCols = `id, parent_id, driver_id, child_id, pickup_address, dropoff_address, status, started_at, ended_at`

func scanTrip(r rowScanner) (*models.Trip, error) {
	var t models.Trip
	var status string
	var ended sql.NullTime
	if err := r.Scan(&t.ID, &t.ParentID, &t.DriverID, &t.ChildID, &t.PickupAddress, &t.DropoffAddress,
		&status, &t.StartedAt, &ended); err != nil {
		return nil, err
	}
	t.Status = models.TripStatus(status)
	t.EndedAt = timePtr(ended)
	return &t, nil
}

// CancelStaleTrips закрывает как cancelled незавершённые поездки ребёнка (например, после
// ручного сброса статуса без высадки). Возвращает число закрытых.
func CancelStaleTrips(ctx context.Context, q Querier, childID string, at time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE trips SET status = 'cancelled', ended_at = $2
		WHERE child_id = $1 AND status = 'in-progress'`, childID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func StartTrip(ctx context.Context, q Querier, s models.Student, at time.Time) (*models.Trip, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO trips (parent_id, driver_id, child_id, pickup_address, dropoff_address, status, started_at)
		VALUES ($1, $2, $3, $4, $5, 'in-progress', $6)
		RETURNING `+tripCols,
		s.ParentID, s.DriverID, s.ID, s.PickupAddress, s.DropoffAddress, at)
	return scanTrip(row)
}

// CompleteLatestTrip завершает самую позднюю незавершённую поездку ребёнка.
// Нет такой, ErrNotFound.
func CompleteLatestTrip(ctx context.Context, q Querier, childID string, at time.Time) (*models.Trip, error) {
	t, err := scanTrip(q.QueryRowContext(ctx, `
		UPDATE trips SET status = 'completed', ended_at = $2
		WHERE id = (
			SELECT id FROM trips
			WHERE child_id = $1 AND status = 'in-progress'
			ORDER BY started_at DESC
			LIMIT 1
		)
		RETURNING `+tripCols, childID, at))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

type TripFilter struct {
	ChildID  string
	DriverID string
	ParentID string
	Status   models.TripStatus
	Limit    int
}

func ListTrips(ctx context.Context, q Querier, f TripFilter) ([]models.Trip, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+tripCols+` FROM trips
		WHERE ($1 = '' OR child_id::text = $1)
		  AND ($2 = '' OR driver_id::text = $2)
		  AND ($3 = '' OR parent_id::text = $3)
		  AND ($4 = '' OR status = $4)
		ORDER BY started_at DESC
		LIMIT $5`, f.ChildID, f.DriverID, f.ParentID, string(f.Status), f.Limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
