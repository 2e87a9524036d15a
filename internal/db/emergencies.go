package db

import (
	"context"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const emergencyCols = `id, type, message, parent_id, driver_id, student_id, status, created_at`

func scanEmergency(r rowScanner) (*models.Emergency, error) {
	var e models.Emergency
	if err := r.Scan(&e.ID, &e.Type, &e.Message, &e.ParentID, &e.DriverID, &e.StudentID, &e.Status, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func InsertEmergency(ctx context.Context, q Querier, e models.Emergency) (*models.Emergency, error) {
	return scanEmergency(q.QueryRowContext(ctx, `
		INSERT INTO emergencies (type, message, parent_id, driver_id, student_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		RETURNING `+emergencyCols,
		e.Type, e.Message, e.ParentID, e.DriverID, e.StudentID, e.CreatedAt))
}

func ListEmergenciesForDriver(ctx context.Context, q Querier, driverID string, limit int) ([]models.Emergency, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+emergencyCols+` FROM emergencies
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Emergency
	for rows.Next() {
		e, err := scanEmergency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
