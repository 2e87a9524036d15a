package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const studentCols = `id, full_name, age, school, parent_id, driver_id, bus_id, status, monthly_fee,
	pickup_address, dropoff_address, notes, last_status_update, COALESCE(updated_by::text, ''), created_at, updated_at`

func scanStudent(r rowScanner) (*models.Student, error) {
	var s models.Student
	var status string
	var last sql.NullTime
	if err := r.Scan(&s.ID, &s.FullName, &s.Age, &s.School, &s.ParentID, &s.DriverID, &s.BusID,
		&status, &s.MonthlyFee, &s.PickupAddress, &s.DropoffAddress, &s.Notes, &last,
		&s.UpdatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = models.StudentStatus(status)
	s.LastStatusUpdate = timePtr(last)
	return &s, nil
}

func CreateStudent(ctx context.Context, q Querier, s models.Student) (*models.Student, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	if s.Status == "" {
		s.Status = models.StatusAtHome
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO students (full_name, age, school, parent_id, driver_id, bus_id, status, monthly_fee,
		                      pickup_address, dropoff_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+studentCols,
		s.FullName, s.Age, s.School, s.ParentID, s.DriverID, s.BusID, string(s.Status), s.MonthlyFee,
		s.PickupAddress, s.DropoffAddress, s.Notes)
	return scanStudent(row)
}

func GetStudent(ctx context.Context, q Querier, id string) (*models.Student, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	s, err := scanStudent(q.QueryRowContext(ctx, `SELECT `+studentCols+` FROM students WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// LockStudent: SELECT … FOR UPDATE: смены статуса одного ребёнка выполняются по очереди.
func LockStudent(ctx context.Context, tx *sql.Tx, id string) (*models.Student, error) {
	s, err := scanStudent(tx.QueryRowContext(ctx, `SELECT `+studentCols+` FROM students WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func UpdateStudentStatus(ctx context.Context, q Querier, id string, status models.StudentStatus, actorID string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE students
		SET status = $2, last_status_update = $3, updated_by = $4, updated_at = $3
		WHERE id = $1`, id, string(status), at, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func ListStudentsByParent(ctx context.Context, q Querier, parentID string) ([]models.Student, error) {
	return listStudents(ctx, q, `WHERE parent_id = $1 ORDER BY full_name`, parentID)
}

func ListStudentsByDriver(ctx context.Context, q Querier, driverID string) ([]models.Student, error) {
	return listStudents(ctx, q, `WHERE driver_id = $1 ORDER BY full_name`, driverID)
}

func listStudents(ctx context.Context, q Querier, where string, args ...any) ([]models.Student, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `SELECT `+studentCols+` FROM students `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func CountStudents(ctx context.Context, q Querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT count(*) FROM students`).Scan(&n)
	return n, err
}
