package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/models"
)

const attendanceCols = `id, student_id, driver_id, parent_id, date, pickup_time, dropoff_time, status`

func scanAttendance(r rowScanner) (*models.AttendanceRecord, error) {
	var a models.AttendanceRecord
	var status string
	var pickup, dropoff sql.NullTime
	if err := r.Scan(&a.ID, &a.StudentID, &a.DriverID, &a.ParentID, &a.Date, &pickup, &dropoff, &status); err != nil {
		return nil, err
	}
	a.Status = models.AttendanceStatus(status)
	a.PickupTime = timePtr(pickup)
	a.DropoffTime = timePtr(dropoff)
	return &a, nil
}

// UpsertPickupAttendance: одна запись на (ребёнок, день). Повторная посадка в тот же день
// не создаёт дубликат и не перетирает время первой посадки.
func UpsertPickupAttendance(ctx context.Context, q Querier, s models.Student, day string, at time.Time) (*models.AttendanceRecord, error) {
	row := q.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, driver_id, parent_id, date, pickup_time, status)
		VALUES ($1, $2, $3, $4::date, $5, 'present')
		ON CONFLICT (student_id, date) DO UPDATE
		SET status = 'present',
		    pickup_time = COALESCE(attendance.pickup_time, EXCLUDED.pickup_time)
		RETURNING `+attendanceCols,
		s.ID, s.DriverID, s.ParentID, day, at)
	return scanAttendance(row)
}

// StampDropoffAttendance: отметка высадки за день. Нет записи, ErrNotFound.
func StampDropoffAttendance(ctx context.Context, q Querier, studentID, day string, at time.Time) (*models.AttendanceRecord, error) {
	a, err := scanAttendance(q.QueryRowContext(ctx, `
		UPDATE attendance SET dropoff_time = $3, status = 'present'
		WHERE student_id = $1 AND date = $2::date
		RETURNING `+attendanceCols, studentID, day, at))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// SetAttendanceStatus: ручная отметка (absent/late/excused) водителем.
func SetAttendanceStatus(ctx context.Context, q Querier, s models.Student, day string, status models.AttendanceStatus) (*models.AttendanceRecord, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	row := q.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, driver_id, parent_id, date, status)
		VALUES ($1, $2, $3, $4::date, $5)
		ON CONFLICT (student_id, date) DO UPDATE SET status = EXCLUDED.status
		RETURNING `+attendanceCols,
		s.ID, s.DriverID, s.ParentID, day, string(status))
	return scanAttendance(row)
}

type AttendanceFilter struct {
	StudentID string
	DriverID  string
	From      string // YYYY-MM-DD, включительно
	To        string // YYYY-MM-DD, включительно
}

func ListAttendance(ctx context.Context, q Querier, f AttendanceFilter) ([]models.AttendanceRecord, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := q.QueryContext(ctx, `
		SELECT `+attendanceCols+` FROM attendance
		WHERE ($1 = '' OR student_id::text = $1)
		  AND ($2 = '' OR driver_id::text = $2)
		  AND ($3 = '' OR date >= NULLIF($3, '')::date)
		  AND ($4 = '' OR date <= NULLIF($4, '')::date)
		ORDER BY date DESC, student_id`, f.StudentID, f.DriverID, f.From, f.To)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.AttendanceRecord
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
