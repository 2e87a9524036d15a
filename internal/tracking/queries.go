package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

// canSee: родитель видит своих детей, водитель, закреплённых за ним.
func canSee(sess ctxutil.Session, st *models.Student) bool {
	switch sess.Role {
	case models.Parent:
		return st.ParentID == sess.UserID
	case models.Driver:
		return st.DriverID == sess.UserID
	}
	return false
}

func (s *Service) Student(ctx context.Context, id string) (*models.Student, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	st, err := db.GetStudent(ctx, s.db, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !canSee(sess, st) {
		return nil, ErrForbidden
	}
	return st, nil
}

// Students: дети текущего пользователя.
func (s *Service) Students(ctx context.Context) ([]models.Student, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role == models.Driver {
		return db.ListStudentsByDriver(ctx, s.db, sess.UserID)
	}
	return db.ListStudentsByParent(ctx, s.db, sess.UserID)
}

// MarkAttendance: ручная отметка за день (absent/late/excused/present).
func (s *Service) MarkAttendance(ctx context.Context, studentID, day string, status models.AttendanceStatus) (*models.AttendanceRecord, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	switch status {
	case models.AttendancePresent, models.AttendanceAbsent, models.AttendanceLate, models.AttendanceExcused:
	default:
		return nil, fmt.Errorf("unknown attendance status %q", status)
	}
	st, err := db.GetStudent(ctx, s.db, studentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if sess.Role != models.Driver || st.DriverID != sess.UserID {
		return nil, ErrNotAssigned
	}
	if day == "" {
		day = s.now().In(s.loc).Format("2006-01-02")
	}
	return db.SetAttendanceStatus(ctx, s.db, *st, day, status)
}

// Attendance: история посещаемости. Родитель получает только по своим детям.
func (s *Service) Attendance(ctx context.Context, f db.AttendanceFilter) ([]models.AttendanceRecord, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role == models.Driver {
		f.DriverID = sess.UserID
		return db.ListAttendance(ctx, s.db, f)
	}
	if f.StudentID == "" {
		return nil, fmt.Errorf("%w: student id required", ErrForbidden)
	}
	if _, err := s.Student(ctx, f.StudentID); err != nil {
		return nil, err
	}
	return db.ListAttendance(ctx, s.db, f)
}

func (s *Service) Trips(ctx context.Context, f db.TripFilter) ([]models.Trip, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role == models.Driver {
		f.DriverID = sess.UserID
	} else {
		f.ParentID = sess.UserID
	}
	return db.ListTrips(ctx, s.db, f)
}

// ReportEmergency: родитель сообщает водителю о чрезвычайной ситуации с ребёнком.
func (s *Service) ReportEmergency(ctx context.Context, studentID, kind, message string) (*models.Emergency, error) {
	ctx = ctxutil.WithOp(ctx, "tracking.emergency")
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "other"
	}

	var out *models.Emergency
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		st, err := db.GetStudent(ctx, tx, studentID)
		if err != nil {
			return mapNotFound(err)
		}
		if sess.Role != models.Parent || st.ParentID != sess.UserID {
			return ErrForbidden
		}
		e, err := db.InsertEmergency(ctx, tx, models.Emergency{
			Type:      kind,
			Message:   strings.TrimSpace(message),
			ParentID:  st.ParentID,
			DriverID:  st.DriverID,
			StudentID: st.ID,
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		s.notifyInTx(ctx, tx, "emergency", notify.Emergency(*e, st.FullName))
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).Warn("emergency reported",
		zap.String("student", studentID), zap.String("type", kind))
	return out, nil
}

func (s *Service) Emergencies(ctx context.Context, limit int) ([]models.Emergency, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role != models.Driver {
		return nil, ErrForbidden
	}
	return db.ListEmergenciesForDriver(ctx, s.db, sess.UserID, limit)
}
