// Package tracking: смена статуса ребёнка водителем и производные записи:
// поездки, посещаемость и уведомления родителю. Всё в одной транзакции.
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/lifecycle"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

var (
	ErrNotAssigned       = errors.New("driver is not assigned to this student")
	ErrForbidden         = errors.New("student belongs to another user")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrNotFound          = errors.New("student not found")
)

const idemScope = "status-change"

type Options struct {
	// Strict: отклонять переходы вне таблицы lifecycle вместо пометки Legal=false.
	Strict   bool
	Location *time.Location
}

type Service struct {
	db     *sql.DB
	notify *notify.Service
	log    *zap.Logger
	strict bool
	loc    *time.Location
	now    func() time.Time
}

func NewService(database *sql.DB, n *notify.Service, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:     database,
		notify: n,
		log:    log.Named("tracking"),
		strict: opts.Strict,
		loc:    loc,
		now:    time.Now,
	}
}

// Transition: итог смены статуса.
type Transition struct {
	StudentID      string               `json:"studentId"`
	Old            models.StudentStatus `json:"old"`
	New            models.StudentStatus `json:"new"`
	Legal          bool                 `json:"legal"`
	At             time.Time            `json:"at"`
	TripID         string               `json:"tripId,omitempty"`
	TripOpened     bool                 `json:"tripOpened,omitempty"`
	TripClosed     bool                 `json:"tripClosed,omitempty"`
	StaleTrips     int64                `json:"staleTrips,omitempty"`
	AttendanceID   string               `json:"attendanceId,omitempty"`
	NotificationID string               `json:"notificationId,omitempty"`
	Replayed       bool                 `json:"replayed,omitempty"`
}

// ChangeStatus: водитель ставит ребёнку новый статус. Запись статуса и все производные
// записи фиксируются вместе; при ошибке не остаётся ничего.
// idemKey (необязательный) защищает от повторной отправки той же команды.
func (s *Service) ChangeStatus(ctx context.Context, studentID, target, idemKey string) (*Transition, error) {
	ctx = ctxutil.WithOp(ctx, "tracking.change_status")
	log := logging.FromContext(ctx, s.log)

	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Role != models.Driver {
		return nil, ErrNotAssigned
	}
	next, err := lifecycle.Parse(target)
	if err != nil {
		return nil, err
	}

	idem := db.IdemKey{Scope: idemScope, ActorID: sess.UserID, Key: idemKey, Target: studentID + ":" + string(next)}
	var tr *Transition
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if idemKey != "" {
			first, _, err := db.ClaimIdempotencyKey(ctx, tx, idem)
			if err != nil {
				return err
			}
			if !first {
				st, err := db.LockStudent(ctx, tx, studentID)
				if err != nil {
					return mapNotFound(err)
				}
				tr = &Transition{StudentID: st.ID, Old: st.Status, New: st.Status, Legal: true, Replayed: true}
				return nil
			}
		}

		st, err := db.LockStudent(ctx, tx, studentID)
		if err != nil {
			return mapNotFound(err)
		}
		if st.DriverID != sess.UserID {
			return ErrNotAssigned
		}
		old := st.Status
		if old == "" {
			old = models.StatusAtHome
		}
		legal := lifecycle.CanTransition(old, next)
		if !legal && s.strict {
			return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, old, next)
		}

		at := s.now()
		if err := db.UpdateStudentStatus(ctx, tx, st.ID, next, sess.UserID, at); err != nil {
			return err
		}
		tr = &Transition{StudentID: st.ID, Old: old, New: next, Legal: legal, At: at}
		if err := s.synthesize(ctx, tx, *st, tr); err != nil {
			return err
		}
		if idemKey != "" {
			return db.SetIdempotencyResult(ctx, tx, idem, st.ID)
		}
		return nil
	})
	if err != nil {
		metrics.HandlerErrors.Inc()
		return nil, err
	}
	if tr.Replayed {
		log.Info("status change replayed", zap.String("student", studentID), zap.String("key", idemKey))
		return tr, nil
	}

	metrics.ObserveTransition(string(tr.New), tr.Legal)
	if tr.TripOpened {
		metrics.TripsOpened.Inc()
		metrics.AttendanceMarks.WithLabelValues("pickup").Inc()
	}
	if tr.TripClosed {
		metrics.TripsClosed.WithLabelValues(string(models.TripCompleted)).Inc()
	}
	if tr.StaleTrips > 0 {
		metrics.TripsClosed.WithLabelValues(string(models.TripCancelled)).Add(float64(tr.StaleTrips))
	}
	fields := []zap.Field{
		zap.String("student", tr.StudentID),
		zap.String("from", string(tr.Old)),
		zap.String("to", string(tr.New)),
	}
	if !tr.Legal {
		log.Warn("transition outside lifecycle table applied", fields...)
	} else {
		log.Info("status changed", fields...)
	}
	return tr, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
