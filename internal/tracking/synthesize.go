package tracking

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/lifecycle"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

// synthesize пишет записи, которые следуют из перехода tr.Old → tr.New.
//
//  1. Вход в группу "в автобусе" (из не-"в автобусе"): незакрытые поездки отменяются,
//     открывается новая; посещаемость за сегодня, present с временем посадки.
//  2. Любой статус группы "высажен": закрывается самая поздняя незакрытая поездка,
//     в посещаемость за сегодня ставится время высадки. Нет записи, ничего не делаем.
//  3. Статус изменился, ровно одно уведомление родителю (с итогом поездки, если она закрыта).
func (s *Service) synthesize(ctx context.Context, tx *sql.Tx, st models.Student, tr *Transition) error {
	day := tr.At.In(s.loc).Format("2006-01-02")
	var closed *models.Trip

	if lifecycle.IsPickup(tr.New) && !lifecycle.IsPickup(tr.Old) {
		stale, err := db.CancelStaleTrips(ctx, tx, st.ID, tr.At)
		if err != nil {
			return err
		}
		trip, err := db.StartTrip(ctx, tx, st, tr.At)
		if err != nil {
			return err
		}
		att, err := db.UpsertPickupAttendance(ctx, tx, st, day, tr.At)
		if err != nil {
			return err
		}
		tr.StaleTrips = stale
		tr.TripID, tr.TripOpened = trip.ID, true
		tr.AttendanceID = att.ID
	}

	if lifecycle.IsDropoff(tr.New) {
		trip, err := db.CompleteLatestTrip(ctx, tx, st.ID, tr.At)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return err
		default:
			tr.TripID, tr.TripClosed = trip.ID, true
			closed = trip
		}

		att, err := db.StampDropoffAttendance(ctx, tx, st.ID, day, tr.At)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return err
		default:
			tr.AttendanceID = att.ID
			metrics.AttendanceMarks.WithLabelValues("dropoff").Inc()
		}
	}

	if tr.Old != tr.New {
		msg := notify.StatusChange(st, tr.Old, tr.New)
		if closed != nil {
			msg = notify.WithTrip(msg, *closed)
		}
		if n := s.notifyInTx(ctx, tx, "status_change", msg); n != nil {
			tr.NotificationID = n.ID
		}
	}
	return nil
}

// notifyInTx: сбой записи уведомления откатывается до savepoint и не отменяет операцию.
func (s *Service) notifyInTx(ctx context.Context, tx *sql.Tx, savepoint string, n models.Notification) *models.Notification {
	var out *models.Notification
	err := db.Savepoint(ctx, tx, savepoint, func() error {
		var err error
		out, err = s.notify.Create(ctx, tx, n)
		return err
	})
	if err != nil {
		logging.FromContext(ctx, s.log).Warn("notification skipped",
			zap.String("type", string(n.Type)), zap.Error(err))
		metrics.HandlerErrors.Inc()
		return nil
	}
	return out
}
