package notify

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/observability"
)

// Channel: внешний канал доставки (брокер, telegram, почта, websocket).
// ErrSkip означает "получателю этот канал не подходит", это не ошибка доставки.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification, to models.User) error
}

var ErrSkip = errors.New("channel not applicable")

// Relay забирает недоставленные уведомления из таблицы и рассылает по каналам.
// Доставка at-least-once: при сбое любого канала уведомление уйдёт повторно
// во все каналы, получатели дедуплицируют по id уведомления.
type Relay struct {
	db          *sql.DB
	channels    []Channel
	log         *zap.Logger
	now         func() time.Time
	MaxAttempts int
	Batch       int
}

func NewRelay(database *sql.DB, log *zap.Logger, channels ...Channel) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		db:          database,
		channels:    channels,
		log:         log.Named("relay"),
		now:         time.Now,
		MaxAttempts: 5,
		Batch:       100,
	}
}

// RunOnce: одна пачка. Возвращает число доставленных.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var delivered int
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		batch, err := db.ClaimUndelivered(ctx, tx, r.MaxAttempts, r.Batch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		users := map[string]*models.User{}
		lookup := func(id string) (*models.User, error) {
			if u, ok := users[id]; ok {
				return u, nil
			}
			u, err := db.GetUserByID(ctx, tx, id)
			if err != nil {
				return nil, err
			}
			users[id] = u
			return u, nil
		}

		ok, failed := r.deliver(ctx, batch, lookup)
		if err := db.MarkDelivered(ctx, tx, ok, r.now()); err != nil {
			return err
		}
		if err := db.MarkDeliveryFailed(ctx, tx, failed); err != nil {
			return err
		}
		delivered = len(ok)
		return nil
	})
	return delivered, err
}

func (r *Relay) deliver(ctx context.Context, batch []models.Notification, lookup func(string) (*models.User, error)) (ok, failed []string) {
	for _, n := range batch {
		to, err := lookup(n.RecipientID)
		if err != nil {
			r.log.Warn("recipient lookup failed", zap.String("notification", n.ID), zap.Error(err))
			failed = append(failed, n.ID)
			continue
		}
		good := true
		for _, ch := range r.channels {
			err := ch.Deliver(ctx, n, *to)
			switch {
			case err == nil:
				metrics.NotificationsDelivered.WithLabelValues(ch.Name()).Inc()
			case errors.Is(err, ErrSkip):
			default:
				good = false
				metrics.NotificationsFailed.WithLabelValues(ch.Name()).Inc()
				r.log.Warn("delivery failed",
					zap.String("channel", ch.Name()),
					zap.String("notification", n.ID),
					zap.Int("attempt", n.DeliveryAttempts+1),
					zap.Error(err))
				if n.DeliveryAttempts+1 >= r.MaxAttempts {
					observability.CaptureWith(err, map[string]string{"channel": ch.Name(), "notification": n.ID})
				}
			}
		}
		if good {
			ok = append(ok, n.ID)
		} else {
			failed = append(failed, n.ID)
		}
	}
	return ok, failed
}
