package jobs

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/notify"
)

// RelayJob: доставка outbox-уведомлений; крутит пачки, пока они полные.
func RelayJob(relay *notify.Relay) Job {
	return func(ctx context.Context) error {
		for {
			n, err := relay.RunOnce(ctx)
			if err != nil {
				return err
			}
			if n < relay.Batch || ctx.Err() != nil {
				return nil
			}
		}
	}
}

// ExpiringJob: одно напоминание "скоро платёж" на каждую дату платежа активной подписки.
func ExpiringJob(database *sql.DB, svc *notify.Service, days int, loc *time.Location, log *zap.Logger) Job {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) error {
		until := time.Now().AddDate(0, 0, days)
		subs, err := db.DueForExpiryNotice(ctx, database, until, 100)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if svc.Send(ctx, notify.SubscriptionExpiring(sub, loc)) == nil {
				continue
			}
			if err := db.MarkExpiryNotified(ctx, database, sub.ID, sub.NextPaymentDate); err != nil {
				return err
			}
		}
		if len(subs) > 0 {
			log.Info("payment reminders queued", zap.Int("count", len(subs)))
		}
		return nil
	}
}
