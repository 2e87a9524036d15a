// Package enrollment: заявки на перевозку, их одобрение водителем, подписки и оплаты.
package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/checkout"
	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalid          = errors.New("invalid input")
	ErrNotPending       = errors.New("request is not pending")
	ErrNotApproved      = errors.New("request is not approved")
	ErrNotActive        = errors.New("subscription is not active")
	ErrAlreadyCancelled = errors.New("subscription already cancelled")
)

// BillingPeriod: первый платёж через 30 дней после одобрения.
const BillingPeriod = 30 * 24 * time.Hour

// Gateway: создание страницы оплаты (checkout.Client).
type Gateway interface {
	CreateSession(ctx context.Context, r checkout.Request) (string, error)
}

type Options struct {
	MonthlyFee int64
	Currency   string
	Checkout   Gateway
}

type Service struct {
	db       *sql.DB
	notify   *notify.Service
	log      *zap.Logger
	fee      int64
	currency string
	checkout Gateway
	now      func() time.Time
}

func NewService(database *sql.DB, n *notify.Service, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MonthlyFee <= 0 {
		opts.MonthlyFee = 2500
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &Service{
		db:       database,
		notify:   n,
		log:      log.Named("enrollment"),
		fee:      opts.MonthlyFee,
		currency: opts.Currency,
		checkout: opts.Checkout,
		now:      time.Now,
	}
}

func session(ctx context.Context, role models.Role) (ctxutil.Session, error) {
	sess, err := ctxutil.RequireSession(ctx)
	if err != nil {
		return sess, err
	}
	if role != "" && sess.Role != role {
		return sess, ErrForbidden
	}
	return sess, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// notifyInTx: уведомление в той же транзакции; сбой откатывается до savepoint.
func (s *Service) notifyInTx(ctx context.Context, tx *sql.Tx, savepoint string, n models.Notification) {
	err := db.Savepoint(ctx, tx, savepoint, func() error {
		_, err := s.notify.Create(ctx, tx, n)
		return err
	})
	if err != nil {
		logging.FromContext(ctx, s.log).Warn("notification skipped",
			zap.String("type", string(n.Type)), zap.Error(err))
		metrics.HandlerErrors.Inc()
	}
}
