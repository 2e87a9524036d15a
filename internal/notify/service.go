// Package notify: уведомления пользователям: запись (в транзакции вызывающего),
// чтение/отметка прочитанного и доставка через outbox-relay.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
)

const DefaultLimit = 50

var (
	ErrInvalid  = errors.New("invalid notification")
	ErrNotFound = errors.New("notification not found")
)

type Service struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

func NewService(database *sql.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: database, log: log.Named("notify"), now: time.Now}
}

func validate(n models.Notification) error {
	switch {
	case n.RecipientID == "":
		return fmt.Errorf("%w: empty recipient", ErrInvalid)
	case !n.Type.Valid():
		return fmt.Errorf("%w: type %q", ErrInvalid, n.Type)
	case strings.TrimSpace(n.Title) == "":
		return fmt.Errorf("%w: empty title", ErrInvalid)
	}
	return nil
}

// Create пишет непрочитанное уведомление через q (обычно транзакция вызывающей операции).
func (s *Service) Create(ctx context.Context, q db.Querier, n models.Notification) (*models.Notification, error) {
	if err := validate(n); err != nil {
		return nil, err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	out, err := db.InsertNotification(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	return out, nil
}

// Send: вне транзакции, best-effort: ошибка пишется в лог и не возвращается.
func (s *Service) Send(ctx context.Context, n models.Notification) *models.Notification {
	out, err := s.Create(ctx, s.db, n)
	if err != nil {
		logging.FromContext(ctx, s.log).Warn("notification dropped",
			zap.String("type", string(n.Type)), zap.String("recipient", n.RecipientID), zap.Error(err))
		metrics.HandlerErrors.Inc()
		return nil
	}
	return out
}

func (s *Service) ListUnread(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	return db.ListNotifications(ctx, s.db, recipientID, true, capLimit(limit))
}

func (s *Service) List(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	return db.ListNotifications(ctx, s.db, recipientID, false, capLimit(limit))
}

func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return db.CountUnread(ctx, s.db, recipientID)
}

func (s *Service) MarkRead(ctx context.Context, recipientID, id string) error {
	ok, err := db.MarkNotificationRead(ctx, s.db, id, recipientID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead: одним UPDATE.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return db.MarkAllNotificationsRead(ctx, s.db, recipientID, s.now())
}

func capLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > 200:
		return 200
	}
	return n
}
