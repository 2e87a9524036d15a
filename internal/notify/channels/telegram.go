package channels

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
	"github.com/Spok95/school-transport/internal/observability"
)

// Считаем системными: 5xx, 429, timeout. Такие повторяем и шлём в Sentry.
func isSystemErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "502") ||
		strings.Contains(s, "503") || strings.Contains(s, "timeout")
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram: доставка в чат, привязанный к пользователю (users.telegram_chat_id).
type Telegram struct {
	bot sender
	log *zap.Logger
}

func NewTelegram(token string, log *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{bot: bot, log: log.Named("telegram")}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func formatTelegram(n models.Notification) string {
	if n.Body == "" {
		return n.Title
	}
	return n.Title + "\n" + n.Body
}

func (t *Telegram) Deliver(_ context.Context, n models.Notification, to models.User) error {
	if to.TelegramChatID == 0 {
		return notify.ErrSkip
	}
	msg := tgbotapi.NewMessage(to.TelegramChatID, formatTelegram(n))
	_, err := t.bot.Send(msg)
	switch {
	case err == nil:
		return nil
	case isSystemErr(err):
		observability.CaptureErr(err)
		return err
	default:
		// 400-ки (chat not found, бот заблокирован) повторять бессмысленно
		t.log.Info("telegram rejected message", zap.Int64("chat", to.TelegramChatID), zap.Error(err))
		return fmt.Errorf("%w: %v", notify.ErrSkip, err)
	}
}
