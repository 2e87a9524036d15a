// Package channels: внешние каналы доставки уведомлений для notify.Relay.
package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/models"
)

const (
	NotificationExchange = "transport.notifications"
	routingPrefix        = "transport.notification."
)

// Event: тело сообщения в брокере. MessageId = ID уведомления, по нему потребители дедуплицируют.
type Event struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipientId"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func RoutingKey(t models.NotificationType) string { return routingPrefix + string(t) }

func eventOf(n models.Notification) Event {
	return Event{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Type:        string(n.Type),
		Title:       n.Title,
		Body:        n.Body,
		Data:        n.Data,
		CreatedAt:   n.CreatedAt,
	}
}

// Rabbit публикует уведомления в topic-exchange с подтверждениями издателя.
type Rabbit struct {
	url  string
	log  *zap.Logger
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func DialRabbit(url string, log *zap.Logger) (*Rabbit, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Rabbit{url: url, log: log.Named("rabbitmq")}
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return r, nil
}

func (r *Rabbit) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(NotificationExchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return err
	}
	r.conn, r.ch = conn, ch
	return nil
}

func (r *Rabbit) Name() string { return "rabbitmq" }

func (r *Rabbit) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed()
}

func (r *Rabbit) Deliver(ctx context.Context, n models.Notification, _ models.User) error {
	body, err := json.Marshal(eventOf(n))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// соединение упало, одна попытка переподключиться, дальше повторит relay
	if r.conn == nil || r.conn.IsClosed() || r.ch == nil || r.ch.IsClosed() {
		r.log.Warn("connection closed, reconnecting")
		if err := r.connect(); err != nil {
			return fmt.Errorf("rabbitmq reconnect: %w", err)
		}
	}

	dc, err := r.ch.PublishWithDeferredConfirmWithContext(ctx, NotificationExchange, RoutingKey(n.Type), false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    n.ID,
			Timestamp:    n.CreatedAt,
			Type:         string(n.Type),
			Body:         body,
		})
	if err != nil {
		return err
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("rabbitmq: publish nacked")
	}
	return nil
}

func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
