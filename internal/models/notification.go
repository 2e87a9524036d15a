package models

import "time"

type NotificationType string

const (
	NotifyStatusChange         NotificationType = "status-change"
	NotifyNewRequest           NotificationType = "new-request"
	NotifyRequestAccepted      NotificationType = "request-accepted"
	NotifyRequestRejected      NotificationType = "request-rejected"
	NotifyPaymentReceived      NotificationType = "payment-received"
	NotifyEmergency            NotificationType = "emergency"
	NotifyTripCompleted        NotificationType = "trip-completed"
	NotifySubscriptionExpiring NotificationType = "subscription-expiring"
	NotifyMessage              NotificationType = "message"
)

var NotificationTypes = []NotificationType{
	NotifyStatusChange, NotifyNewRequest, NotifyRequestAccepted, NotifyRequestRejected,
	NotifyPaymentReceived, NotifyEmergency, NotifyTripCompleted, NotifySubscriptionExpiring, NotifyMessage,
}

func (t NotificationType) Valid() bool {
	for _, x := range NotificationTypes {
		if x == t {
			return true
		}
	}
	return false
}

type Notification struct {
	ID               string            `json:"id"`
	RecipientID      string            `json:"recipientId"`
	Type             NotificationType  `json:"type"`
	Title            string            `json:"title"`
	Body             string            `json:"body"`
	Data             map[string]string `json:"data,omitempty"`
	Read             bool              `json:"read"`
	ReadAt           *time.Time        `json:"readAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	DeliveredAt      *time.Time        `json:"-"`
	DeliveryAttempts int               `json:"-"`
}
