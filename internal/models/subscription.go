package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type Subscription struct {
	ID                 string             `json:"id"`
	ParentID           string             `json:"parentId"`
	DriverID           string             `json:"driverId"`
	StudentID          string             `json:"studentId"`
	RequestID          string             `json:"requestId,omitempty"`
	MonthlyFee         int64              `json:"monthlyFee"`
	Currency           string             `json:"currency"`
	Status             SubscriptionStatus `json:"status"`
	StartDate          time.Time          `json:"startDate"`
	NextPaymentDate    time.Time          `json:"nextPaymentDate"`
	LastPaymentDate    *time.Time         `json:"lastPaymentDate,omitempty"`
	TotalPaid          int64              `json:"totalPaid"`
	PaymentsCount      int                `json:"paymentsCount"`
	CancelledAt        *time.Time         `json:"cancelledAt,omitempty"`
	CancelledBy        string             `json:"cancelledBy,omitempty"`
	CancellationReason string             `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
)

// Payment: неизменяемая запись об оплате.
type Payment struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscriptionId,omitempty"`
	StudentID      string        `json:"studentId,omitempty"`
	Amount         int64         `json:"amount"`
	Currency       string        `json:"currency"`
	Method         string        `json:"method"`
	TransactionID  string        `json:"transactionId"`
	Status         PaymentStatus `json:"status"`
	DueDate        *time.Time    `json:"dueDate,omitempty"`
	PaidAt         time.Time     `json:"paidAt"`
	CreatedAt      time.Time     `json:"createdAt"`
}
