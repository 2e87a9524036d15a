package models

import "time"

type AgreementStatus string

const (
	AgreementPendingSignature AgreementStatus = "pending-parent-signature"
	AgreementActive           AgreementStatus = "active"
	AgreementDeclined         AgreementStatus = "declined"
)

// Agreement: договор на помесячную перевозку. Водитель подписывает при создании,
// родитель подписью запускает ребёнка и подписку.
type Agreement struct {
	ID             string          `json:"id"`
	RequestID      string          `json:"requestId"`
	ParentID       string          `json:"parentId"`
	DriverID       string          `json:"driverId"`
	ChildName      string          `json:"childName"`
	MonthlyAmount  int64           `json:"monthlyAmount"`
	Currency       string          `json:"currency"`
	PickupTime     string          `json:"pickupTime,omitempty"`
	PickupAddress  string          `json:"pickupAddress"`
	DropoffAddress string          `json:"dropoffAddress"`
	ContractMonths int             `json:"contractMonths"`
	PaymentDay     int             `json:"paymentDay"`
	Terms          string          `json:"terms"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	AutoRenewal    bool            `json:"autoRenewal"`
	Status         AgreementStatus `json:"status"`
	ParentSignedAt *time.Time      `json:"parentSignedAt,omitempty"`
	StudentID      string          `json:"studentId,omitempty"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TotalValue: сумма за весь срок договора.
func (a Agreement) TotalValue() int64 {
	return a.MonthlyAmount * int64(a.ContractMonths)
}
