package models

import "time"

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCompleted RequestStatus = "completed"

	// водитель предложил договор, ждём подписи родителя
	RequestAgreementCreated RequestStatus = "agreement-created"
)

type RequestType string

const (
	RequestRegular   RequestType = "regular"
	RequestEmergency RequestType = "emergency"
)

type RideRequest struct {
	ID              string        `json:"id"`
	ChildName       string        `json:"childName"`
	ChildAge        int           `json:"childAge,omitempty"`
	School          string        `json:"school,omitempty"`
	PickupAddress   string        `json:"pickupAddress"`
	DropoffAddress  string        `json:"dropoffAddress"`
	RequestedTime   string        `json:"requestedTime,omitempty"` // HH:MM
	Notes           string        `json:"notes,omitempty"`
	Type            RequestType   `json:"requestType"`
	ParentID        string        `json:"parentId"`
	DriverID        string        `json:"driverId,omitempty"`
	Status          RequestStatus `json:"status"`
	ResponseMessage string        `json:"responseMessage,omitempty"`
	RespondedBy     string        `json:"respondedBy,omitempty"`
	RespondedAt     *time.Time    `json:"respondedAt,omitempty"`
	StudentID       string        `json:"studentId,omitempty"`
	SubscriptionID  string        `json:"subscriptionId,omitempty"`
	AgreementID     string        `json:"agreementId,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}
