package models

import "time"

// StudentStatus: положение ребёнка в течение дня.
type StudentStatus string

const (
	StatusAtHome            StudentStatus = "at-home"
	StatusPickedUp          StudentStatus = "picked-up"
	StatusInTransitToSchool StudentStatus = "in-transit-to-school"
	StatusDroppedAtSchool   StudentStatus = "dropped-at-school"
	StatusInTransitToHome   StudentStatus = "in-transit-to-home"
	StatusDroppedAtHome     StudentStatus = "dropped-at-home"

	// расширенный набор из второй версии клиента
	StatusWaitingPickup StudentStatus = "waiting-pickup"
	StatusInTransit     StudentStatus = "in-transit"
	StatusAtSchool      StudentStatus = "at-school"
	StatusReturning     StudentStatus = "returning"
	StatusDroppedOff    StudentStatus = "dropped-off"
)

type Student struct {
	ID               string        `json:"id"`
	FullName         string        `json:"fullName"`
	Age              int           `json:"age,omitempty"`
	School           string        `json:"school,omitempty"`
	ParentID         string        `json:"parentId"`
	DriverID         string        `json:"driverId"`
	BusID            string        `json:"busId,omitempty"`
	Status           StudentStatus `json:"status"`
	MonthlyFee       int64         `json:"monthlyFee"`
	PickupAddress    string        `json:"pickupAddress"`
	DropoffAddress   string        `json:"dropoffAddress"`
	Notes            string        `json:"notes,omitempty"`
	LastStatusUpdate *time.Time    `json:"lastStatusUpdate,omitempty"`
	UpdatedBy        string        `json:"updatedBy,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}
