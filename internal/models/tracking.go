package models

import "time"

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceExcused AttendanceStatus = "excused"
)

type AttendanceRecord struct {
	ID          string           `json:"id"`
	StudentID   string           `json:"studentId"`
	DriverID    string           `json:"driverId"`
	ParentID    string           `json:"parentId"`
	Date        time.Time        `json:"date"`
	PickupTime  *time.Time       `json:"pickupTime,omitempty"`
	DropoffTime *time.Time       `json:"dropoffTime,omitempty"`
	Status      AttendanceStatus `json:"status"`
}

type TripStatus string

const (
	TripInProgress TripStatus = "in-progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

type Trip struct {
	ID             string     `json:"id"`
	ParentID       string     `json:"parentId"`
	DriverID       string     `json:"driverId"`
	ChildID        string     `json:"childId"`
	PickupAddress  string     `json:"pickupAddress"`
	DropoffAddress string     `json:"dropoffAddress"`
	Status         TripStatus `json:"status"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

type Emergency struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	ParentID  string    `json:"parentId"`
	DriverID  string    `json:"driverId"`
	StudentID string    `json:"studentId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
