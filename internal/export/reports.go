package export

import (
	"fmt"
	"time"

	"github.com/Spok95/school-transport/internal/models"
)

// Names: id → имя ребёнка для подписи строк.
type Names map[string]string

func (n Names) of(id string) string {
	if v, ok := n[id]; ok && v != "" {
		return v
	}
	return id
}

func clock(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("15:04")
}

func AttendanceSheet(records []models.AttendanceRecord, names Names, loc *time.Location) SheetSpec {
	if loc == nil {
		loc = time.UTC
	}
	s := SheetSpec{
		Title:  "Attendance",
		Header: []string{"Date", "Student", "Status", "Pickup", "Dropoff"},
	}
	for _, a := range records {
		s.Rows = append(s.Rows, []string{
			a.Date.Format("02.01.2006"),
			names.of(a.StudentID),
			string(a.Status),
			clock(a.PickupTime, loc),
			clock(a.DropoffTime, loc),
		})
	}
	return s
}

func TripsSheet(trips []models.Trip, names Names, loc *time.Location) SheetSpec {
	if loc == nil {
		loc = time.UTC
	}
	s := SheetSpec{
		Title:  "Trips",
		Header: []string{"Date", "Student", "Status", "Started", "Ended", "Minutes", "From", "To"},
	}
	for _, t := range trips {
		minutes := ""
		if t.EndedAt != nil {
			minutes = fmt.Sprintf("%d", int(t.EndedAt.Sub(t.StartedAt).Round(time.Minute)/time.Minute))
		}
		s.Rows = append(s.Rows, []string{
			t.StartedAt.In(loc).Format("02.01.2006"),
			names.of(t.ChildID),
			string(t.Status),
			clock(&t.StartedAt, loc),
			clock(t.EndedAt, loc),
			minutes,
			t.PickupAddress,
			t.DropoffAddress,
		})
	}
	return s
}

// ReportFilename: "Transport report, 01.09.2025–30.09.2025.xlsx".
func ReportFilename(from, to time.Time) string {
	return sanitizeFileName(fmt.Sprintf("Transport report — %s–%s.xlsx",
		from.Format("02.01.2006"), to.Format("02.01.2006")))
}
