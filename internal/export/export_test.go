package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/school-transport/internal/models"
)

func TestWorkbook(t *testing.T) {
	pick := time.Date(2025, 9, 1, 7, 40, 0, 0, time.UTC)
	drop := pick.Add(35 * time.Minute)
	att := []models.AttendanceRecord{{
		StudentID: "s1", Date: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Status: models.AttendancePresent, PickupTime: &pick, DropoffTime: &drop,
	}}
	trips := []models.Trip{{ChildID: "s2", Status: models.TripCompleted, StartedAt: pick, EndedAt: &drop}}
	names := Names{"s1": "Ann"}

	var buf bytes.Buffer
	if err := Write(&buf, []SheetSpec{AttendanceSheet(att, names, nil), TripsSheet(trips, names, nil)}); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Attendance")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][1] != "Ann" || rows[1][3] != "07:40" || rows[1][4] != "08:15" {
		t.Fatalf("attendance rows = %v", rows)
	}

	rows, err = f.GetRows("Trips")
	if err != nil {
		t.Fatal(err)
	}
	// имени нет, подставляется id
	if rows[1][1] != "s2" || rows[1][5] != "35" {
		t.Fatalf("trip rows = %v", rows)
	}
}

func TestHelpers(t *testing.T) {
	if colName(1) != "A" || colName(27) != "AA" {
		t.Fatal("colName")
	}
	if got := sheetName("a/b:[c]"); got != "a_b_c_" {
		t.Fatalf("sheetName = %q", got)
	}
	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	if got := ReportFilename(from, from.AddDate(0, 0, 29)); got != "Transport report — 01.09.2025–30.09.2025.xlsx" {
		t.Fatalf("filename = %q", got)
	}
}
