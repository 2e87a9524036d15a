package enrollment

import (
	"strings"
	"testing"
	"time"
)

func TestFirstPaymentDue(t *testing.T) {
	cases := []struct {
		start string
		day   int
		want  string
	}{
		{"2025-09-01", 1, "2025-10-01"},
		{"2025-09-15", 1, "2025-11-01"},
		{"2025-09-15", 20, "2025-10-20"},
		{"2025-12-10", 5, "2026-02-05"},
		{"2026-01-31", 28, "2026-03-28"},
	}
	for _, c := range cases {
		start, _ := time.Parse("2006-01-02", c.start)
		got := firstPaymentDue(start, c.day).Format("2006-01-02")
		if got != c.want {
			t.Errorf("firstPaymentDue(%s, %d) = %s, ожидали %s", c.start, c.day, got, c.want)
		}
	}
}

func TestDefaultTerms(t *testing.T) {
	text := DefaultTerms("07:45", 5, 6)
	for _, want := range []string{"Pick up time: 07:45", "day 5 of each month", "valid for 6 months"} {
		if !strings.Contains(text, want) {
			t.Errorf("в условиях нет %q", want)
		}
	}
	if !strings.Contains(DefaultTerms("", 1, 12), "to be agreed") {
		t.Error("пустое время подачи")
	}
}
