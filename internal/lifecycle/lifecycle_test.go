package lifecycle

import (
	"errors"
	"testing"

	"github.com/Spok95/school-transport/internal/models"
)

func TestParse(t *testing.T) {
	for _, s := range All {
		got, err := Parse(string(s))
		if err != nil || got != s {
			t.Fatalf("Parse(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := Parse("on-the-moon"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("ожидали ErrUnknownStatus, получили %v", err)
	}
}

func TestPickupDropoffDisjoint(t *testing.T) {
	for _, s := range All {
		if IsPickup(s) && IsDropoff(s) {
			t.Fatalf("%q одновременно pickup и dropoff", s)
		}
	}
	if !IsPickup(models.StatusPickedUp) || !IsPickup(models.StatusInTransitToHome) {
		t.Fatal("picked-up и in-transit-to-home должны быть pickup")
	}
	if !IsDropoff(models.StatusDroppedAtSchool) || !IsDropoff(models.StatusDroppedOff) {
		t.Fatal("dropped-at-school и dropped-off должны быть dropoff")
	}
	if IsPickup(models.StatusAtHome) || IsDropoff(models.StatusAtHome) {
		t.Fatal("at-home не pickup и не dropoff")
	}
}

func TestPickupDropoffSets(t *testing.T) {
	var pickup, dropoff []models.StudentStatus
	for _, s := range All {
		if IsPickup(s) {
			pickup = append(pickup, s)
		}
		if IsDropoff(s) {
			dropoff = append(dropoff, s)
		}
	}
	wantPickup := []models.StudentStatus{
		models.StatusPickedUp, models.StatusInTransitToSchool, models.StatusInTransitToHome,
		models.StatusInTransit, models.StatusReturning,
	}
	wantDropoff := []models.StudentStatus{
		models.StatusDroppedAtSchool, models.StatusDroppedAtHome, models.StatusAtSchool, models.StatusDroppedOff,
	}
	if !sameSet(pickup, wantPickup) {
		t.Errorf("pickup = %v, ожидали %v", pickup, wantPickup)
	}
	if !sameSet(dropoff, wantDropoff) {
		t.Errorf("dropoff = %v, ожидали %v", dropoff, wantDropoff)
	}
}

func sameSet(a, b []models.StudentStatus) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[models.StudentStatus]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			return false
		}
	}
	return true
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.StudentStatus
		want     bool
	}{
		{models.StatusAtHome, models.StatusPickedUp, true},
		{"", models.StatusPickedUp, true},
		{models.StatusPickedUp, models.StatusInTransitToSchool, true},
		{models.StatusInTransitToSchool, models.StatusDroppedAtSchool, true},
		{models.StatusDroppedAtSchool, models.StatusInTransitToHome, true},
		{models.StatusInTransitToHome, models.StatusDroppedAtHome, true},
		{models.StatusDroppedAtHome, models.StatusAtHome, true},
		{models.StatusAtHome, models.StatusAtHome, true},
		{models.StatusAtHome, models.StatusDroppedAtSchool, false},
		{models.StatusDroppedAtHome, models.StatusInTransitToSchool, false},
		{models.StatusAtHome, "bogus", false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionTableClosed(t *testing.T) {
	for from, tos := range transitions {
		if !Valid(from) {
			t.Fatalf("неизвестный статус в таблице: %q", from)
		}
		for _, to := range tos {
			if !Valid(to) {
				t.Fatalf("неизвестный статус %q в переходах из %q", to, from)
			}
		}
	}
	for _, s := range All {
		if len(Next(s)) == 0 {
			t.Fatalf("из %q нет ни одного перехода", s)
		}
	}
}

func TestTexts(t *testing.T) {
	if got := Describe("Ann", models.StatusPickedUp); got != "Ann has been picked up" {
		t.Fatalf("Describe = %q", got)
	}
	if got := Describe("Ann", "x"); got != "Ann status updated" {
		t.Fatalf("Describe unknown = %q", got)
	}
	want := "Ann status changed: At Home 🏠 → Picked Up 🚌"
	if got := ChangeText("Ann", models.StatusAtHome, models.StatusPickedUp); got != want {
		t.Fatalf("ChangeText = %q", got)
	}
}
