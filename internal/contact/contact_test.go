package contact

import (
	"errors"
	"strings"
	"testing"

	"github.com/Spok95/school-transport/internal/models"
)

func TestDigits(t *testing.T) {
	if got := Digits("+7 (912) 345-67-89"); got != "79123456789" {
		t.Fatalf("Digits = %q", got)
	}
	if got := Digits("n/a"); got != "" {
		t.Fatalf("Digits = %q", got)
	}
}

func TestWhatsAppEscapesLikeURIComponent(t *testing.T) {
	got := WhatsApp("+1 555 0100", "Hi Bob, ok?")
	want := "https://wa.me/15550100?text=Hi%20Bob%2C%20ok%3F"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if WhatsApp("---", "x") != "" {
		t.Fatal("без цифр ссылки быть не должно")
	}
}

func TestFor(t *testing.T) {
	cases := []struct {
		name   string
		driver models.User
		prefix string
		err    error
	}{
		{"phone", models.User{Phone: "+1 555", Email: "d@x.io"}, "https://wa.me/1555?", nil},
		{"email only", models.User{Email: "d@x.io"}, "mailto:d@x.io?subject=School%20Bus", nil},
		{"nothing", models.User{}, "", ErrNoContact},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := For(tc.driver, InquiryText("Bob"))
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if !strings.HasPrefix(l.Preferred, tc.prefix) {
				t.Fatalf("preferred = %q", l.Preferred)
			}
		})
	}
}

func TestEmergencyTextDefaults(t *testing.T) {
	got := EmergencyText("Running late", "", "")
	if !strings.Contains(got, "Child: Student") || !strings.Contains(got, "No additional message") {
		t.Fatalf("text = %q", got)
	}
}
