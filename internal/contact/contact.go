package contact

import (
	"errors"
	"net/url"
	"strings"
	"unicode"

	"github.com/Spok95/school-transport/internal/models"
)

var ErrNoContact = errors.New("contact information not available for this driver")

const inquirySubject = "School Bus Service Inquiry"

type Links struct {
	WhatsApp  string `json:"whatsapp,omitempty"`
	Email     string `json:"email,omitempty"`
	Preferred string `json:"preferred"`
}

// Digits оставляет в телефоне только цифры (формат wa.me).
func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escape: как encodeURIComponent: пробел кодируется %20, а не '+'.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func WhatsApp(phone, text string) string {
	d := Digits(phone)
	if d == "" {
		return ""
	}
	return "https://wa.me/" + d + "?text=" + escape(text)
}

func Mailto(email, subject, body string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	return "mailto:" + email + "?subject=" + escape(subject) + "&body=" + escape(body)
}

func InquiryText(driverName string) string {
	return "Hi " + driverName + ", I'm interested in school bus service for my child. " +
		"Could you please provide more details about your service?"
}

func EmergencyText(kind, childName, message string) string {
	if childName == "" {
		childName = "Student"
	}
	if message == "" {
		message = "No additional message"
	}
	return "🚨 EMERGENCY: " + kind + "\n\nChild: " + childName + "\nMessage: " + message + "\n\nPlease respond ASAP!"
}

// For собирает ссылки для связи с водителем. Предпочтителен WhatsApp, почта, запасной вариант.
func For(driver models.User, text string) (Links, error) {
	l := Links{
		WhatsApp: WhatsApp(driver.Phone, text),
		Email:    Mailto(driver.Email, inquirySubject, text),
	}
	switch {
	case l.WhatsApp != "":
		l.Preferred = l.WhatsApp
	case l.Email != "":
		l.Preferred = l.Email
	default:
		return Links{}, ErrNoContact
	}
	return l, nil
}
