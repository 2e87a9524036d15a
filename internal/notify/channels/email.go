package channels

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// emailTypes: по почте уходят только важные уведомления, статусы поездки туда не шлём.
var emailTypes = map[models.NotificationType]bool{
	models.NotifyRequestAccepted:      true,
	models.NotifyRequestRejected:      true,
	models.NotifyPaymentReceived:      true,
	models.NotifyEmergency:            true,
	models.NotifySubscriptionExpiring: true,
}

type Email struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

func NewEmail(key, appName, fromEmail string) *Email {
	return &Email{
		key:        key,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

func (e *Email) Name() string { return "email" }

func (e *Email) prepare(n models.Notification, to models.User) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = e.subjPrefix + n.Title
	p.AddTos(sgmail.NewEmail(to.FullName, to.Email))

	m := sgmail.NewV3Mail()
	m.SetFrom(e.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", n.Body),
		sgmail.NewContent("text/html", "<p>"+html.EscapeString(n.Body)+"</p>"),
	)
	return m
}

func (e *Email) Deliver(_ context.Context, n models.Notification, to models.User) error {
	if to.Email == "" || !emailTypes[n.Type] {
		return notify.ErrSkip
	}
	req := sendgrid.GetRequest(e.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(e.prepare(n, to))

	res, err := sendgrid.API(req)
	if err != nil {
		return err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid: http %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
