package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Spok95/school-transport/internal/lifecycle"
	"github.com/Spok95/school-transport/internal/models"
)

// Построители текстов уведомлений. Время создания проставляет Service.

func StatusChange(s models.Student, from, to models.StudentStatus) models.Notification {
	return models.Notification{
		RecipientID: s.ParentID,
		Type:        models.NotifyStatusChange,
		Title:       "Status update",
		Body:        lifecycle.ChangeText(s.FullName, from, to),
		Data: map[string]string{
			"studentId": s.ID,
			"from":      string(from),
			"to":        string(to),
		},
	}
}

// WithTrip дописывает к уведомлению о смене статуса итог закрытой поездки.
// Отдельного уведомления о поездке нет: на переход родителю уходит одно.
func WithTrip(n models.Notification, t models.Trip) models.Notification {
	n.Body += ". Trip completed"
	if t.EndedAt != nil {
		n.Body += fmt.Sprintf(" in %d min", int(t.EndedAt.Sub(t.StartedAt).Round(time.Minute)/time.Minute))
	}
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["tripId"] = t.ID
	n.Data = data
	return n
}

// NewRequest: водителю о новой заявке. Для общих заявок (без водителя) не вызывается.
func NewRequest(rr models.RideRequest) models.Notification {
	title := "New ride request"
	if rr.Type == models.RequestEmergency {
		title = "Emergency ride request"
	}
	return models.Notification{
		RecipientID: rr.DriverID,
		Type:        models.NotifyNewRequest,
		Title:       title,
		Body:        fmt.Sprintf("Ride requested for %s: %s → %s", rr.ChildName, rr.PickupAddress, rr.DropoffAddress),
		Data:        map[string]string{"requestId": rr.ID, "requestType": string(rr.Type)},
	}
}

func EmergencyRequest(rr models.RideRequest) models.Notification {
	body := "Emergency ride requested for " + rr.ChildName
	if rr.Notes != "" {
		body += ": " + rr.Notes
	}
	return models.Notification{
		RecipientID: rr.DriverID,
		Type:        models.NotifyEmergency,
		Title:       "Emergency request",
		Body:        body,
		Data:        map[string]string{"requestId": rr.ID},
	}
}

func RequestAccepted(rr models.RideRequest, message string) models.Notification {
	body := fmt.Sprintf("Your ride request for %s has been accepted", rr.ChildName)
	if message != "" {
		body += ": " + message
	}
	return models.Notification{
		RecipientID: rr.ParentID,
		Type:        models.NotifyRequestAccepted,
		Title:       "Request accepted",
		Body:        body,
		Data: map[string]string{
			"requestId":      rr.ID,
			"studentId":      rr.StudentID,
			"subscriptionId": rr.SubscriptionID,
		},
	}
}

func RequestRejected(rr models.RideRequest, message string) models.Notification {
	body := fmt.Sprintf("Your ride request for %s was declined", rr.ChildName)
	if message != "" {
		body += ": " + message
	}
	return models.Notification{
		RecipientID: rr.ParentID,
		Type:        models.NotifyRequestRejected,
		Title:       "Request declined",
		Body:        body,
		Data:        map[string]string{"requestId": rr.ID},
	}
}

// AgreementProposed: родителю о договоре, который ждёт подписи.
func AgreementProposed(a models.Agreement) models.Notification {
	return models.Notification{
		RecipientID: a.ParentID,
		Type:        models.NotifyRequestAccepted,
		Title:       "Service agreement ready",
		Body: fmt.Sprintf("Your driver proposed a %d-month agreement for %s at %s per month. Please review and sign",
			a.ContractMonths, a.ChildName, FormatMoney(a.MonthlyAmount, a.Currency)),
		Data: map[string]string{"agreementId": a.ID, "requestId": a.RequestID},
	}
}

func AgreementSigned(a models.Agreement) models.Notification {
	return models.Notification{
		RecipientID: a.DriverID,
		Type:        models.NotifyRequestAccepted,
		Title:       "Agreement signed",
		Body:        fmt.Sprintf("The service agreement for %s was signed", a.ChildName),
		Data: map[string]string{
			"agreementId":    a.ID,
			"requestId":      a.RequestID,
			"studentId":      a.StudentID,
			"subscriptionId": a.SubscriptionID,
		},
	}
}

func AgreementDeclined(a models.Agreement) models.Notification {
	return models.Notification{
		RecipientID: a.DriverID,
		Type:        models.NotifyRequestRejected,
		Title:       "Agreement declined",
		Body:        fmt.Sprintf("The service agreement for %s was declined", a.ChildName),
		Data:        map[string]string{"agreementId": a.ID, "requestId": a.RequestID},
	}
}

func PaymentReceived(sub models.Subscription, p models.Payment, childName string) models.Notification {
	return models.Notification{
		RecipientID: sub.DriverID,
		Type:        models.NotifyPaymentReceived,
		Title:       "Payment received",
		Body:        fmt.Sprintf("Payment of %s received for %s", FormatMoney(p.Amount, p.Currency), childName),
		Data: map[string]string{
			"subscriptionId": sub.ID,
			"paymentId":      p.ID,
			"transactionId":  p.TransactionID,
		},
	}
}

func Emergency(e models.Emergency, childName string) models.Notification {
	body := fmt.Sprintf("Emergency (%s) reported for %s", e.Type, childName)
	if e.Message != "" {
		body += ": " + e.Message
	}
	return models.Notification{
		RecipientID: e.DriverID,
		Type:        models.NotifyEmergency,
		Title:       "Emergency alert",
		Body:        body,
		Data:        map[string]string{"emergencyId": e.ID, "studentId": e.StudentID},
	}
}

func SubscriptionExpiring(sub models.Subscription, loc *time.Location) models.Notification {
	if loc == nil {
		loc = time.UTC
	}
	return models.Notification{
		RecipientID: sub.ParentID,
		Type:        models.NotifySubscriptionExpiring,
		Title:       "Payment due soon",
		Body: fmt.Sprintf("Next payment of %s is due on %s",
			FormatMoney(sub.MonthlyFee, sub.Currency), sub.NextPaymentDate.In(loc).Format("02.01.2006")),
		Data: map[string]string{
			"subscriptionId": sub.ID,
			"dueDate":        sub.NextPaymentDate.UTC().Format(time.RFC3339),
		},
	}
}

func Message(from models.User, recipientID, text string) models.Notification {
	return models.Notification{
		RecipientID: recipientID,
		Type:        models.NotifyMessage,
		Title:       "Message from " + from.FullName,
		Body:        text,
		Data:        map[string]string{"fromId": from.ID},
	}
}

// FormatMoney: сумма в минимальных единицах → "25.00 USD".
func FormatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	cents := minor % 100
	c := strconv.FormatInt(cents, 10)
	if cents < 10 {
		c = "0" + c
	}
	return sign + strconv.FormatInt(minor/100, 10) + "." + c + " " + currency
}
