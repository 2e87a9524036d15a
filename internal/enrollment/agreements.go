package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

var (
	ErrAgreementNotPending = errors.New("agreement is not awaiting signature")
	ErrAgreementOpen       = errors.New("request already has an open agreement")
)

const (
	defaultContractMonths = 12
	defaultPaymentDay     = 1
)

type AgreementInput struct {
	MonthlyAmount  int64  `json:"monthlyAmount" binding:"required,gt=0"`
	Currency       string `json:"currency" binding:"omitempty,len=3"`
	PickupTime     string `json:"pickupTime" binding:"omitempty,datetime=15:04"`
	PickupAddress  string `json:"pickupAddress" binding:"max=300"`
	DropoffAddress string `json:"dropoffAddress" binding:"max=300"`
	ContractMonths int    `json:"contractMonths" binding:"omitempty,gte=1,lte=36"`
	PaymentDay     int    `json:"paymentDay" binding:"omitempty,gte=1,lte=28"`
	Terms          string `json:"terms" binding:"max=10000"`
	StartDate      string `json:"startDate" binding:"omitempty,datetime=2006-01-02"`
	AutoRenewal    *bool  `json:"autoRenewal"`
	Message        string `json:"message" binding:"max=1000"`
}

// DefaultTerms: шаблон условий, если водитель не прислал свои.
func DefaultTerms(pickupTime string, paymentDay, months int) string {
	if pickupTime == "" {
		pickupTime = "to be agreed"
	}
	return fmt.Sprintf(`Monthly School Transport Service Agreement

Service Details:
- Daily pickup and drop-off service for school transportation
- Service provided Monday through Friday during school term
- Pick up time: %s
- Monthly payment due on day %d of each month

Driver Responsibilities:
- Provide safe and reliable transportation
- Maintain vehicle in good condition
- Follow agreed pickup/drop-off schedule
- Notify parent of any delays or issues
- Ensure child safety during transport

Parent Responsibilities:
- Ensure monthly payment on time
- Have child ready at designated pickup time
- Provide emergency contact information
- Notify driver of any absence in advance

Cancellation Policy:
- Either party may cancel with 30 days written notice
- Pro-rated refund for unused portion of month
- No refund for services already provided

This agreement is valid for %d months from the start date and automatically renews unless cancelled.`,
		pickupTime, paymentDay, months)
}

// firstPaymentDue: ближайший день оплаты не раньше чем через месяц после старта.
func firstPaymentDue(start time.Time, day int) time.Time {
	due := time.Date(start.Year(), start.Month()+1, day, 0, 0, 0, 0, time.UTC)
	if due.Before(start.AddDate(0, 1, 0)) {
		due = due.AddDate(0, 1, 0)
	}
	return due
}

// ProposeAgreement: водитель вместо прямого одобрения предлагает договор.
// Заявка переходит в agreement-created; ребёнок и подписка появятся после подписи родителя.
func (s *Service) ProposeAgreement(ctx context.Context, requestID string, in AgreementInput) (*models.Agreement, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.propose_agreement")
	sess, err := session(ctx, models.Driver)
	if err != nil {
		return nil, err
	}
	if in.MonthlyAmount <= 0 {
		return nil, fmt.Errorf("%w: monthly amount must be positive", ErrInvalid)
	}

	start := s.now().UTC().Truncate(24 * time.Hour)
	if in.StartDate != "" {
		if start, err = time.Parse("2006-01-02", in.StartDate); err != nil {
			return nil, fmt.Errorf("%w: start date", ErrInvalid)
		}
	}
	months := in.ContractMonths
	if months == 0 {
		months = defaultContractMonths
	}
	day := in.PaymentDay
	if day == 0 {
		day = defaultPaymentDay
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = s.currency
	}
	renew := true
	if in.AutoRenewal != nil {
		renew = *in.AutoRenewal
	}

	var out *models.Agreement
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		rr, err := db.LockRideRequest(ctx, tx, requestID)
		if err != nil {
			return mapNotFound(err)
		}
		if rr.Status != models.RequestPending {
			return ErrNotPending
		}
		if rr.DriverID != "" && rr.DriverID != sess.UserID {
			return ErrForbidden
		}

		pickupTime := firstNonEmpty(in.PickupTime, rr.RequestedTime)
		text := strings.TrimSpace(in.Terms)
		if text == "" {
			text = DefaultTerms(pickupTime, day, months)
		}
		a, err := db.CreateAgreement(ctx, tx, models.Agreement{
			RequestID:      rr.ID,
			ParentID:       rr.ParentID,
			DriverID:       sess.UserID,
			ChildName:      rr.ChildName,
			MonthlyAmount:  in.MonthlyAmount,
			Currency:       currency,
			PickupTime:     pickupTime,
			PickupAddress:  firstNonEmpty(strings.TrimSpace(in.PickupAddress), rr.PickupAddress),
			DropoffAddress: firstNonEmpty(strings.TrimSpace(in.DropoffAddress), rr.DropoffAddress),
			ContractMonths: months,
			PaymentDay:     day,
			Terms:          text,
			StartDate:      start,
			EndDate:        start.AddDate(0, months, 0),
			AutoRenewal:    renew,
		})
		if errors.Is(err, db.ErrAgreementOpen) {
			return ErrAgreementOpen
		}
		if err != nil {
			return err
		}
		ok, err := db.RespondRideRequest(ctx, tx, rr.ID, db.RequestResponse{
			Status:      models.RequestAgreementCreated,
			Message:     strings.TrimSpace(in.Message),
			RespondedBy: sess.UserID,
			RespondedAt: s.now(),
			AgreementID: a.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		s.notifyInTx(ctx, tx, "agreement_proposed", notify.AgreementProposed(*a))
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RequestDecisions.WithLabelValues("agreement").Inc()
	logging.FromContext(ctx, s.log).Info("agreement proposed",
		zap.String("agreement", out.ID), zap.String("request", out.RequestID))
	return out, nil
}

// SignAgreement: подпись родителя. В одной транзакции ребёнок, подписка на условиях договора,
// договор в active и заявка в approved.
func (s *Service) SignAgreement(ctx context.Context, agreementID string) (*Approval, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.sign_agreement")
	sess, err := session(ctx, models.Parent)
	if err != nil {
		return nil, err
	}

	var out *Approval
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		a, err := s.lockOwnAgreement(ctx, tx, agreementID, sess.UserID)
		if err != nil {
			return err
		}
		rr, err := db.LockRideRequest(ctx, tx, a.RequestID)
		if err != nil {
			return mapNotFound(err)
		}
		rr.PickupAddress, rr.DropoffAddress = a.PickupAddress, a.DropoffAddress

		st, sub, err := s.enroll(ctx, tx, *rr, a.DriverID, terms{
			fee:      a.MonthlyAmount,
			currency: a.Currency,
			start:    a.StartDate,
			firstDue: firstPaymentDue(a.StartDate, a.PaymentDay),
		})
		if err != nil {
			return err
		}
		at := s.now()
		if ok, err := db.SignAgreement(ctx, tx, a.ID, at, st.ID, sub.ID); err != nil {
			return err
		} else if !ok {
			return ErrAgreementNotPending
		}
		if ok, err := db.SettleAgreementRequest(ctx, tx, rr.ID, models.RequestApproved, st.ID, sub.ID, at); err != nil {
			return err
		} else if !ok {
			return ErrNotPending
		}

		signed, err := db.GetAgreement(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		updated, err := db.GetRideRequest(ctx, tx, rr.ID)
		if err != nil {
			return err
		}
		s.notifyInTx(ctx, tx, "agreement_signed", notify.AgreementSigned(*signed))
		out = &Approval{Request: *updated, Student: *st, Subscription: *sub}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RequestDecisions.WithLabelValues("approved").Inc()
	logging.FromContext(ctx, s.log).Info("agreement signed",
		zap.String("agreement", agreementID),
		zap.String("student", out.Student.ID),
		zap.String("subscription", out.Subscription.ID))
	return out, nil
}

// DeclineAgreement: отказ родителя. Договор в declined, заявка в rejected.
func (s *Service) DeclineAgreement(ctx context.Context, agreementID string) (*models.Agreement, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.decline_agreement")
	sess, err := session(ctx, models.Parent)
	if err != nil {
		return nil, err
	}

	var out *models.Agreement
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		a, err := s.lockOwnAgreement(ctx, tx, agreementID, sess.UserID)
		if err != nil {
			return err
		}
		at := s.now()
		if ok, err := db.DeclineAgreement(ctx, tx, a.ID, at); err != nil {
			return err
		} else if !ok {
			return ErrAgreementNotPending
		}
		if ok, err := db.SettleAgreementRequest(ctx, tx, a.RequestID, models.RequestRejected, "", "", at); err != nil {
			return err
		} else if !ok {
			return ErrNotPending
		}
		if out, err = db.GetAgreement(ctx, tx, a.ID); err != nil {
			return err
		}
		s.notifyInTx(ctx, tx, "agreement_declined", notify.AgreementDeclined(*out))
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RequestDecisions.WithLabelValues("rejected").Inc()
	return out, nil
}

func (s *Service) lockOwnAgreement(ctx context.Context, tx *sql.Tx, id, parentID string) (*models.Agreement, error) {
	a, err := db.LockAgreement(ctx, tx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if a.ParentID != parentID {
		return nil, ErrForbidden
	}
	if a.Status != models.AgreementPendingSignature {
		return nil, ErrAgreementNotPending
	}
	return a, nil
}

// Agreements: договоры текущего пользователя (родителя или водителя).
func (s *Service) Agreements(ctx context.Context) ([]models.Agreement, error) {
	sess, err := session(ctx, "")
	if err != nil {
		return nil, err
	}
	return db.ListAgreementsFor(ctx, s.db, sess.UserID)
}

func (s *Service) Agreement(ctx context.Context, id string) (*models.Agreement, error) {
	sess, err := session(ctx, "")
	if err != nil {
		return nil, err
	}
	a, err := db.GetAgreement(ctx, s.db, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if a.ParentID != sess.UserID && a.DriverID != sess.UserID {
		return nil, ErrForbidden
	}
	return a, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
