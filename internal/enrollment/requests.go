package enrollment

import (
	"context"
	"database/sql"
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

const approveScope = "approve-request"

type RequestInput struct {
	ChildName      string             `json:"childName" binding:"required,max=120"`
	ChildAge       int                `json:"childAge" binding:"gte=0,lte=25"`
	School         string             `json:"school" binding:"max=200"`
	PickupAddress  string             `json:"pickupAddress" binding:"required,max=300"`
	DropoffAddress string             `json:"dropoffAddress" binding:"required,max=300"`
	RequestedTime  string             `json:"requestedTime" binding:"omitempty,datetime=15:04"`
	Notes          string             `json:"notes" binding:"max=1000"`
	Type           models.RequestType `json:"requestType" binding:"omitempty,oneof=regular emergency"`
	DriverID       string             `json:"driverId" binding:"omitempty,uuid"`
}

func (in RequestInput) normalize() (RequestInput, error) {
	in.ChildName = strings.TrimSpace(in.ChildName)
	in.PickupAddress = strings.TrimSpace(in.PickupAddress)
	in.DropoffAddress = strings.TrimSpace(in.DropoffAddress)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Type == "" {
		in.Type = models.RequestRegular
	}
	switch {
	case in.ChildName == "":
		return in, fmt.Errorf("%w: child name is required", ErrInvalid)
	case in.PickupAddress == "" || in.DropoffAddress == "":
		return in, fmt.Errorf("%w: pickup and dropoff addresses are required", ErrInvalid)
	case in.Type != models.RequestRegular && in.Type != models.RequestEmergency:
		return in, fmt.Errorf("%w: request type %q", ErrInvalid, in.Type)
	}
	return in, nil
}

// SubmitRequest: родитель создаёт заявку (pending). Адресованная водителю заявка
// сразу даёт ему уведомление, экстренная, ещё и emergency.
func (s *Service) SubmitRequest(ctx context.Context, in RequestInput) (*models.RideRequest, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.submit")
	sess, err := session(ctx, models.Parent)
	if err != nil {
		return nil, err
	}
	in, err = in.normalize()
	if err != nil {
		return nil, err
	}

	var out *models.RideRequest
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if in.DriverID != "" {
			d, err := db.GetUserByID(ctx, tx, in.DriverID)
			if err != nil {
				return fmt.Errorf("%w: driver: %v", ErrInvalid, mapNotFound(err))
			}
			if d.Role != models.Driver {
				return fmt.Errorf("%w: %s is not a driver", ErrInvalid, in.DriverID)
			}
		}
		rr, err := db.CreateRideRequest(ctx, tx, models.RideRequest{
			ChildName:      in.ChildName,
			ChildAge:       in.ChildAge,
			School:         strings.TrimSpace(in.School),
			PickupAddress:  in.PickupAddress,
			DropoffAddress: in.DropoffAddress,
			RequestedTime:  in.RequestedTime,
			Notes:          in.Notes,
			Type:           in.Type,
			ParentID:       sess.UserID,
			DriverID:       in.DriverID,
		})
		if err != nil {
			return err
		}
		if rr.DriverID != "" {
			s.notifyInTx(ctx, tx, "new_request", notify.NewRequest(*rr))
			if rr.Type == models.RequestEmergency {
				s.notifyInTx(ctx, tx, "emergency_request", notify.EmergencyRequest(*rr))
			}
		}
		out = rr
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).Info("ride request submitted",
		zap.String("request", out.ID), zap.String("type", string(out.Type)))
	return out, nil
}

// Pending: заявки для текущего водителя (адресные и общие), экстренные первыми.
func (s *Service) Pending(ctx context.Context) ([]models.RideRequest, error) {
	sess, err := session(ctx, models.Driver)
	if err != nil {
		return nil, err
	}
	return db.ListPendingForDriver(ctx, s.db, sess.UserID)
}

// Requests: заявки родителя или заявки, на которые ответил водитель.
func (s *Service) Requests(ctx context.Context) ([]models.RideRequest, error) {
	sess, err := session(ctx, "")
	if err != nil {
		return nil, err
	}
	if sess.Role == models.Driver {
		return db.ListRequestsRespondedBy(ctx, s.db, sess.UserID)
	}
	return db.ListRequestsByParent(ctx, s.db, sess.UserID)
}

type Approval struct {
	Request      models.RideRequest  `json:"request"`
	Student      models.Student      `json:"student"`
	Subscription models.Subscription `json:"subscription"`
	Replayed     bool                `json:"replayed,omitempty"`
}

// Approve: в одной транзакции: ребёнок (at-home, тариф по умолчанию), активная подписка
// с платежом через 30 дней и заявка в approved. Заявка берётся под блокировку, поэтому
// повторное одобрение получает ErrNotPending. Повтор с тем же idemKey возвращает первый результат.
func (s *Service) Approve(ctx context.Context, requestID, message, idemKey string) (*Approval, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.approve")
	sess, err := session(ctx, models.Driver)
	if err != nil {
		return nil, err
	}

	idem := db.IdemKey{Scope: approveScope, ActorID: sess.UserID, Key: idemKey, Target: requestID}
	var out *Approval
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if idemKey != "" {
			first, resultID, err := db.ClaimIdempotencyKey(ctx, tx, idem)
			if err != nil {
				return err
			}
			if !first {
				out, err = s.loadApproval(ctx, tx, resultID)
				return err
			}
		}

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
		at := s.now()
		st, sub, err := s.enroll(ctx, tx, *rr, sess.UserID, terms{
			fee: s.fee, currency: s.currency, start: at, firstDue: at.Add(BillingPeriod),
		})
		if err != nil {
			return err
		}
		ok, err := db.RespondRideRequest(ctx, tx, rr.ID, db.RequestResponse{
			Status:         models.RequestApproved,
			Message:        strings.TrimSpace(message),
			RespondedBy:    sess.UserID,
			RespondedAt:    at,
			StudentID:      st.ID,
			SubscriptionID: sub.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		updated, err := db.GetRideRequest(ctx, tx, rr.ID)
		if err != nil {
			return err
		}
		s.notifyInTx(ctx, tx, "request_accepted", notify.RequestAccepted(*updated, updated.ResponseMessage))

		if idemKey != "" {
			if err := db.SetIdempotencyResult(ctx, tx, idem, rr.ID); err != nil {
				return err
			}
		}
		out = &Approval{Request: *updated, Student: *st, Subscription: *sub}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Replayed {
		metrics.RequestDecisions.WithLabelValues("approved").Inc()
		logging.FromContext(ctx, s.log).Info("request approved",
			zap.String("request", out.Request.ID),
			zap.String("student", out.Student.ID),
			zap.String("subscription", out.Subscription.ID))
	}
	return out, nil
}

type terms struct {
	fee      int64
	currency string
	start    time.Time
	firstDue time.Time
}

// enroll: ребёнок (at-home) за водителем и активная подписка по заявке.
func (s *Service) enroll(ctx context.Context, tx *sql.Tx, rr models.RideRequest, driverID string, t terms) (*models.Student, *models.Subscription, error) {
	driver, err := db.GetUserByID(ctx, tx, driverID)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}
	st, err := db.CreateStudent(ctx, tx, models.Student{
		FullName:       rr.ChildName,
		Age:            rr.ChildAge,
		School:         rr.School,
		ParentID:       rr.ParentID,
		DriverID:       driverID,
		BusID:          driver.BusID,
		Status:         models.StatusAtHome,
		MonthlyFee:     t.fee,
		PickupAddress:  rr.PickupAddress,
		DropoffAddress: rr.DropoffAddress,
		Notes:          rr.Notes,
	})
	if err != nil {
		return nil, nil, err
	}
	sub, err := db.CreateSubscription(ctx, tx, models.Subscription{
		ParentID:        rr.ParentID,
		DriverID:        driverID,
		StudentID:       st.ID,
		RequestID:       rr.ID,
		MonthlyFee:      t.fee,
		Currency:        t.currency,
		StartDate:       t.start,
		NextPaymentDate: t.firstDue,
	})
	if err != nil {
		return nil, nil, err
	}
	return st, sub, nil
}

func (s *Service) loadApproval(ctx context.Context, tx *sql.Tx, requestID string) (*Approval, error) {
	rr, err := db.GetRideRequest(ctx, tx, requestID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	st, err := db.GetStudent(ctx, tx, rr.StudentID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	sub, err := db.GetSubscription(ctx, tx, rr.SubscriptionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &Approval{Request: *rr, Student: *st, Subscription: *sub, Replayed: true}, nil
}

// Reject: заявка в rejected, ничего больше не создаётся.
func (s *Service) Reject(ctx context.Context, requestID, message string) (*models.RideRequest, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.reject")
	sess, err := session(ctx, models.Driver)
	if err != nil {
		return nil, err
	}

	var out *models.RideRequest
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
		ok, err := db.RespondRideRequest(ctx, tx, rr.ID, db.RequestResponse{
			Status:      models.RequestRejected,
			Message:     strings.TrimSpace(message),
			RespondedBy: sess.UserID,
			RespondedAt: s.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		if out, err = db.GetRideRequest(ctx, tx, rr.ID); err != nil {
			return err
		}
		s.notifyInTx(ctx, tx, "request_rejected", notify.RequestRejected(*out, out.ResponseMessage))
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RequestDecisions.WithLabelValues("rejected").Inc()
	return out, nil
}

// Complete: одобренная заявка в терминальный completed (обслуживание завершено).
func (s *Service) Complete(ctx context.Context, requestID string) (*models.RideRequest, error) {
	sess, err := session(ctx, models.Driver)
	if err != nil {
		return nil, err
	}
	rr, err := db.GetRideRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if rr.RespondedBy != sess.UserID {
		return nil, ErrForbidden
	}
	ok, err := db.CompleteRideRequest(ctx, s.db, requestID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotApproved
	}
	return db.GetRideRequest(ctx, s.db, requestID)
}
