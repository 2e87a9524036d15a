package enrollment

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/checkout"
	"github.com/Spok95/school-transport/internal/ctxutil"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/logging"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/notify"
)

const payScope = "pay-subscription"

func isParty(sess ctxutil.Session, sub *models.Subscription) bool {
	return sub.ParentID == sess.UserID || sub.DriverID == sess.UserID
}

func (s *Service) Subscriptions(ctx context.Context) ([]models.Subscription, error) {
	sess, err := session(ctx, "")
	if err != nil {
		return nil, err
	}
	return db.ListSubscriptionsForUser(ctx, s.db, sess.UserID)
}

func (s *Service) Subscription(ctx context.Context, id string) (*models.Subscription, error) {
	sess, err := session(ctx, "")
	if err != nil {
		return nil, err
	}
	sub, err := db.GetSubscription(ctx, s.db, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if !isParty(sess, sub) {
		return nil, ErrForbidden
	}
	return sub, nil
}

func (s *Service) Payments(ctx context.Context, subscriptionID string) ([]models.Payment, error) {
	if _, err := s.Subscription(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return db.ListPaymentsBySubscription(ctx, s.db, subscriptionID)
}

type PaymentResult struct {
	Subscription models.Subscription `json:"subscription"`
	Payment      models.Payment      `json:"payment"`
	Replayed     bool                `json:"replayed,omitempty"`
}

// Pay: учёт оплаты очередного месяца: дата следующего платежа +1 месяц от прежней,
// total_paid += тариф, payments_count += 1 и новая запись Payment (completed).
// Реальной авторизации платежа нет, transaction id генерируется здесь.
func (s *Service) Pay(ctx context.Context, subscriptionID, method, idemKey string) (*PaymentResult, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.pay")
	sess, err := session(ctx, models.Parent)
	if err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "card"
	}

	idem := db.IdemKey{Scope: payScope, ActorID: sess.UserID, Key: idemKey, Target: subscriptionID}
	var out *PaymentResult
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if idemKey != "" {
			first, resultID, err := db.ClaimIdempotencyKey(ctx, tx, idem)
			if err != nil {
				return err
			}
			if !first {
				p, err := db.GetPayment(ctx, tx, resultID)
				if err != nil {
					return mapNotFound(err)
				}
				sub, err := db.GetSubscription(ctx, tx, p.SubscriptionID)
				if err != nil {
					return mapNotFound(err)
				}
				out = &PaymentResult{Subscription: *sub, Payment: *p, Replayed: true}
				return nil
			}
		}

		sub, err := db.LockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return mapNotFound(err)
		}
		if sub.ParentID != sess.UserID {
			return ErrForbidden
		}
		if sub.Status != models.SubscriptionActive {
			return ErrNotActive
		}

		at := s.now()
		due := sub.NextPaymentDate
		next := due.AddDate(0, 1, 0)
		if err := db.RecordSubscriptionPayment(ctx, tx, sub.ID, sub.MonthlyFee, next, at); err != nil {
			return err
		}
		p, err := db.InsertPayment(ctx, tx, models.Payment{
			SubscriptionID: sub.ID,
			StudentID:      sub.StudentID,
			Amount:         sub.MonthlyFee,
			Currency:       sub.Currency,
			Method:         method,
			TransactionID:  "txn_" + uuid.NewString(),
			Status:         models.PaymentCompleted,
			DueDate:        &due,
			PaidAt:         at,
		})
		if err != nil {
			return err
		}
		updated, err := db.GetSubscription(ctx, tx, sub.ID)
		if err != nil {
			return err
		}

		childName := "your student"
		if st, err := db.GetStudent(ctx, tx, sub.StudentID); err == nil {
			childName = st.FullName
		}
		s.notifyInTx(ctx, tx, "payment_received", notify.PaymentReceived(*updated, *p, childName))

		if idemKey != "" {
			if err := db.SetIdempotencyResult(ctx, tx, idem, p.ID); err != nil {
				return err
			}
		}
		out = &PaymentResult{Subscription: *updated, Payment: *p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Replayed {
		metrics.Payments.Inc()
		logging.FromContext(ctx, s.log).Info("payment recorded",
			zap.String("subscription", out.Subscription.ID),
			zap.String("transaction", out.Payment.TransactionID),
			zap.Int64("amount", out.Payment.Amount))
	}
	return out, nil
}

// Cancel: мягкая отмена подписки. Ученик и платежи не трогаются.
func (s *Service) Cancel(ctx context.Context, subscriptionID, reason string) (*models.Subscription, error) {
	ctx = ctxutil.WithOp(ctx, "enrollment.cancel")
	sess, err := session(ctx, "")
	if err != nil {
		return nil, err
	}

	var out *models.Subscription
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		sub, err := db.LockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return mapNotFound(err)
		}
		if !isParty(sess, sub) {
			return ErrForbidden
		}
		ok, err := db.CancelSubscription(ctx, tx, sub.ID, sess.UserID, strings.TrimSpace(reason), s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyCancelled
		}
		out, err = db.GetSubscription(ctx, tx, sub.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).Info("subscription cancelled", zap.String("subscription", out.ID))
	return out, nil
}

// StartCheckout: URL хостинговой страницы оплаты на сумму тарифа.
func (s *Service) StartCheckout(ctx context.Context, subscriptionID, successURL, cancelURL string) (string, error) {
	if s.checkout == nil {
		return "", checkout.ErrDisabled
	}
	sess, err := session(ctx, models.Parent)
	if err != nil {
		return "", err
	}
	sub, err := db.GetSubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return "", mapNotFound(err)
	}
	if sub.ParentID != sess.UserID {
		return "", ErrForbidden
	}
	if sub.Status != models.SubscriptionActive {
		return "", ErrNotActive
	}
	return s.checkout.CreateSession(ctx, checkout.Request{
		Amount:     sub.MonthlyFee,
		Currency:   sub.Currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Reference:  sub.ID,
	})
}
