// Package api: HTTP API на gin: JSON-эндпоинты, websocket-потоки, /healthz и /metrics.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Spok95/school-transport/internal/auth"
	"github.com/Spok95/school-transport/internal/db"
	"github.com/Spok95/school-transport/internal/enrollment"
	"github.com/Spok95/school-transport/internal/eta"
	"github.com/Spok95/school-transport/internal/metrics"
	"github.com/Spok95/school-transport/internal/models"
	"github.com/Spok95/school-transport/internal/tracking"
)

type Tracking interface {
	ChangeStatus(ctx context.Context, studentID, target, idemKey string) (*tracking.Transition, error)
	Student(ctx context.Context, id string) (*models.Student, error)
	Students(ctx context.Context) ([]models.Student, error)
	MarkAttendance(ctx context.Context, studentID, day string, status models.AttendanceStatus) (*models.AttendanceRecord, error)
	Attendance(ctx context.Context, f db.AttendanceFilter) ([]models.AttendanceRecord, error)
	Trips(ctx context.Context, f db.TripFilter) ([]models.Trip, error)
	ReportEmergency(ctx context.Context, studentID, kind, message string) (*models.Emergency, error)
	Emergencies(ctx context.Context, limit int) ([]models.Emergency, error)
}

type Enrollment interface {
	SubmitRequest(ctx context.Context, in enrollment.RequestInput) (*models.RideRequest, error)
	Pending(ctx context.Context) ([]models.RideRequest, error)
	Requests(ctx context.Context) ([]models.RideRequest, error)
	Approve(ctx context.Context, requestID, message, idemKey string) (*enrollment.Approval, error)
	Reject(ctx context.Context, requestID, message string) (*models.RideRequest, error)
	Complete(ctx context.Context, requestID string) (*models.RideRequest, error)
	Subscriptions(ctx context.Context) ([]models.Subscription, error)
	Subscription(ctx context.Context, id string) (*models.Subscription, error)
	Payments(ctx context.Context, subscriptionID string) ([]models.Payment, error)
	Pay(ctx context.Context, subscriptionID, method, idemKey string) (*enrollment.PaymentResult, error)
	Cancel(ctx context.Context, subscriptionID, reason string) (*models.Subscription, error)
	StartCheckout(ctx context.Context, subscriptionID, successURL, cancelURL string) (string, error)
	ProposeAgreement(ctx context.Context, requestID string, in enrollment.AgreementInput) (*models.Agreement, error)
	SignAgreement(ctx context.Context, agreementID string) (*enrollment.Approval, error)
	DeclineAgreement(ctx context.Context, agreementID string) (*models.Agreement, error)
	Agreements(ctx context.Context) ([]models.Agreement, error)
	Agreement(ctx context.Context, id string) (*models.Agreement, error)
}

type Notifications interface {
	Send(ctx context.Context, n models.Notification) *models.Notification
	List(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	ListUnread(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, recipientID, id string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

type Accounts interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*auth.Session, error)
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	Me(ctx context.Context) (*models.User, error)
	User(ctx context.Context, id string) (*models.User, error)
	AssignBus(ctx context.Context, busID string, available bool) (*auth.Session, error)
	AvailableDrivers(ctx context.Context, search string) ([]models.User, error)
	UpdateProfile(ctx context.Context, in auth.ProfileInput) (*models.User, error)
	Rate(ctx context.Context, driverID string, in auth.RatingInput) (*models.Rating, error)
	Ratings(ctx context.Context, driverID string, limit int) ([]models.Rating, error)
	LinkTelegram(ctx context.Context, chatID int64) error
}

type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

type Locations interface {
	Update(ctx context.Context, busID, driverID string, lat, lng, accuracy float64) (*models.LiveLocation, error)
	Get(ctx context.Context, busID string) (*models.LiveLocation, error)
	Stop(ctx context.Context, busID string) error
	Subscribe(ctx context.Context, busID string) <-chan models.LiveLocation
}

// NotificationStream: websocket-хаб уведомлений.
type NotificationStream interface {
	Serve(ctx context.Context, conn *websocket.Conn, userID string)
}

type Deps struct {
	DB            *sql.DB
	Log           *zap.Logger
	Location      *time.Location
	Tokens        TokenParser
	Accounts      Accounts
	Tracking      Tracking
	Enrollment    Enrollment
	Notifications Notifications
	Locations     Locations
	Hub           NotificationStream
	Estimator     *eta.Estimator
}

type handler struct {
	Deps
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Estimator == nil {
		d.Estimator = eta.NewEstimator(d.Location)
	}
	registerValidators()

	h := &handler{
		Deps: d,
		log:  d.Log.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(requestID(), accessLog(h.log), recovery(h.log))

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/api/auth/signup", h.signUp)
	r.POST("/api/auth/signin", h.signIn)

	api := r.Group("/api", authenticate(d.Tokens), uuidParams())
	{
		api.GET("/me", h.me)
		api.PUT("/me/telegram", h.linkTelegram)
		api.GET("/drivers", h.availableDrivers)
		api.GET("/drivers/:id/contact", h.contactDriver)
		api.GET("/drivers/:id/ratings", h.driverRatings)
		api.POST("/drivers/:id/ratings", requireRole(models.Parent), h.rateDriver)
		api.PUT("/driver/bus", requireRole(models.Driver), h.assignBus)
		api.PUT("/driver/profile", requireRole(models.Driver), h.updateProfile)

		api.GET("/students", h.students)
		api.GET("/students/:id", h.student)
		api.PUT("/students/:id/status", requireRole(models.Driver), h.changeStatus)
		api.PUT("/students/:id/attendance", requireRole(models.Driver), h.markAttendance)
		api.POST("/students/:id/emergency", requireRole(models.Parent), h.reportEmergency)
		api.GET("/attendance", h.attendance)
		api.GET("/trips", h.trips)
		api.GET("/emergencies", requireRole(models.Driver), h.emergencies)
		api.GET("/reports/transport.xlsx", h.exportReport)

		api.POST("/requests", requireRole(models.Parent), h.submitRequest)
		api.GET("/requests", h.requests)
		api.GET("/requests/pending", requireRole(models.Driver), h.pendingRequests)
		api.POST("/requests/:id/approve", requireRole(models.Driver), h.approveRequest)
		api.POST("/requests/:id/reject", requireRole(models.Driver), h.rejectRequest)
		api.POST("/requests/:id/complete", requireRole(models.Driver), h.completeRequest)
		api.POST("/requests/:id/agreement", requireRole(models.Driver), h.proposeAgreement)

		api.GET("/agreements", h.agreements)
		api.GET("/agreements/:id", h.agreement)
		api.POST("/agreements/:id/sign", requireRole(models.Parent), h.signAgreement)
		api.POST("/agreements/:id/decline", requireRole(models.Parent), h.declineAgreement)

		api.GET("/subscriptions", h.subscriptions)
		api.GET("/subscriptions/:id", h.subscription)
		api.GET("/subscriptions/:id/payments", h.payments)
		api.POST("/subscriptions/:id/pay", requireRole(models.Parent), h.pay)
		api.POST("/subscriptions/:id/cancel", h.cancelSubscription)
		api.POST("/subscriptions/:id/checkout", requireRole(models.Parent), h.checkout)

		api.GET("/notifications", h.notifications)
		api.GET("/notifications/unread-count", h.unreadCount)
		api.POST("/notifications/read-all", h.markAllRead)
		api.POST("/notifications/:id/read", h.markRead)
		api.POST("/messages", h.sendMessage)

		api.GET("/buses/:busID/location", h.busLocation)
		api.PUT("/buses/:busID/location", requireRole(models.Driver), h.updateLocation)
		api.DELETE("/buses/:busID/location", requireRole(models.Driver), h.stopTracking)
		api.GET("/buses/:busID/eta", h.busETA)
		api.POST("/buses/:busID/eta", h.busRouteETA)
	}

	ws := r.Group("/ws", authenticate(d.Tokens))
	{
		ws.GET("/buses/:busID", h.streamBus)
		ws.GET("/driver", requireRole(models.Driver), h.driverFeed)
		ws.GET("/notifications", h.streamNotifications)
	}
	return r
}

// healthz: проверка БД с коротким таймаутом.
func (h *handler) healthz(c *gin.Context) {
	if h.DB == nil {
		c.String(http.StatusOK, "ok")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 800*time.Millisecond)
	defer cancel()
	t0 := time.Now()
	if err := h.DB.PingContext(ctx); err != nil {
		c.String(http.StatusServiceUnavailable, "db not ok: "+err.Error())
		return
	}
	metrics.ObserveDBPing(time.Since(t0))
	c.String(http.StatusOK, "ok")
}

type Server struct {
	srv  *http.Server
	done chan struct{}
}

// Start поднимает сервер в фоне; при отмене ctx, Shutdown с таймаутом.
func Start(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s := &Server{srv: srv, done: make(chan struct{})}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	log.Info("http server started", zap.String("addr", addr))
	return s
}

// Wait блокируется до завершения Shutdown.
func (s *Server) Wait() { <-s.done }
