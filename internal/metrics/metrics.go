package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const ns = "schoolbus"

var (
	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "status_transitions_total", Help: "Student status transitions",
	}, []string{"status", "legal"})
	TripsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "trips_opened_total", Help: "Trips started on pickup",
	})
	TripsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "trips_closed_total", Help: "Trips completed or cancelled",
	}, []string{"status"})
	AttendanceMarks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "attendance_marks_total", Help: "Attendance pickup/dropoff marks",
	}, []string{"kind"})
	NotificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "notifications_created_total", Help: "Notifications persisted",
	}, []string{"type"})
	NotificationsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "notifications_delivered_total", Help: "Notification deliveries by channel",
	}, []string{"channel"})
	NotificationsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "notifications_failed_total", Help: "Failed notification deliveries by channel",
	}, []string{"channel"})
	RequestDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "request_decisions_total", Help: "Ride request approvals/rejections",
	}, []string{"decision"})
	Payments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "payments_total", Help: "Recorded subscription payments",
	})
	LocationUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "location_updates_total", Help: "Live bus location updates",
	})
	HTTPRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "http_request_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "handler_errors_total", Help: "Handler errors",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		StatusTransitions, TripsOpened, TripsClosed, AttendanceMarks,
		NotificationsCreated, NotificationsDelivered, NotificationsFailed,
		RequestDecisions, Payments, LocationUpdates, HTTPRequests, HandlerErrors, DBPing,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

func ObserveTransition(status string, legal bool) {
	StatusTransitions.WithLabelValues(status, strconv.FormatBool(legal)).Inc()
}

func ObserveHTTP(route string, code int, d time.Duration) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
}
