package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	dosesMarked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doses_marked_total",
			Help: "Total number of dose marks recorded",
		},
		[]string{"status"},
	)

	dosesUnmarked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doses_unmarked_total",
			Help: "Total number of dose marks reverted",
		},
	)

	medicationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medications_created_total",
			Help: "Total number of medications registered",
		},
	)

	stockRefills = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_refills_total",
			Help: "Total number of stock refills recorded",
		},
	)

	appointmentsBooked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointments_booked_total",
			Help: "Total number of appointments booked",
		},
		[]string{"status"},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler wrapped for echo.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request counts, durations and in-flight gauge. The echo
// route template is used as the path label to keep cardinality bounded.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				}
			}

			httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// --- Business metric helpers ---

// RecordDoseMarked records a dose mark by resulting status.
func RecordDoseMarked(status string) {
	dosesMarked.WithLabelValues(status).Inc()
}

// RecordDoseUnmarked records an undone dose mark.
func RecordDoseUnmarked() {
	dosesUnmarked.Inc()
}

// RecordMedicationCreated records a medication registration.
func RecordMedicationCreated() {
	medicationsCreated.Inc()
}

// RecordStockRefill records a stock refill.
func RecordStockRefill() {
	stockRefills.Inc()
}

// RecordAppointmentBooked records an appointment entering the given status.
func RecordAppointmentBooked(status string) {
	appointmentsBooked.WithLabelValues(status).Inc()
}

// RecordDBConnections records active database connections.
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}
