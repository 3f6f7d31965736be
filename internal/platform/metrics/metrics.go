package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scheduler"

// EngineMetrics records availability engine observations. A nil receiver is
// a no-op.
type EngineMetrics struct {
	bookingChecks     *prometheus.CounterVec
	bookingLatency    prometheus.Histogram
	availabilitySlots *prometheus.HistogramVec
	availabilityTime  *prometheus.HistogramVec
	repositoryErrors  *prometheus.CounterVec
	affectedAppts     prometheus.Histogram
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		bookingChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "booking_checks_total",
			Help:      "Booking checks by outcome",
		}, []string{"valid"}),
		bookingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "booking_check_seconds",
			Help:      "Latency of booking checks including alternative search",
			Buckets:   prometheus.DefBuckets,
		}),
		availabilitySlots: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "availability_slots",
			Help:      "Slots returned per availability computation",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"scope"}),
		availabilityTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "availability_seconds",
			Help:      "Latency of availability computations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
		repositoryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "repository_errors_total",
			Help:      "Repository reads that left a result indeterminate",
		}, []string{"op"}),
		affectedAppts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "change_affected_appointments",
			Help:      "Appointments a proposed schedule change would strand",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingChecks, m.bookingLatency, m.availabilitySlots, m.availabilityTime, m.repositoryErrors, m.affectedAppts)
	return m
}

func (m *EngineMetrics) ObserveBookingCheck(valid bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bookingChecks.WithLabelValues(strconv.FormatBool(valid)).Inc()
	m.bookingLatency.Observe(elapsed.Seconds())
}

func (m *EngineMetrics) ObserveAvailability(scope string, slots int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.availabilitySlots.WithLabelValues(scope).Observe(float64(slots))
	m.availabilityTime.WithLabelValues(scope).Observe(elapsed.Seconds())
}

func (m *EngineMetrics) ObserveRepositoryError(op string) {
	if m == nil {
		return
	}
	m.repositoryErrors.WithLabelValues(op).Inc()
}

func (m *EngineMetrics) ObserveChangeValidation(affected int) {
	if m == nil {
		return
	}
	m.affectedAppts.Observe(float64(affected))
}

// HTTPMetrics counts requests by route template, never by raw path.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// Middleware records every request that reaches the router.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.latency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
