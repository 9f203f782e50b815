package observability

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_verdicts_total",
			Help: "Total number of policy verdicts by role, decision and reason.",
		},
		[]string{"role", "decision", "reason"},
	)
	confirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_confirmations_total",
			Help: "Total number of confirmation requests by resulting status.",
		},
		[]string{"status"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_executions_total",
			Help: "Total number of statements sent to the store by kind and result.",
		},
		[]string{"kind", "result"},
	)
	executionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlgate_execution_duration_seconds",
			Help:    "Store execution latency by statement kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		verdictsTotal,
		confirmationsTotal,
		executionsTotal,
		executionDurationSeconds,
		httpRequestsTotal,
	)
}

func ObserveVerdict(role, decision, reason string) {
	verdictsTotal.WithLabelValues(role, decision, reason).Inc()
}

func ObserveConfirmation(status string) {
	confirmationsTotal.WithLabelValues(status).Inc()
}

func ObserveExecution(kind, result string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(kind, result).Inc()
	executionDurationSeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// MetricsMiddleware counts requests by route template, not raw path, to
// keep label cardinality bounded.
func MetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
		return err
	}
}
