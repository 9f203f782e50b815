package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveVerdict(t *testing.T) {
	before := counterValue(t, verdictsTotal.WithLabelValues("user", "reject", "ONLY_SELECT_ALLOWED"))
	ObserveVerdict("user", "reject", "ONLY_SELECT_ALLOWED")
	after := counterValue(t, verdictsTotal.WithLabelValues("user", "reject", "ONLY_SELECT_ALLOWED"))
	assert.Equal(t, before+1, after)
}

func TestObserveExecution(t *testing.T) {
	before := counterValue(t, executionsTotal.WithLabelValues("delete", "mutation"))
	ObserveExecution("delete", "mutation", 20*time.Millisecond)
	assert.Equal(t, before+1, counterValue(t, executionsTotal.WithLabelValues("delete", "mutation")))
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(MetricsMiddleware)
	e.GET("/api/v1/confirmations/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/confirmations/:id", "204"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/confirmations/abc", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, before+1, counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/confirmations/:id", "204")))
}
