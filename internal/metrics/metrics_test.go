package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	for _, path := range []string{"/orders/482913", "/orders/100001", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Requests.WithLabelValues("/orders/{code}", "404")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("/health", "200")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.LatencyMS))
}

func TestOutcomeCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OrderSubmitted("created")
	m.OrderSubmitted("created")
	m.OrderSubmitted("collision")
	m.PaymentInitiated("ok")
	m.CallbackReceived("paid")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("collision")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentInitiations.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentCallbacks.WithLabelValues("paid")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderSubmitted("created")
		m.PaymentInitiated("ok")
		m.CallbackReceived("paid")
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OrderSubmitted("created")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `cafe_diem_orders_submitted_total{outcome="created"} 1`))
}
