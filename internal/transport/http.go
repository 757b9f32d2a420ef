package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	handlerhttp "github.com/mthsnx/caffe-diem/internal/handler/http"
	"github.com/mthsnx/caffe-diem/internal/menu"
	"github.com/mthsnx/caffe-diem/internal/metrics"
	"github.com/mthsnx/caffe-diem/internal/order"
	"github.com/mthsnx/caffe-diem/internal/payment"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type Deps struct {
	Orders order.Service
	// Payments is nil when payments are disabled; the payment routes are
	// then not mounted.
	Payments payment.Service
	Menu     *menu.Catalog
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Health reports backing store reachability for /health.
	Health func(ctx context.Context) error
	// TracerProvider and Propagator default to the otel globals.
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
}

func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(Tracing(deps.TracerProvider, deps.Propagator))
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(deps.Metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(r.Context()); err != nil {
				log.Error().Err(err).Msg("transport: health check failed")
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("OK"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	handlerhttp.NewOrderHandler(deps.Orders, deps.Metrics).RegisterRoutes(r)
	if deps.Menu != nil {
		handlerhttp.NewMenuHandler(deps.Menu).RegisterRoutes(r)
	}
	if deps.Payments != nil {
		handlerhttp.NewPaymentHandler(deps.Payments, deps.Metrics).RegisterRoutes(r)
	}

	return r
}
