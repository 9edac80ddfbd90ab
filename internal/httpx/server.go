package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-agent-checkout.git/internal/idempotency"
	"github.com/ariefcatur/go-agent-checkout.git/internal/metrics"
)

// Server wires the handlers, the idempotency layer and metrics onto one
// chi router. Construct the fields, then call Router.
type Server struct {
	Checkouts *CheckoutsHandler
	Orders    *OrdersHandler
	Webhooks  *WebhooksHandler
	Idem      idempotency.Store
	Metrics   *metrics.ServerMetrics
}

func (s *Server) Router() *chi.Mux {
	m := s.Metrics
	if m == nil {
		m = metrics.NewServerMetrics("api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(Metrics(m))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Idempotency wraps only the mutating checkout routes; reads and the
	// webhook intake have their own replay semantics.
	idem := func(next http.Handler) http.Handler { return next }
	if s.Idem != nil {
		idem = Idempotency(s.Idem, m)
	}
	s.Checkouts.Register(r, idem)
	s.Orders.Register(r)
	s.Webhooks.Register(r, m)
	return r
}
