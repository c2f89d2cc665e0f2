// Package httpapi exposes checkout, order views, payment proofs, the admin
// order actions and the live event stream over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/internal/events"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/order/payment"
	"github.com/nazeru/medstore-orders-go/internal/proofstore"
	"github.com/nazeru/medstore-orders-go/pkg/metrics"
)

const maxJSONBody = 1 << 20

type Options struct {
	Orders   *lifecycle.Service
	Payments *payment.Workflow
	Proofs   proofstore.Store
	Hub      *events.Hub
	Auth     *auth.Validator

	Metrics        *metrics.ServerMetrics
	MetricsHandler http.Handler

	CheckoutRPS    float64
	CheckoutBurst  int
	MaxProofBytes  int64
	RequestTimeout time.Duration
	Heartbeat      time.Duration
}

type Server struct {
	orders    *lifecycle.Service
	payments  *payment.Workflow
	proofs    proofstore.Store
	hub       *events.Hub
	auth      *auth.Validator
	metrics   *metrics.ServerMetrics
	promHTTP  http.Handler
	limiter   *clientLimiter
	maxProof  int64
	timeout   time.Duration
	heartbeat time.Duration
}

func New(o Options) *Server {
	s := &Server{
		orders:    o.Orders,
		payments:  o.Payments,
		proofs:    o.Proofs,
		hub:       o.Hub,
		auth:      o.Auth,
		metrics:   o.Metrics,
		promHTTP:  o.MetricsHandler,
		limiter:   newClientLimiter(o.CheckoutRPS, o.CheckoutBurst),
		maxProof:  o.MaxProofBytes,
		timeout:   o.RequestTimeout,
		heartbeat: o.Heartbeat,
	}
	if s.payments == nil {
		s.payments = payment.New(o.Orders)
	}
	if s.promHTTP == nil {
		s.promHTTP = metrics.Handler()
	}
	if s.maxProof <= 0 {
		s.maxProof = 5 << 20
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 25 * time.Second
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", s.route("health", s.timed(s.health)))
	mux.Handle("GET /metrics", s.promHTTP)

	mux.Handle("POST /api/orders", s.route("checkout", s.limit(s.timed(s.checkout))))
	mux.Handle("GET /api/orders/{id}", s.route("get_order", s.timed(s.getOrder)))
	mux.Handle("POST /api/orders/{id}/payment-proof", s.route("submit_proof", s.timed(s.submitProof)))

	mux.Handle("PATCH /api/admin/orders/{id}/status", s.route("transition", auth.RequireAdmin(s.timed(s.transition))))
	mux.Handle("POST /api/admin/orders/{id}/payment/approve", s.route("approve", auth.RequireAdmin(s.timed(s.approve))))
	mux.Handle("POST /api/admin/orders/{id}/payment/reject", s.route("reject", auth.RequireAdmin(s.timed(s.reject))))

	mux.Handle("GET /api/events", s.route("events", auth.RequireUser(http.HandlerFunc(s.stream))))

	return auth.Authenticate(s.auth)(mux)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.orders.Store().Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "subscribers": s.subscribers()})
}

func (s *Server) subscribers() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.Len()
}

// timed bounds the request context. The event stream is not wrapped.
func (s *Server) timed(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		h(w, r.WithContext(ctx))
	})
}

// route records request count and latency under name.
func (s *Server) route(name string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		s.metrics.Observe(name, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return json.NewDecoder(r.Body).Decode(v)
}
