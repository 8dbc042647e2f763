package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes.
const (
	LoginSuccess     = "success"
	LoginRejected    = "rejected"
	LoginUnavailable = "unavailable"
)

// Token validation results.
const (
	TokenValid            = "valid"
	TokenMalformed        = "malformed"
	TokenSignatureInvalid = "signature_invalid"
	TokenExpired          = "expired"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	loginsTotal      *prometheus.CounterVec
	tokenValidations *prometheus.CounterVec
	gatewayOutcomes  *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and authentication collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_auth_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_auth_token_validations_total",
		Help: "Bearer token validations by result.",
	}, []string{"result"})
	gateway := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_auth_gateway_requests_total",
		Help: "Requests seen by the authentication gateway, by resulting identity.",
	}, []string{"identity"})
	registry.MustRegister(requests, duration, logins, validations, gateway)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		loginsTotal:      logins,
		tokenValidations: validations,
		gatewayOutcomes:  gateway,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveLogin counts a login attempt.
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTokenValidation counts a token validation result.
func (m *Metrics) ObserveTokenValidation(result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(result).Inc()
}

// ObserveGateway counts whether a request ended up authenticated or anonymous.
func (m *Metrics) ObserveGateway(authenticated bool) {
	if m == nil {
		return
	}
	identity := "anonymous"
	if authenticated {
		identity = "authenticated"
	}
	m.gatewayOutcomes.WithLabelValues(identity).Inc()
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
