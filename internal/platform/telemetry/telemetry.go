// Package telemetry exposes the portal's Prometheus metrics: HTTP request
// latency, auth operation outcomes, guard decisions, session events and
// backend API calls.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hms_portal"

// Provider owns a registry and the collectors registered on it. Each
// Provider is independent, so tests can create as many as they like.
type Provider struct {
	registry *prometheus.Registry

	httpDuration    *prometheus.HistogramVec
	httpActive      prometheus.Gauge
	authOps         *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	backendCache    *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// NewProvider registers all portal collectors plus the Go runtime and
// process collectors.
func NewProvider() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Provider{
		registry: reg,
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests served by the portal.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
		authOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Auth gateway operations by operation and result.",
		}, []string{"operation", "result"}),
		guardDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Route guard outcomes.",
		}, []string{"outcome"}),
		sessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session change events applied by the bootstrapper.",
		}, []string{"source", "kind"}),
		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of calls to the hospital backend API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		backendCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_cache_lookups_total",
			Help:      "Backend response cache lookups by result.",
		}, []string{"result"}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Browser tabs subscribed to session events.",
		}),
	}
}

// Registry is exposed for tests and for registering extra collectors.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// AuthOperation counts one gateway call. result is "ok" or an error kind.
func (p *Provider) AuthOperation(op, result string) {
	p.authOps.WithLabelValues(op, result).Inc()
}

func (p *Provider) GuardDecision(outcome string) {
	p.guardDecisions.WithLabelValues(outcome).Inc()
}

func (p *Provider) SessionEvent(source, kind string) {
	p.sessionEvents.WithLabelValues(source, kind).Inc()
}

func (p *Provider) BackendRequest(method string, status int, d time.Duration) {
	p.backendDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}

// BackendCache records a cache lookup; hit is false for a miss.
func (p *Provider) BackendCache(hit bool) {
	if hit {
		p.backendCache.WithLabelValues("hit").Inc()
		return
	}
	p.backendCache.WithLabelValues("miss").Inc()
}

func (p *Provider) WebsocketClients(n int) {
	p.wsClients.Set(float64(n))
}

// MetricsMiddleware records latency per route pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.httpActive.Inc()
			defer p.httpActive.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the status before it is read.
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			p.httpDuration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus text format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}
