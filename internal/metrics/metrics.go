package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracking server.
type Metrics struct {
	// Touch metrics
	Touches         *prometheus.CounterVec
	SessionsCreated prometheus.Counter
	Touchpoints     prometheus.Counter
	Identifies      prometheus.Counter
	Events          *prometheus.CounterVec

	// Conversion metrics
	Conversions *prometheus.CounterVec
	Revenue     *prometheus.CounterVec
	MatchRate   *prometheus.GaugeVec

	// Forwarding metrics
	ForwardAttempts *prometheus.CounterVec
	ForwardLatency  *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// System metrics
	DBConnections *prometheus.GaugeVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Running totals backing the match rate gauge.
	mu          sync.Mutex
	convTotal   map[string]float64
	convMatched map[string]float64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		convTotal:   make(map[string]float64),
		convMatched: make(map[string]float64),

		Touches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "touches_total",
				Help:      "Total tracking beacons ingested",
			},
			[]string{"consent"},
		),
		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total new visitor sessions",
			},
		),
		Touchpoints: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "touchpoints_total",
				Help:      "Total journaled marketing touchpoints",
			},
		),
		Identifies: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identifies_total",
				Help:      "Total identity attachments",
			},
		),
		Events: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total analytics events logged",
			},
			[]string{"event_name"},
		),

		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total conversions ingested by kind and match type",
			},
			[]string{"kind", "match_type"},
		),
		Revenue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_total",
				Help:      "Total order revenue ingested",
			},
			[]string{"currency"},
		),
		MatchRate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "match_rate",
				Help:      "Share of conversions resolved to a session",
			},
			[]string{"kind"},
		),

		ForwardAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forward_attempts_total",
				Help:      "Server-side forwarding attempts by destination and outcome",
			},
			[]string{"destination", "outcome"},
		),
		ForwardLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "forward_latency_seconds",
				Help:      "Forwarding request latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"destination"},
		),

		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by path and status",
			},
			[]string{"path", "status"},
		),
		HTTPLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_latency_seconds",
				Help:      "HTTP request latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"path"},
		),

		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),

		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTouch records one ingested beacon.
func (m *Metrics) RecordTouch(consent string, sessionCreated bool) {
	m.Touches.WithLabelValues(consent).Inc()
	if sessionCreated {
		m.SessionsCreated.Inc()
	}
}

// RecordConversion records an ingested conversion and refreshes the
// match rate gauge for its kind.
func (m *Metrics) RecordConversion(kind, matchType, currency string, revenue float64) {
	m.Conversions.WithLabelValues(kind, matchType).Inc()
	if revenue > 0 {
		m.Revenue.WithLabelValues(currency).Add(revenue)
	}

	m.mu.Lock()
	m.convTotal[kind]++
	if matchType != "none" {
		m.convMatched[kind]++
	}
	rate := m.convMatched[kind] / m.convTotal[kind] * 100
	m.mu.Unlock()
	m.MatchRate.WithLabelValues(kind).Set(rate)
}

// RecordForward records one forwarding attempt.
func (m *Metrics) RecordForward(destination string, success bool, latency time.Duration) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	m.ForwardAttempts.WithLabelValues(destination, outcome).Inc()
	m.ForwardLatency.WithLabelValues(destination).Observe(latency.Seconds())
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(path, status string, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(path, status).Inc()
	m.HTTPLatency.WithLabelValues(path).Observe(latency.Seconds())
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
