package corpora

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	rejectionCooldown = "cooldown"
	rejectionLive     = "live"
)

type clientMetrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rateLimited *prometheus.CounterVec
}

// WithMetrics registers the client's collectors with reg and records
// every request against them. Registering twice against the same
// registry reuses the existing collectors, so several clients can
// share one registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		if reg != nil {
			c.metrics = newClientMetrics(reg)
		}
	}
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpora",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests sent to the Corpora API, by method, path and status.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corpora",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Round-trip latency of Corpora API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpora",
			Subsystem: "client",
			Name:      "rate_limited_total",
			Help:      "Calls rejected by rate limiting, split by live 429s and local cool-down rejections.",
		}, []string{"source"}),
	}

	m.requests = registerOrReuse(reg, m.requests)
	m.duration = registerOrReuse(reg, m.duration)
	m.rateLimited = registerOrReuse(reg, m.rateLimited)

	return m
}

// registerOrReuse registers c, falling back to the collector already
// held by the registry when another client got there first.
func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}

	return c
}

func (m *clientMetrics) observe(method, path string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
