// Package metrics exposes Prometheus instruments for envelope, group and
// directory operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "muna"

// Operation names used as the "op" label.
const (
	OpEncrypt      = "encrypt"
	OpDecrypt      = "decrypt"
	OpWrap         = "wrap"
	OpUnwrap       = "unwrap"
	OpGroupEncrypt = "group_encrypt"
	OpGroupDecrypt = "group_decrypt"
	OpRotate       = "rotate"
)

// Metrics owns a private registry so tests and embedded servers never collide.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rotations  *prometheus.CounterVec
	members    *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crypto_operations_total",
			Help:      "Envelope and key operations by outcome.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crypto_operation_seconds",
			Help:      "Latency of envelope and key operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_rotations_total",
			Help:      "Conversation key rotations by outcome.",
		}, []string{"result"}),
		members: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_rotation_members_total",
			Help:      "Members processed by rotations, by state.",
		}, []string{"state"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Directory server requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.latency,
		m.rotations,
		m.members,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry instruments are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Observe records one operation that started at start and ended with err.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, Result(err)).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveRotation records a finished rotation and its member counts.
func (m *Metrics) ObserveRotation(err error, wrapped, degraded, pending int) {
	if m == nil {
		return
	}
	result := Result(err)
	if err == nil && pending > 0 {
		result = "partial"
	}
	m.rotations.WithLabelValues(result).Inc()
	m.members.WithLabelValues("wrapped").Add(float64(wrapped))
	m.members.WithLabelValues("degraded").Add(float64(degraded))
	m.members.WithLabelValues("pending").Add(float64(pending))
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Result maps an error onto a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, kerrors.ErrTamperOrCorruption):
		return "tampered"
	case errors.Is(err, kerrors.ErrUnwrapFailed):
		return "unwrap_failed"
	case errors.Is(err, kerrors.ErrKeyVersionMissing):
		return "version_missing"
	case errors.Is(err, kerrors.ErrNoLocalIdentity):
		return "no_identity"
	case errors.Is(err, kerrors.ErrRecipientKeyUnavailable):
		return "recipient_unavailable"
	case errors.Is(err, kerrors.ErrDirectoryOrStoreFailure):
		return "store_failure"
	case errors.Is(err, kerrors.ErrMembershipChanged):
		return "membership_changed"
	default:
		return "error"
	}
}
