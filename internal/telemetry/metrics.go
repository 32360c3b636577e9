package telemetry

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

const namespace = "gatehouse"

// AuthMetrics counts authentication outcomes. It implements session.Recorder.
type AuthMetrics struct {
	registry    *prometheus.Registry
	resolutions *prometheus.CounterVec
	signins     *prometheus.CounterVec
	responses   *prometheus.CounterVec
}

var _ session.Recorder = (*AuthMetrics)(nil)

// NewAuthMetrics registers the auth counters, plus the Go and process
// collectors, on a fresh registry.
func NewAuthMetrics() (*AuthMetrics, error) {
	m := &AuthMetrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "resolutions_total",
				Help:      "Session resolution attempts by credential mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		signins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "signins_total",
				Help:      "Sign-in attempts by result.",
			},
			[]string{"result"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "responses_total",
				Help:      "Responses by route and status code.",
			},
			[]string{"route", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.resolutions,
		m.signins,
		m.responses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
		}
	}
	return m, nil
}

// RecordResolution implements session.Recorder.
func (m *AuthMetrics) RecordResolution(mode credential.Mode, outcome session.Outcome) {
	m.resolutions.WithLabelValues(mode.String(), string(outcome)).Inc()
}

// Sign-in results.
const (
	SigninSucceeded = "succeeded"
	SigninRejected  = "rejected"
	SigninThrottled = "throttled"
)

// RecordSignin counts a sign-in attempt.
func (m *AuthMetrics) RecordSignin(result string) {
	m.signins.WithLabelValues(result).Inc()
}

// RecordResponse counts a response written for route.
func (m *AuthMetrics) RecordResponse(route string, status int) {
	m.responses.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Registry exposes the registry, mainly for tests.
func (m *AuthMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *AuthMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
