package jwtauth

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "jwtauth"

// Metrics counts token outcomes. A nil *Metrics records nothing.
type Metrics struct {
	validations *prometheus.CounterVec
	issued      *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "validations_total",
			Help:      "Token validations by token kind and result code.",
		}, []string{"kind", "result"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by token kind.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_exchanges_total",
			Help:      "Refresh token exchanges by result code.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []**prometheus.CounterVec{&m.validations, &m.issued, &m.refreshes} {
		registered, err := registerCounter(reg, *c)
		if err != nil {
			return nil, err
		}
		*c = registered
	}
	return m, nil
}

// registerCounter returns the already registered collector when an identical
// one exists, so several readers can share one registry.
func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}
	}
	return nil, err
}

func resultLabel(code ErrorCode) string {
	if code == "" {
		return "valid"
	}
	return string(code)
}

func (m *Metrics) observeValidation(kind TokenKind, code ErrorCode) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(kind.String(), resultLabel(code)).Inc()
}

func (m *Metrics) observeIssued(kind TokenKind) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeRefresh(err error) {
	if m == nil {
		return
	}
	code := CodeOf(err)
	if err != nil && code == "" {
		code = ErrCodeInternal
	}
	m.refreshes.WithLabelValues(resultLabel(code)).Inc()
}
