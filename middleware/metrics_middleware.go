package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bridge-rpc/fault"
	"bridge-rpc/message"
)

// Metrics holds the call collectors. Register them once per registry.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_rpc_calls_total",
			Help: "Bridge calls by request kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_rpc_call_duration_seconds",
			Help:    "Bridge call round-trip time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.calls, m.duration} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					return nil, err
				}
			}
		}
	}
	return m, nil
}

// Middleware records one sample per call.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Value, error) {
			start := time.Now()
			v, err := next(ctx, req)
			kind := req.Kind.String()
			m.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
			m.calls.WithLabelValues(kind, outcome(err)).Inc()
			return v, err
		}
	}
}

func outcome(err error) string {
	var fe *fault.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &fe):
		return strings.ReplaceAll(fe.Kind.String(), " ", "_")
	default:
		return "error"
	}
}
