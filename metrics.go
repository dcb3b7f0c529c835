package sessionstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sessionstore"

type metrics struct {
	created          prometheus.Counter
	flushes          *prometheus.CounterVec
	destroyed        prometheus.Counter
	swept            *prometheus.CounterVec
	loadFailures     prometheus.Counter
	capacityExceeded prometheus.Counter
	cached           prometheus.GaugeFunc
}

func newMetrics(cachedFn func() float64) *metrics {
	return &metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_created_total",
			Help:      "Fresh sessions issued.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flushes_total",
			Help:      "Session flushes by result.",
		}, []string{"result"}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "destroyed_total",
			Help:      "Sessions destroyed by handlers.",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swept_total",
			Help:      "Expired sessions removed by the sweeper.",
		}, []string{"source"}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "load_failures_total",
			Help:      "Backend load failures on the request path.",
		}),
		capacityExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "capacity_exceeded_total",
			Help:      "Sessions created while the cache was above MaxSessions.",
		}),
		cached: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cached_sessions",
			Help:      "Sessions currently held in memory.",
		}, cachedFn),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.created, m.flushes, m.destroyed, m.swept, m.loadFailures, m.capacityExceeded, m.cached,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
