package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lpgmon"

// Metrics denotes the collectors exported by the device
type Metrics struct {

	// Iterations counts main loop iterations
	Iterations prometheus.Counter

	// CloudWrites counts executed cloud sync steps by cadence and outcome
	CloudWrites *prometheus.CounterVec

	// Weight is the last weight read by any cadence (in grams)
	Weight prometheus.Gauge

	// ConnectivityState is the numeric connectivity state
	ConnectivityState prometheus.Gauge

	// SessionReady is 1 while an authenticated cloud session is established
	SessionReady prometheus.Gauge

	// ConnectAttempts counts station link polls during connection attempts
	ConnectAttempts prometheus.Counter

	// Submissions counts provisioning submissions by result
	Submissions *prometheus.CounterVec
}

// New instantiates and registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Total number of main loop iterations",
		}),
		CloudWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cloud_writes_total",
			Help:      "Total number of executed cloud sync steps",
		}, []string{"cadence", "outcome"}),
		Weight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weight_grams",
			Help:      "Last weight reading in grams",
		}),
		ConnectivityState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_state",
			Help:      "Connectivity state (0: unconfigured, 1: provisioning, 2: connecting, 3: connected, 4: reconnecting)",
		}),
		SessionReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cloud_session_ready",
			Help:      "Whether an authenticated cloud session is established",
		}),
		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of station link polls during connection attempts",
		}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_submissions_total",
			Help:      "Total number of provisioning submissions",
		}, []string{"result"}),
	}
}
