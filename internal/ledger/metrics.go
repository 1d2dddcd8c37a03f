package ledger

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "ledger"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of open accounts.
	Accounts metrics.Gauge
	// Number of processed transfer orders, by outcome.
	Transfers metrics.Counter
	// Number of messages dropped without an answer, by reason.
	DroppedMessages metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Accounts: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "accounts",
			Help:      "Number of open accounts.",
		}, labels).With(labelsAndValues...),
		Transfers: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transfers",
			Help:      "Number of processed transfer orders.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		DroppedMessages: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped_messages",
			Help:      "Number of messages dropped without an answer.",
		}, append(labels, "reason")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Accounts:        discard.NewGauge(),
		Transfers:       discard.NewCounter(),
		DroppedMessages: discard.NewCounter(),
	}
}
