package bus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "bus"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of envelopes accepted for delivery, by destination kind.
	Sent metrics.Counter
	// Number of envelopes that could not be delivered, by destination kind.
	Undeliverable metrics.Counter
	// Number of packets dropped because they did not decode.
	Malformed metrics.Counter
	// Number of live temporary queues.
	TempQueues metrics.Gauge
	// Number of live topic subscriptions.
	TopicSubscribers metrics.Gauge
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
		Sent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sent",
			Help:      "Number of envelopes accepted for delivery.",
		}, append(labels, "kind")).With(labelsAndValues...),
		Undeliverable: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "undeliverable",
			Help:      "Number of envelopes that could not be delivered.",
		}, append(labels, "kind")).With(labelsAndValues...),
		Malformed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "malformed",
			Help:      "Number of packets dropped because they did not decode.",
		}, labels).With(labelsAndValues...),
		TempQueues: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "temp_queues",
			Help:      "Number of live temporary queues.",
		}, labels).With(labelsAndValues...),
		TopicSubscribers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "topic_subscribers",
			Help:      "Number of live topic subscriptions.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Sent:             discard.NewCounter(),
		Undeliverable:    discard.NewCounter(),
		Malformed:        discard.NewCounter(),
		TempQueues:       discard.NewGauge(),
		TopicSubscribers: discard.NewGauge(),
	}
}
