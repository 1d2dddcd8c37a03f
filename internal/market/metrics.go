package market

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "market"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of goods currently offered.
	CatalogSize metrics.Gauge
	// Number of goods currently reserved for a buyer.
	Reservations metrics.Gauge
	// Number of settled sales, by outcome.
	Sales metrics.Counter
	// Number of purchases attempted as a buyer, by outcome.
	Purchases metrics.Counter
	// Number of inbound messages dropped, by reason.
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
		CatalogSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "catalog_size",
			Help:      "Number of goods currently offered.",
		}, labels).With(labelsAndValues...),
		Reservations: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reservations",
			Help:      "Number of goods currently reserved for a buyer.",
		}, labels).With(labelsAndValues...),
		Sales: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sales",
			Help:      "Number of settled or abandoned sales.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		Purchases: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "purchases",
			Help:      "Number of purchases attempted as a buyer.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		DroppedMessages: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped_messages",
			Help:      "Number of inbound messages dropped.",
		}, append(labels, "reason")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		CatalogSize:     discard.NewGauge(),
		Reservations:    discard.NewGauge(),
		Sales:           discard.NewCounter(),
		Purchases:       discard.NewCounter(),
		DroppedMessages: discard.NewCounter(),
	}
}
