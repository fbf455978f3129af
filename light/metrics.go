package light

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "light"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the latest successfully verified block.
	VerifiedHeight metrics.Gauge
	// Number of verifier invocations.
	VerifierCalls metrics.Counter
	// Number of light blocks fetched from peers.
	FetchedBlocks metrics.Counter
	// Number of bisection steps taken for lack of trusted signers.
	Bisections metrics.Counter
	// Number of forks detected by the divergence checker.
	ForksDetected metrics.Counter
	// Number of witnesses dropped for transient failures.
	DroppedWitnesses metrics.Counter
}

// PrometheusMetrics returns Metrics built using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		VerifiedHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "verified_height",
			Help:      "Height of the latest successfully verified block.",
		}, labels).With(labelsAndValues...),
		VerifierCalls: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "verifier_calls",
			Help:      "Number of verifier invocations.",
		}, labels).With(labelsAndValues...),
		FetchedBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fetched_blocks",
			Help:      "Number of light blocks fetched from peers.",
		}, labels).With(labelsAndValues...),
		Bisections: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bisections",
			Help:      "Number of bisection steps taken.",
		}, labels).With(labelsAndValues...),
		ForksDetected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "forks_detected",
			Help:      "Number of forks detected by the divergence checker.",
		}, labels).With(labelsAndValues...),
		DroppedWitnesses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped_witnesses",
			Help:      "Number of witnesses dropped for transient failures.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		VerifiedHeight:   discard.NewGauge(),
		VerifierCalls:    discard.NewCounter(),
		FetchedBlocks:    discard.NewCounter(),
		Bisections:       discard.NewCounter(),
		ForksDetected:    discard.NewCounter(),
		DroppedWitnesses: discard.NewCounter(),
	}
}
