package wiremetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "wireline"

// Label names for probe metrics.
const (
	labelProbe  = "probe"
	labelKind   = "kind"
	labelResult = "result"
	labelProto  = "proto"
)

// Values for the result label.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Probe Metrics
// -------------------------------------------------------------------------

// Collector holds all wireline Prometheus metrics.
//
// Metrics are designed for alerting on directory service health:
//   - Run counters and duration histograms track probe volume and latency.
//   - The up gauge carries the scheduler's current liveness verdict.
//   - Decode and retransmit counters flag degraded servers and paths
//     before probes start failing outright.
type Collector struct {
	// ProbeRuns counts completed probe runs per probe, split by result.
	ProbeRuns *prometheus.CounterVec

	// ProbeDuration observes the wall-clock duration of each probe run.
	ProbeDuration *prometheus.HistogramVec

	// ProbeUp reports the scheduler's verdict: 1 while a probe is
	// considered up, 0 while it is down or still unknown.
	ProbeUp *prometheus.GaugeVec

	// PacketsDecoded counts reply packets that decoded cleanly, per
	// wire protocol.
	PacketsDecoded *prometheus.CounterVec

	// DecodeErrors counts reply packets that failed to decode, per
	// wire protocol.
	DecodeErrors *prometheus.CounterVec

	// RPCFragments counts response fragments reassembled by RPC probes.
	RPCFragments prometheus.Counter

	// Retransmits counts datagram retransmissions per probe.
	Retransmits *prometheus.CounterVec
}

// NewCollector creates a Collector with all wireline metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "wireline_" prefix to avoid
// collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ProbeRuns,
		c.ProbeDuration,
		c.ProbeUp,
		c.PacketsDecoded,
		c.DecodeErrors,
		c.RPCFragments,
		c.Retransmits,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	probeLabels := []string{labelProbe, labelKind}

	return &Collector{
		ProbeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total completed probe runs by result.",
		}, []string{labelProbe, labelKind, labelResult}),

		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock duration of probe runs.",
		}, probeLabels),

		ProbeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probe_up",
			Help:      "Whether the probe target is currently considered up.",
		}, probeLabels),

		PacketsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_decoded_total",
			Help:      "Total reply packets decoded successfully.",
		}, []string{labelProto}),

		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total reply packets that failed to decode.",
		}, []string{labelProto}),

		RPCFragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_fragments_total",
			Help:      "Total DCE/RPC response fragments reassembled.",
		}),

		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmits_total",
			Help:      "Total RADIUS datagram retransmissions.",
		}, []string{labelProbe}),
	}
}

// -------------------------------------------------------------------------
// Probe Runs
// -------------------------------------------------------------------------

// ObserveProbe records one completed probe run: the run counter with its
// success or failure result, and the duration histogram. Called by the
// scheduler after every run.
func (c *Collector) ObserveProbe(probe, kind string, d time.Duration, ok bool) {
	result := resultFailure
	if ok {
		result = resultSuccess
	}
	c.ProbeRuns.WithLabelValues(probe, kind, result).Inc()
	c.ProbeDuration.WithLabelValues(probe, kind).Observe(d.Seconds())
}

// SetProbeUp records the scheduler's liveness verdict for a probe.
// Called on every state transition.
func (c *Collector) SetProbeUp(probe, kind string, up bool) {
	val := 0.0
	if up {
		val = 1.0
	}
	c.ProbeUp.WithLabelValues(probe, kind).Set(val)
}

// -------------------------------------------------------------------------
// Wire Counters
// -------------------------------------------------------------------------

// AddRetransmits adds n to the retransmission counter for a probe.
// Called after each RADIUS exchange that needed more than one try.
func (c *Collector) AddRetransmits(probe string, n uint64) {
	c.Retransmits.WithLabelValues(probe).Add(float64(n))
}

// AddRPCFragments adds n to the reassembled fragment counter.
// Called after each RPC probe run that consumed response fragments.
func (c *Collector) AddRPCFragments(n uint64) {
	c.RPCFragments.Add(float64(n))
}

// IncPacketsDecoded increments the decoded packets counter for a protocol.
// Called on each reply that parsed cleanly.
func (c *Collector) IncPacketsDecoded(proto string) {
	c.PacketsDecoded.WithLabelValues(proto).Inc()
}

// IncDecodeErrors increments the decode error counter for a protocol.
// Called on each reply the codec rejected.
func (c *Collector) IncDecodeErrors(proto string) {
	c.DecodeErrors.WithLabelValues(proto).Inc()
}
