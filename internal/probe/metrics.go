package probe

import "time"

// MetricsReporter receives measurement callbacks from probes and the
// scheduler. Implemented by the Prometheus collector; the no-op
// reporter is used when no collector is configured.
type MetricsReporter interface {
	// ObserveProbe records one completed probe run and its duration.
	ObserveProbe(probe, kind string, d time.Duration, ok bool)

	// SetProbeUp records the scheduler's liveness verdict for a probe.
	SetProbeUp(probe, kind string, up bool)

	// AddRetransmits counts datagram retransmissions for a probe.
	AddRetransmits(probe string, n uint64)

	// AddRPCFragments counts response fragments consumed by RPC probes.
	AddRPCFragments(n uint64)

	// IncPacketsDecoded counts successfully decoded reply packets.
	IncPacketsDecoded(proto string)

	// IncDecodeErrors counts reply packets that failed to decode.
	IncDecodeErrors(proto string)
}

// noopMetrics is the reporter used when no collector is configured.
type noopMetrics struct{}

func (noopMetrics) ObserveProbe(string, string, time.Duration, bool) {}

func (noopMetrics) SetProbeUp(string, string, bool) {}

func (noopMetrics) AddRetransmits(string, uint64) {}

func (noopMetrics) AddRPCFragments(uint64) {}

func (noopMetrics) IncPacketsDecoded(string) {}

func (noopMetrics) IncDecodeErrors(string) {}
