package wiremetrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	wiremetrics "github.com/lucian/wireline/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wiremetrics.NewCollector(reg)

	if c.ProbeRuns == nil {
		t.Error("ProbeRuns is nil")
	}
	if c.ProbeDuration == nil {
		t.Error("ProbeDuration is nil")
	}
	if c.ProbeUp == nil {
		t.Error("ProbeUp is nil")
	}
	if c.PacketsDecoded == nil {
		t.Error("PacketsDecoded is nil")
	}
	if c.DecodeErrors == nil {
		t.Error("DecodeErrors is nil")
	}
	if c.RPCFragments == nil {
		t.Error("RPCFragments is nil")
	}
	if c.Retransmits == nil {
		t.Error("Retransmits is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestObserveProbe(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wiremetrics.NewCollector(reg)

	// Two successes and a failure for the same probe.
	c.ObserveProbe("corp-auth", "auth", 15*time.Millisecond, true)
	c.ObserveProbe("corp-auth", "auth", 12*time.Millisecond, true)
	c.ObserveProbe("corp-auth", "auth", 2*time.Second, false)

	val := counterValue(t, c.ProbeRuns, "corp-auth", "auth", "success")
	if val != 2 {
		t.Errorf("ProbeRuns(success) = %v, want 2", val)
	}

	val = counterValue(t, c.ProbeRuns, "corp-auth", "auth", "failure")
	if val != 1 {
		t.Errorf("ProbeRuns(failure) = %v, want 1", val)
	}

	// All three runs land in the same duration histogram.
	count, sum := histogramValue(t, c.ProbeDuration, "corp-auth", "auth")
	if count != 3 {
		t.Errorf("ProbeDuration count = %d, want 3", count)
	}
	if sum < 2.0 || sum > 2.1 {
		t.Errorf("ProbeDuration sum = %v, want about 2.027", sum)
	}
}

func TestSetProbeUp(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wiremetrics.NewCollector(reg)

	c.SetProbeUp("dc1-samr", "samr", true)

	val := gaugeValue(t, c.ProbeUp, "dc1-samr", "samr")
	if val != 1 {
		t.Errorf("ProbeUp after up verdict = %v, want 1", val)
	}

	c.SetProbeUp("dc1-samr", "samr", false)

	val = gaugeValue(t, c.ProbeUp, "dc1-samr", "samr")
	if val != 0 {
		t.Errorf("ProbeUp after down verdict = %v, want 0", val)
	}
}

func TestDecodeCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wiremetrics.NewCollector(reg)

	c.IncPacketsDecoded("radius")
	c.IncPacketsDecoded("radius")
	c.IncDecodeErrors("radius")

	val := counterValue(t, c.PacketsDecoded, "radius")
	if val != 2 {
		t.Errorf("PacketsDecoded = %v, want 2", val)
	}

	val = counterValue(t, c.DecodeErrors, "radius")
	if val != 1 {
		t.Errorf("DecodeErrors = %v, want 1", val)
	}
}

func TestWireCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := wiremetrics.NewCollector(reg)

	c.AddRetransmits("corp-auth", 2)
	c.AddRetransmits("corp-auth", 1)
	c.AddRPCFragments(3)

	val := counterValue(t, c.Retransmits, "corp-auth")
	if val != 3 {
		t.Errorf("Retransmits = %v, want 3", val)
	}

	m := &dto.Metric{}
	if err := c.RPCFragments.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 3 {
		t.Errorf("RPCFragments = %v, want 3", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

// histogramValue reads the sample count and sum of a HistogramVec with
// the given labels.
func histogramValue(t *testing.T, vec *prometheus.HistogramVec, labels ...string) (uint64, float64) {
	t.Helper()

	obs, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	hist, ok := obs.(prometheus.Histogram)
	if !ok {
		t.Fatalf("observer %T is not a histogram", obs)
	}

	m := &dto.Metric{}
	if err := hist.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}
