//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucian/wireline/internal/admin"
	wiremetrics "github.com/lucian/wireline/internal/metrics"
	"github.com/lucian/wireline/internal/probe"
	"github.com/lucian/wireline/internal/radius"
)

func acceptAll(*radius.Packet, [radius.AuthenticatorSize]byte, []byte) radius.Code {
	return radius.CodeAccessAccept
}

// TestAdminAPILoopback runs the admin API against a live scheduler whose
// probe talks to a loopback RADIUS server.
func TestAdminAPILoopback(t *testing.T) {
	srv := newRadiusServer(t, "s3cr3t", acceptAll)

	sched := probe.NewScheduler(testLogger())
	p := newAuthProbe(t, srv.addr(), "s3cr3t", "monitor", "pap-password")
	if err := sched.Add(probe.Spec{Prober: p, Interval: time.Hour}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	// The startup run publishes the Unknown to Up transition; wait for it
	// so the API snapshot below is settled.
	select {
	case sc := <-sched.StateChanges():
		if sc.NewState != probe.StateUp {
			t.Fatalf("first transition to %s, want Up", sc.NewState)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no state change within 5s")
	}

	api := httptest.NewServer(admin.New(sched, testLogger()))
	t.Cleanup(api.Close)

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(api.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("list probes", func(t *testing.T) {
		resp, err := http.Get(api.URL + "/api/v1/probes")
		if err != nil {
			t.Fatalf("GET /api/v1/probes: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}

		var rows []struct {
			Name     string    `json:"name"`
			Kind     string    `json:"kind"`
			State    string    `json:"state"`
			Failures int       `json:"failures"`
			Runs     uint64    `json:"runs"`
			LastErr  string    `json:"last_error"`
			LastRun  time.Time `json:"last_run"`
			Interval string    `json:"interval"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("got %d probes, want 1", len(rows))
		}

		row := rows[0]
		if row.Name != "loop-auth" || row.Kind != "auth" {
			t.Errorf("probe = %s/%s, want loop-auth/auth", row.Name, row.Kind)
		}
		if row.State != "Up" {
			t.Errorf("state = %q, want Up", row.State)
		}
		if row.Runs < 1 {
			t.Errorf("runs = %d, want at least 1", row.Runs)
		}
		if row.LastErr != "" {
			t.Errorf("last_error = %q, want empty", row.LastErr)
		}
		if row.LastRun.IsZero() {
			t.Error("last_run is zero after a completed run")
		}
		if row.Interval != "1h0m0s" {
			t.Errorf("interval = %q, want 1h0m0s", row.Interval)
		}
	})

	t.Run("run probe", func(t *testing.T) {
		resp, err := http.Post(api.URL+"/api/v1/probes/loop-auth/run", "application/json", nil)
		if err != nil {
			t.Fatalf("POST run: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}

		var res struct {
			Probe string `json:"probe"`
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res.Probe != "loop-auth" || !res.OK || res.Error != "" {
			t.Errorf("run result = %+v, want ok for loop-auth", res)
		}
	})

	t.Run("run unknown probe", func(t *testing.T) {
		resp, err := http.Post(api.URL+"/api/v1/probes/nope/run", "application/json", nil)
		if err != nil {
			t.Fatalf("POST run: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("scheduler Run returned %v", err)
	}
}

// TestMetricsEndpointLoopback checks that a probe run lands in the
// Prometheus exposition served over HTTP.
func TestMetricsEndpointLoopback(t *testing.T) {
	srv := newRadiusServer(t, "s3cr3t", acceptAll)

	reg := prometheus.NewRegistry()
	collector := wiremetrics.NewCollector(reg)

	sched := probe.NewScheduler(testLogger(), probe.WithSchedulerMetrics(collector))
	p := newAuthProbe(t, srv.addr(), "s3cr3t", "monitor", "pap-password",
		probe.WithMetrics(collector))
	if err := sched.Add(probe.Spec{Prober: p, Interval: time.Hour}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := sched.RunNow(t.Context(), "loop-auth"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	msrv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(msrv.Close)

	resp, err := http.Get(msrv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}

	for _, want := range []string{
		`wireline_probes_total{kind="auth",probe="loop-auth",result="success"} 1`,
		`wireline_probe_up{kind="auth",probe="loop-auth"} 1`,
		`wireline_packets_decoded_total{proto="radius"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics exposition missing %q", want)
		}
	}
}
