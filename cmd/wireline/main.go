// Wireline daemon -- active health probing for RADIUS and MS-RPC
// directory services.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/lucian/wireline/internal/admin"
	"github.com/lucian/wireline/internal/config"
	wiremetrics "github.com/lucian/wireline/internal/metrics"
	"github.com/lucian/wireline/internal/probe"
	"github.com/lucian/wireline/internal/radius"
	appversion "github.com/lucian/wireline/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// errUnknownProbeKind indicates a probe config entry with a kind the
// daemon cannot build. Config validation catches this before it gets
// here; the sentinel guards against skew between the two lists.
var errUnknownProbeKind = errors.New("unknown probe kind")

// flightRecorderMinAge is the minimum window age for the flight recorder.
// Captures the last 500ms of execution traces for debugging probe stalls.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("wireline starting",
		slog.String("version", appversion.Version),
		slog.Int("probes", len(cfg.Probes)),
		slog.String("metrics_listen", cfg.Metrics.Listen),
		slog.String("admin_listen", cfg.Admin.Listen),
	)

	// 4. Start flight recorder for post-mortem debugging of probe stalls.
	fr := startFlightRecorder(logger)

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := wiremetrics.NewCollector(reg)

	// 6. Load the attribute dictionary (builtin plus configured files).
	dict, err := loadDictionary(cfg.Dictionary, logger)
	if err != nil {
		logger.Error("failed to load dictionaries",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 7. Create the probe scheduler with metrics wired in.
	sched := probe.NewScheduler(logger, probe.WithSchedulerMetrics(collector))

	// 8. Run servers.
	if err := runServers(cfg, sched, dict, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("wireline exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("wireline stopped")
	return 0
}

// runServers sets up and runs the scheduler and HTTP servers using an
// errgroup with signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	sched *probe.Scheduler,
	dict *radius.Dictionary,
	collector *wiremetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	var metricsSrv, adminSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = newMetricsServer(cfg.Metrics, reg)
	}
	if cfg.Admin.Enabled {
		adminSrv = newAdminServer(cfg.Admin, sched, logger)
	}

	// errgroup with signal-aware context.
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Probe scheduler and its state change consumer.
	g.Go(func() error {
		return sched.Run(gCtx)
	})
	g.Go(func() error {
		logStateChanges(gCtx, sched.StateChanges(), logger)
		return nil
	})

	startHTTPServers(gCtx, g, cfg, adminSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, cfg, logLevel, sched, dict, collector, logger)

	// Register declarative probes from config at startup.
	reconcileProbes(cfg, sched, dict, collector, logger)

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the admin and metrics HTTP server goroutines.
// Disabled listeners are nil and skipped.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	if adminSrv != nil {
		g.Go(func() error {
			logger.Info("admin server listening", slog.String("addr", cfg.Admin.Listen))
			return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Listen)
		})
	}

	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Listen))
			return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Listen)
		})
	}
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	cfg *config.Config,
	logLevel *slog.LevelVar,
	sched *probe.Scheduler,
	dict *radius.Dictionary,
	collector *wiremetrics.Collector,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, cfg, logLevel, sched, dict, collector, logger)
		return nil
	})
}

// logStateChanges drains scheduler verdict transitions. This consumer
// keeps the notification channel moving and is the hook point for
// future integrations (paging, route withdrawal).
func logStateChanges(ctx context.Context, changes <-chan probe.StateChange, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sc := <-changes:
			level := slog.LevelInfo
			if sc.NewState == probe.StateDown {
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "probe verdict changed",
				slog.String("probe", sc.Probe),
				slog.String("kind", sc.Kind),
				slog.String("old_state", sc.OldState.String()),
				slog.String("new_state", sc.NewState.String()),
			)
		}
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyReloading sends RELOADING=1 to systemd at the start of a SIGHUP
// reload. Systemd expects a fresh READY=1 once the reload completes.
func notifyReloading(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReloading)
	if err != nil {
		logger.Warn("failed to notify systemd reloading",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: RELOADING")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd.
// The interval is WatchdogSec/2 as recommended by the systemd documentation.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	// Send keepalive at half the watchdog interval.
	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + probe reconciliation
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration.
// On reload, the log level is updated dynamically via the shared LevelVar,
// and declarative probes are reconciled (new probes added, removed probes
// stopped, changed probes recreated).
// Blocks until the context is cancelled (graceful shutdown).
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	cfg *config.Config,
	logLevel *slog.LevelVar,
	sched *probe.Scheduler,
	dict *radius.Dictionary,
	collector *wiremetrics.Collector,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			notifyReloading(logger)
			cfg = reloadConfig(configPath, cfg, logLevel, sched, dict, collector, logger)
			notifyReady(logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path, updates
// the dynamic log level, and reconciles declarative probes. Returns the
// configuration now in effect: the new one, or the previous one when the
// reload fails. Dictionary files are read once at startup and are not
// reloaded.
func reloadConfig(
	configPath string,
	oldCfg *config.Config,
	logLevel *slog.LevelVar,
	sched *probe.Scheduler,
	dict *radius.Dictionary,
	collector *wiremetrics.Collector,
	logger *slog.Logger,
) *config.Config {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return oldCfg
	}

	// Update log level.
	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	removeChangedProbes(oldCfg.Probes, newCfg.Probes, sched, logger)
	reconcileProbes(newCfg, sched, dict, collector, logger)
	return newCfg
}

// removeChangedProbes drops probes whose configuration changed so the
// following reconcile recreates them with fresh settings. Entries are
// matched by name; ProbeConfig is comparable, so any field change counts.
func removeChangedProbes(
	oldProbes, newProbes []config.ProbeConfig,
	sched *probe.Scheduler,
	logger *slog.Logger,
) {
	oldByName := make(map[string]config.ProbeConfig, len(oldProbes))
	for _, pc := range oldProbes {
		oldByName[pc.Name] = pc
	}

	for _, pc := range newProbes {
		old, ok := oldByName[pc.Name]
		if !ok || old == pc {
			continue
		}

		logger.Info("probe configuration changed, recreating",
			slog.String("probe", pc.Name),
		)
		if err := sched.Remove(pc.Name); err != nil {
			logger.Warn("failed to remove changed probe",
				slog.String("probe", pc.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reconcileProbes diffs the declarative probes from the config against
// the scheduler's current set, adding and removing as needed. Invalid
// entries are logged and skipped so one bad probe does not take down
// the rest of a reload.
func reconcileProbes(
	cfg *config.Config,
	sched *probe.Scheduler,
	dict *radius.Dictionary,
	collector *wiremetrics.Collector,
	logger *slog.Logger,
) {
	desired := make([]probe.Spec, 0, len(cfg.Probes))
	for _, pc := range cfg.Probes {
		spec, err := buildProbe(pc, dict, collector, logger)
		if err != nil {
			logger.Error("invalid probe config, skipping",
				slog.String("probe", pc.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		desired = append(desired, spec)
	}

	if _, _, err := sched.Reconcile(desired); err != nil {
		logger.Error("probe reconciliation had errors",
			slog.String("error", err.Error()),
		)
	}
}

// buildProbe converts a config.ProbeConfig into a scheduler Spec with
// the matching prober behind it.
func buildProbe(
	pc config.ProbeConfig,
	dict *radius.Dictionary,
	collector *wiremetrics.Collector,
	logger *slog.Logger,
) (probe.Spec, error) {
	nasIP, err := pc.NASAddr()
	if err != nil {
		return probe.Spec{}, fmt.Errorf("parse nas_ip: %w", err)
	}

	cfg := probe.Config{
		Name:     pc.Name,
		Target:   pc.Target,
		Secret:   []byte(pc.Secret),
		Username: pc.Username,
		Password: pc.Password,
		NASIP:    nasIP,
		Timeout:  pc.Timeout,
		Retries:  pc.Retries,
		Dict:     dict,
	}

	var p probe.Prober
	switch pc.Kind {
	case probe.KindAuth:
		p, err = probe.NewAuthProbe(cfg, logger, probe.WithMetrics(collector))
	case probe.KindAcct:
		p, err = probe.NewAcctProbe(cfg, logger, probe.WithMetrics(collector))
	case probe.KindSamr:
		p, err = probe.NewSamrProbe(cfg, logger, probe.WithMetrics(collector))
	default:
		return probe.Spec{}, fmt.Errorf("probe kind %q: %w", pc.Kind, errUnknownProbeKind)
	}
	if err != nil {
		return probe.Spec{}, err
	}

	return probe.Spec{Prober: p, Interval: pc.Interval}, nil
}

// -------------------------------------------------------------------------
// Graceful Shutdown — stop servers
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, dumps
// the flight recorder, then shuts down HTTP servers. Probe loops stop on
// their own when the shared context is cancelled.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	// Stop flight recorder.
	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	// Derive a fresh shutdown context from the parent (which is cancelled).
	// context.WithoutCancel detaches from the parent's cancellation so we
	// can enforce our own drain timeout.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the Go 1.26 FlightRecorder
// for post-mortem debugging of probe stalls. The recorder maintains a
// rolling window of execution trace data that can be dumped on demand.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newAdminServer creates an HTTP server for the admin status API.
// The handler is wrapped with h2c to support HTTP/2 without TLS for
// plaintext clients on trusted management networks.
func newAdminServer(cfg config.AdminConfig, sched *probe.Scheduler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           h2c.NewHandler(admin.New(sched, logger), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Configuration + Logging
// -------------------------------------------------------------------------

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// loadDictionary builds the attribute dictionary: the builtin RFC table
// plus any files named in the configuration.
func loadDictionary(cfg config.DictionaryConfig, logger *slog.Logger) (*radius.Dictionary, error) {
	dict := radius.Builtin()
	for _, path := range cfg.Files {
		if err := dict.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load dictionary %s: %w", path, err)
		}
		logger.Info("dictionary loaded", slog.String("file", path))
	}
	return dict, nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
