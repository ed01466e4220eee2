package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// -------------------------------------------------------------------------
// Scheduler - periodic probe execution
// -------------------------------------------------------------------------

const (
	// DefaultFailureThreshold is the number of consecutive failed runs
	// after which a probe is declared Down.
	DefaultFailureThreshold = 3

	// DefaultInterval is the schedule used when a Spec does not name one.
	DefaultInterval = 30 * time.Second

	// notifyChSize is the buffer size for the state change channel.
	// A consumer falling this far behind starts losing notifications.
	notifyChSize = 64
)

// unknownFmt formats out-of-range enum values.
const unknownFmt = "Unknown(%d)"

// Sentinel errors for scheduler operations.
var (
	// ErrDuplicateProbe indicates an Add with an already-registered name.
	ErrDuplicateProbe = errors.New("probe name already registered")

	// ErrProbeNotFound indicates an operation on an unknown probe name.
	ErrProbeNotFound = errors.New("probe not registered")
)

// State is the scheduler's liveness verdict for one probe target.
type State uint8

const (
	// StateUnknown means no verdict yet: either no run has completed or
	// failures have not reached the threshold since startup.
	StateUnknown State = iota

	// StateUp means the most recent run succeeded.
	StateUp

	// StateDown means the failure threshold was reached.
	StateDown
)

// stateNames indexes State values.
var stateNames = [3]string{
	"Unknown",
	"Up",
	"Down",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf(unknownFmt, uint8(s))
}

// StateChange is emitted when a probe transitions between liveness
// states.
type StateChange struct {
	// Probe is the probe name.
	Probe string

	// Kind is the probe kind label.
	Kind string

	// OldState is the verdict before the transition.
	OldState State

	// NewState is the verdict after the transition.
	NewState State

	// Err is the run error that drove a transition to Down, nil on a
	// transition to Up.
	Err error

	// Timestamp is when the transition occurred.
	Timestamp time.Time
}

// Spec pairs a prober with its schedule for Add and Reconcile.
type Spec struct {
	// Prober runs the check. Its Name is the registration key.
	Prober Prober

	// Interval is the nominal time between runs; each wait is jittered
	// to 75-100% of it. Zero selects DefaultInterval.
	Interval time.Duration
}

// Status is a point-in-time view of one scheduled probe.
type Status struct {
	// Name and Kind identify the probe.
	Name string
	Kind string

	// State is the current liveness verdict.
	State State

	// Failures is the current consecutive failure count.
	Failures int

	// Runs is the total number of completed runs.
	Runs uint64

	// LastErr is the error from the most recent run, "" on success.
	LastErr string

	// LastRun is when the most recent run finished. Zero before the
	// first run.
	LastRun time.Time

	// Interval is the nominal schedule.
	Interval time.Duration
}

// runner holds one scheduled probe and its cancellation.
type runner struct {
	probe    Prober
	interval time.Duration
	cancel   context.CancelFunc

	mu       sync.Mutex
	state    State
	failures int
	runs     uint64
	lastErr  error
	lastRun  time.Time
}

// status snapshots the runner under its lock.
func (r *runner) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Name:     r.probe.Name(),
		Kind:     r.probe.Kind(),
		State:    r.state,
		Failures: r.failures,
		Runs:     r.runs,
		LastRun:  r.lastRun,
		Interval: r.interval,
	}
	if r.lastErr != nil {
		st.LastErr = r.lastErr.Error()
	}
	return st
}

// Scheduler runs registered probes on jittered intervals and tracks a
// liveness verdict per probe. A probe is declared Down after the
// configured number of consecutive failures and Up again on the next
// success. Transitions are published on the StateChanges channel.
type Scheduler struct {
	threshold int
	metrics   MetricsReporter
	logger    *slog.Logger
	notifyCh  chan StateChange

	mu      sync.Mutex
	runners map[string]*runner
	group   *errgroup.Group
	runCtx  context.Context
	running bool
}

// SchedulerOption configures optional Scheduler parameters.
type SchedulerOption func(*Scheduler)

// WithSchedulerMetrics sets the MetricsReporter for the scheduler.
// If mr is nil, a no-op reporter is used.
func WithSchedulerMetrics(mr MetricsReporter) SchedulerOption {
	return func(s *Scheduler) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithFailureThreshold sets how many consecutive failures declare a
// probe Down. Non-positive values select DefaultFailureThreshold.
func WithFailureThreshold(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		threshold: DefaultFailureThreshold,
		metrics:   noopMetrics{},
		logger:    logger.With(slog.String("component", "probe.scheduler")),
		notifyCh:  make(chan StateChange, notifyChSize),
		runners:   make(map[string]*runner),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a probe. If the scheduler is running, the probe's loop
// starts immediately.
func (s *Scheduler) Add(spec Spec) error {
	name := spec.Prober.Name()
	interval := spec.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runners[name]; exists {
		return fmt.Errorf("add probe %s: %w", name, ErrDuplicateProbe)
	}

	r := &runner{probe: spec.Prober, interval: interval}
	s.runners[name] = r
	if s.running {
		s.startLocked(r)
	}

	s.logger.Info("probe registered",
		slog.String("probe", name),
		slog.String("kind", spec.Prober.Kind()),
		slog.Duration("interval", interval),
	)
	return nil
}

// Remove cancels and unregisters a probe.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runners[name]
	if !ok {
		return fmt.Errorf("remove probe %s: %w", name, ErrProbeNotFound)
	}
	if r.cancel != nil {
		r.cancel()
	}
	delete(s.runners, name)

	s.logger.Info("probe removed", slog.String("probe", name))
	return nil
}

// startLocked launches the runner goroutine under the run group.
// Callers hold s.mu.
func (s *Scheduler) startLocked(r *runner) {
	ctx, cancel := context.WithCancel(s.runCtx)
	r.cancel = cancel
	s.group.Go(func() error {
		s.runLoop(ctx, r)
		return nil
	})
}

// Run starts one goroutine per registered probe and blocks until ctx is
// cancelled and every loop has returned. Run may be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	g, runCtx := errgroup.WithContext(ctx)
	s.group = g
	s.runCtx = runCtx
	s.running = true

	// Hold the group open while probes come and go through Reconcile,
	// including down to zero.
	g.Go(func() error {
		<-runCtx.Done()
		return nil
	})

	for _, r := range s.runners {
		s.startLocked(r)
	}
	n := len(s.runners)
	s.mu.Unlock()

	s.logger.Info("scheduler started", slog.Int("probes", n))
	err := g.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return err
}

// runLoop executes the probe immediately, then on each jittered
// interval.
func (s *Scheduler) runLoop(ctx context.Context, r *runner) {
	timer := time.NewTimer(ApplyJitter(r.interval))
	defer timer.Stop()

	_ = s.runOnce(ctx, r)

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			_ = s.runOnce(ctx, r)
			timer.Reset(ApplyJitter(r.interval))
		}
	}
}

// runOnce performs one probe run and applies the verdict rules.
func (s *Scheduler) runOnce(ctx context.Context, r *runner) error {
	started := time.Now()
	err := r.probe.Probe(ctx)
	elapsed := time.Since(started)

	if ctx.Err() != nil {
		// Shutdown interrupted the run; the outcome is not a verdict.
		return ctx.Err()
	}

	name, kind := r.probe.Name(), r.probe.Kind()
	s.metrics.ObserveProbe(name, kind, elapsed, err == nil)

	r.mu.Lock()
	r.runs++
	r.lastErr = err
	r.lastRun = time.Now()
	old := r.state
	if err != nil {
		r.failures++
		if r.failures >= s.threshold {
			r.state = StateDown
		}
	} else {
		r.failures = 0
		r.state = StateUp
	}
	next := r.state
	r.mu.Unlock()

	if err != nil {
		s.logger.Debug("probe run failed",
			slog.String("probe", name),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("probe run succeeded",
			slog.String("probe", name),
			slog.Duration("elapsed", elapsed),
		)
	}

	if next != old {
		s.transition(r, old, next, err)
	}
	return err
}

// transition publishes a state change and updates the liveness gauge.
func (s *Scheduler) transition(r *runner, old, next State, err error) {
	name, kind := r.probe.Name(), r.probe.Kind()
	s.metrics.SetProbeUp(name, kind, next == StateUp)
	s.logger.Info("probe state changed",
		slog.String("probe", name),
		slog.String("old_state", old.String()),
		slog.String("new_state", next.String()),
	)

	sc := StateChange{
		Probe:     name,
		Kind:      kind,
		OldState:  old,
		NewState:  next,
		Err:       err,
		Timestamp: time.Now(),
	}
	select {
	case s.notifyCh <- sc:
	default:
		s.logger.Warn("notification channel full, dropping state change")
	}
}

// StateChanges returns a read-only channel receiving probe state
// transitions. The channel is buffered; if the consumer falls behind,
// transitions are dropped and logged at warn level.
func (s *Scheduler) StateChanges() <-chan StateChange {
	return s.notifyCh
}

// RunNow runs one probe immediately, outside its schedule, and returns
// the run's outcome. The run updates state exactly like a scheduled
// one.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	r, ok := s.runners[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("run probe %s: %w", name, ErrProbeNotFound)
	}
	return s.runOnce(ctx, r)
}

// Statuses reports a snapshot of every registered probe, sorted by
// name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.status())
	}
	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// -------------------------------------------------------------------------
// Reconciliation - SIGHUP reload
// -------------------------------------------------------------------------

// Reconcile diffs the desired probe set against the registered one.
// Probes present in desired but absent are added; registered probes
// absent from desired are removed. Existing probes are left untouched,
// so a parameter change requires removing and re-adding the probe.
//
// Returns the number of probes added and removed. Partial failures are
// accumulated; reconciliation continues for all probes.
func (s *Scheduler) Reconcile(desired []Spec) (int, int, error) {
	desiredByName := make(map[string]Spec, len(desired))
	for _, spec := range desired {
		desiredByName[spec.Prober.Name()] = spec
	}

	s.mu.Lock()
	current := make(map[string]struct{}, len(s.runners))
	for name := range s.runners {
		current[name] = struct{}{}
	}
	s.mu.Unlock()

	var added, removed int
	var errs []error
	for name := range current {
		if _, want := desiredByName[name]; want {
			continue
		}

		s.logger.Info("reconcile: removing probe", slog.String("probe", name))
		if err := s.Remove(name); err != nil {
			errs = append(errs, fmt.Errorf("reconcile remove %s: %w", name, err))
			continue
		}
		removed++
	}

	for name, spec := range desiredByName {
		if _, exists := current[name]; exists {
			continue
		}

		s.logger.Info("reconcile: adding probe", slog.String("probe", name))
		if err := s.Add(spec); err != nil {
			errs = append(errs, fmt.Errorf("reconcile add %s: %w", name, err))
			continue
		}
		added++
	}

	var err error
	if len(errs) > 0 {
		err = errors.Join(errs...)
	}

	s.logger.Info("probe reconciliation complete",
		slog.Int("added", added),
		slog.Int("removed", removed),
	)
	return added, removed, err
}

// -------------------------------------------------------------------------
// Jitter
// -------------------------------------------------------------------------

// ApplyJitter reduces interval by a random 0-25% so probe schedules
// started together do not stay synchronized against one server.
//
// Uses math/rand/v2 for non-cryptographic randomness (jitter is not
// security-sensitive; using crypto/rand would add unnecessary overhead
// on the hot path).
func ApplyJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return interval
	}

	// rand(0..25) = reduction of 0-25%.
	jitterPercent := rand.IntN(26) //nolint:gosec // G404: jitter does not require cryptographic randomness

	reduction := time.Duration(int64(interval) * int64(jitterPercent) / 100)

	return interval - reduction
}
