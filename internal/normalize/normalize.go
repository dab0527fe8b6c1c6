// Package normalize equalizes the observable latency of login success and
// failure paths. A Timer measures how long the work of a successful attempt
// takes and teaches that duration to a baseline store; on a failed attempt
// it sleeps for whatever portion of the learned baseline the failure path
// has not already spent, so an attacker timing responses cannot tell the two
// apart.
//
// One Timer is constructed per login attempt and never shared across
// requests; the baseline store is the only shared collaborator and carries
// its own synchronization.
package normalize

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/lockstep/internal/baseline"
)

const (
	// DefaultName is the timer name used when an integration does not
	// supply its own. Distinct login surfaces should pass distinct names so
	// each learns an independent baseline.
	DefaultName = "login"

	// DefaultMaxTime caps both the learned baseline and the applied delay.
	// It bounds how long a legitimate user can be made to wait on failure
	// and how much damage a poisoned baseline can do.
	DefaultMaxTime = 1000 * time.Millisecond

	// DefaultThrottle is the minimum interval between accepted baseline
	// updates for a name. Keeps baseline churn bounded under load while
	// still adapting to environment drift over time.
	DefaultThrottle = time.Hour

	// minMeasurable treats sub-millisecond measurements as noise: they are
	// neither worth persisting as a baseline nor worth sleeping for.
	minMeasurable = time.Millisecond
)

// Normalizer builds Timers. It holds the shared baseline store and the
// policy knobs; construct one at startup and call NewTimer once per attempt.
type Normalizer struct {
	Store    baseline.Store
	MaxTime  time.Duration // zero means DefaultMaxTime
	Throttle time.Duration // zero means DefaultThrottle
	Logger   *slog.Logger  // nil means slog.Default()
}

// NewTimer returns a fresh Timer for a single login attempt.
func (n *Normalizer) NewTimer() *Timer {
	maxTime := n.MaxTime
	if maxTime <= 0 {
		maxTime = DefaultMaxTime
	}
	throttle := n.Throttle
	if throttle <= 0 {
		throttle = DefaultThrottle
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Timer{
		store:    n.Store,
		maxTime:  maxTime,
		throttle: throttle,
		log:      logger,
		name:     DefaultName,
		state:    stateIdle,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// state tracks the measurement lifecycle of a Timer. Save and Apply are
// legal from any state but implicitly close an open interval first.
type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Timer accumulates the wall-clock cost of one login attempt across one or
// more measured intervals, then either teaches the total to the baseline
// store (Save, on success) or sleeps off the difference to the learned
// baseline (Apply, on failure).
//
// Timer is not safe for concurrent use; it is meant to live and die on a
// single request path. No method ever returns an error: every failure mode
// degrades to "no baseline learned" or "no delay applied" so normalization
// can never break the login itself.
type Timer struct {
	store    baseline.Store
	maxTime  time.Duration
	throttle time.Duration
	log      *slog.Logger

	name        string
	state       state
	startedAt   time.Time
	elapsed     time.Duration
	everStarted bool

	saved   bool
	applied bool

	// Injection points for deterministic tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// Start opens a measurement interval. The optional name overrides the
// default timer name; it only has effect on the first call. Calling Start
// while an interval is already open is a no-op.
func (t *Timer) Start(name string) {
	if t.state == stateRunning {
		t.log.Debug("normalize: start ignored, interval already open", "name", t.name)
		return
	}

	// The name can only be overridden before the first interval opens;
	// later calls resume measurement under the established name. A stray
	// Stop before the first Start must not burn the override.
	if name != "" && !t.everStarted {
		t.name = name
	}

	t.everStarted = true
	t.startedAt = t.now()
	t.state = stateRunning

	t.log.Debug("normalize: interval opened", "name", t.name, "elapsed_ms", millis(t.elapsed))
}

// Stop closes the open measurement interval, if any, adding its duration to
// the accumulated total. Calling Stop when no interval is open is a no-op,
// so callers may bracket several sub-phases with repeated Start/Stop pairs.
func (t *Timer) Stop() {
	if t.state != stateRunning {
		if t.state == stateStopped {
			t.log.Debug("normalize: stop ignored, already stopped", "name", t.name)
		}
		t.state = stateStopped
		return
	}

	t.elapsed += t.now().Sub(t.startedAt)
	t.state = stateStopped

	t.log.Debug("normalize: interval closed", "name", t.name, "elapsed_ms", millis(t.elapsed))
}

// Elapsed returns the accumulated measured duration so far. If an interval
// is open it includes the time spent in it.
func (t *Timer) Elapsed() time.Duration {
	if t.state == stateRunning {
		return t.elapsed + t.now().Sub(t.startedAt)
	}
	return t.elapsed
}

// Name returns the timer's effective name.
func (t *Timer) Name() string { return t.name }

// Save teaches the measured duration to the baseline store. Call it exactly
// once, immediately after a successful authentication and before the success
// response is sent. Save is one-shot: after the first call every subsequent
// call is a no-op.
//
// The measurement is discarded without touching the store when no name is
// set, when it is below a millisecond (noise), or when the stored baseline
// for this name was already refreshed within the throttle window. Storage
// failures are logged and swallowed.
func (t *Timer) Save(ctx context.Context) {
	if t.saved {
		t.log.Debug("normalize: save ignored, already saved", "name", t.name)
		return
	}
	defer func() { t.saved = true }()

	t.Stop()

	if t.name == "" {
		t.log.Debug("normalize: save skipped, no timer name")
		return
	}
	if t.elapsed < minMeasurable {
		t.log.Debug("normalize: save skipped, measurement below 1ms",
			"name", t.name, "elapsed_ms", millis(t.elapsed))
		return
	}

	rec, err := t.store.Read(ctx, t.name)
	switch {
	case err == nil:
		if age := t.now().Sub(rec.UpdatedAt); age < t.throttle {
			t.log.Debug("normalize: save skipped, baseline within throttle window",
				"name", t.name, "age", age, "throttle", t.throttle)
			return
		}
	case errors.Is(err, baseline.ErrNotFound):
		// First baseline for this name.
	default:
		// An unreadable store is indistinguishable from "no baseline"; try
		// the write anyway.
		t.log.Warn("normalize: baseline read failed, attempting write",
			"name", t.name, "error", err)
	}

	value := clamp(millis(t.elapsed), millis(t.maxTime))
	if err := t.store.Write(ctx, t.name, value); err != nil {
		t.log.Warn("normalize: baseline write failed", "name", t.name, "error", err)
		return
	}

	t.log.Debug("normalize: baseline saved", "name", t.name, "millis", value)
}

// Apply sleeps for whatever portion of the learned baseline this attempt has
// not already spent, so the failure response leaves at the same time a
// success would have. Call it exactly once, immediately after a failed
// authentication and before the failure response is sent. Apply is one-shot:
// after the first call every subsequent call is a no-op.
//
// With no baseline learned yet, or when the failure path already took at
// least as long as the baseline, Apply returns without sleeping. The sleep
// is deliberately synchronous and uninterruptible: the whole point is a
// deterministic response time, so no context cancellation is honored once
// the delay begins. No shared lock is held while sleeping.
func (t *Timer) Apply(ctx context.Context) {
	if t.applied {
		t.log.Debug("normalize: apply ignored, already applied", "name", t.name)
		return
	}
	defer func() { t.applied = true }()

	t.Stop()

	var stored float64
	rec, err := t.store.Read(ctx, t.name)
	switch {
	case err == nil:
		stored = rec.Millis
	case errors.Is(err, baseline.ErrNotFound):
		// No baseline learned yet.
	default:
		t.log.Warn("normalize: baseline read failed, no delay applied",
			"name", t.name, "error", err)
	}

	target := clamp(stored, millis(t.maxTime))
	delay := target - millis(t.elapsed)

	if delay < 1 {
		t.log.Debug("normalize: no delay needed",
			"name", t.name, "baseline_ms", target, "elapsed_ms", millis(t.elapsed))
		return
	}

	// Microsecond resolution; the scheduler rounds coarser than that anyway.
	sleepFor := time.Duration(delay*1000) * time.Microsecond

	t.log.Debug("normalize: applying delay",
		"name", t.name, "baseline_ms", target,
		"elapsed_ms", millis(t.elapsed), "delay_ms", delay)

	t.sleep(sleepFor)
}

// millis converts a duration to fractional milliseconds.
func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// clamp bounds v into [0, maxVal].
func clamp(v, maxVal float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
