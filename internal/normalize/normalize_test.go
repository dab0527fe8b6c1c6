package normalize

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aussiebroadwan/lockstep/internal/baseline"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory baseline.Store that records call counts so tests
// can assert on write behavior without touching disk.
type memStore struct {
	records  map[string]baseline.Record
	writes   int
	readErr  error
	writeErr error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]baseline.Record{}}
}

func (m *memStore) Read(_ context.Context, name string) (baseline.Record, error) {
	if m.readErr != nil {
		return baseline.Record{}, m.readErr
	}
	rec, ok := m.records[name]
	if !ok {
		return baseline.Record{}, baseline.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) Write(_ context.Context, name string, millis float64) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.records[name] = baseline.Record{Millis: millis, UpdatedAt: time.Now()}
	return nil
}

func (m *memStore) Delete(_ context.Context, name string) error {
	if _, ok := m.records[name]; !ok {
		return baseline.ErrNotFound
	}
	delete(m.records, name)
	return nil
}

func (m *memStore) EnsureNamespace(context.Context) error  { return nil }
func (m *memStore) DestroyNamespace(context.Context) error { return nil }
func (m *memStore) Close() error                           { return nil }

// fakeClock drives a Timer deterministically.
type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time          { return c.current }
func (c *fakeClock) advance(d time.Duration) { c.current = c.current.Add(d) }

// sleepRecorder captures every sleep instead of blocking.
type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) { s.slept = append(s.slept, d) }

func (s *sleepRecorder) total() time.Duration {
	var sum time.Duration
	for _, d := range s.slept {
		sum += d
	}
	return sum
}

// newTestTimer wires a Timer to a fake clock, a sleep recorder, and the
// given store, mirroring what Normalizer.NewTimer produces.
func newTestTimer(store baseline.Store, clock *fakeClock, rec *sleepRecorder) *Timer {
	n := &Normalizer{Store: store, Logger: slog.Default()}
	t := n.NewTimer()
	t.now = clock.now
	t.sleep = rec.sleep
	return t
}

func testClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func TestTimerAccumulation(t *testing.T) {
	t.Parallel()

	t.Run("single interval", func(t *testing.T) {
		clock := testClock()
		timer := newTestTimer(newMemStore(), clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(42 * time.Millisecond)
		timer.Stop()

		require.Equal(t, 42*time.Millisecond, timer.Elapsed())
	})

	t.Run("accumulates across start stop cycles", func(t *testing.T) {
		clock := testClock()
		timer := newTestTimer(newMemStore(), clock, &sleepRecorder{})

		intervals := []time.Duration{
			10 * time.Millisecond,
			25 * time.Millisecond,
			7 * time.Millisecond,
		}
		for _, iv := range intervals {
			timer.Start("")
			clock.advance(iv)
			timer.Stop()
			// Unmeasured time between phases must not count.
			clock.advance(time.Second)
		}

		require.Equal(t, 42*time.Millisecond, timer.Elapsed())
	})

	t.Run("elapsed includes open interval", func(t *testing.T) {
		clock := testClock()
		timer := newTestTimer(newMemStore(), clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(15 * time.Millisecond)

		require.Equal(t, 15*time.Millisecond, timer.Elapsed())
	})

	t.Run("double start keeps original interval", func(t *testing.T) {
		clock := testClock()
		timer := newTestTimer(newMemStore(), clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(10 * time.Millisecond)
		timer.Start("") // no-op, interval already open
		clock.advance(10 * time.Millisecond)
		timer.Stop()

		require.Equal(t, 20*time.Millisecond, timer.Elapsed())
	})

	t.Run("double stop adds nothing", func(t *testing.T) {
		clock := testClock()
		timer := newTestTimer(newMemStore(), clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(10 * time.Millisecond)
		timer.Stop()
		clock.advance(10 * time.Millisecond)
		timer.Stop()

		require.Equal(t, 10*time.Millisecond, timer.Elapsed())
	})

	t.Run("stop before any start is harmless", func(t *testing.T) {
		clock := testClock()
		timer := newTestTimer(newMemStore(), clock, &sleepRecorder{})

		timer.Stop()
		require.Equal(t, time.Duration(0), timer.Elapsed())
	})
}

func TestTimerName(t *testing.T) {
	t.Parallel()

	t.Run("defaults to login", func(t *testing.T) {
		timer := newTestTimer(newMemStore(), testClock(), &sleepRecorder{})
		timer.Start("")
		require.Equal(t, DefaultName, timer.Name())
	})

	t.Run("first start may override", func(t *testing.T) {
		timer := newTestTimer(newMemStore(), testClock(), &sleepRecorder{})
		timer.Start("admin-login")
		require.Equal(t, "admin-login", timer.Name())
	})

	t.Run("stop before first start does not burn the override", func(t *testing.T) {
		timer := newTestTimer(newMemStore(), testClock(), &sleepRecorder{})

		timer.Stop() // harmless pre-start stop
		timer.Start("admin-login")

		require.Equal(t, "admin-login", timer.Name())
	})

	t.Run("later starts cannot rename", func(t *testing.T) {
		clock := testClock()
		timer := newTestTimer(newMemStore(), clock, &sleepRecorder{})

		timer.Start("admin-login")
		timer.Stop()
		timer.Start("other")

		require.Equal(t, "admin-login", timer.Name())
	})
}

func TestSave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("persists measured duration", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(42 * time.Millisecond)
		timer.Save(ctx)

		rec, err := store.Read(ctx, DefaultName)
		require.NoError(t, err)
		require.Equal(t, float64(42), rec.Millis)
	})

	t.Run("implicitly stops open interval", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(30 * time.Millisecond)
		timer.Save(ctx) // no explicit Stop

		rec, err := store.Read(ctx, DefaultName)
		require.NoError(t, err)
		require.Equal(t, float64(30), rec.Millis)
	})

	t.Run("is one shot", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(42 * time.Millisecond)
		timer.Save(ctx)
		timer.Save(ctx)

		require.Equal(t, 1, store.writes)
	})

	t.Run("skips sub millisecond measurements", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(500 * time.Microsecond)
		timer.Save(ctx)

		require.Zero(t, store.writes)
	})

	t.Run("skips when no name set", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		timer := newTestTimer(store, clock, &sleepRecorder{})
		timer.name = ""

		timer.Start("")
		clock.advance(42 * time.Millisecond)
		timer.Save(ctx)

		require.Zero(t, store.writes)
	})

	t.Run("throttles recent baselines", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		store.records[DefaultName] = baseline.Record{
			Millis:    40,
			UpdatedAt: clock.now().Add(-30 * time.Minute),
		}
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(42 * time.Millisecond)
		timer.Save(ctx)

		require.Zero(t, store.writes)
		rec, err := store.Read(ctx, DefaultName)
		require.NoError(t, err)
		require.Equal(t, float64(40), rec.Millis, "stored value must be unchanged")
	})

	t.Run("accepts baselines older than the throttle window", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		store.records[DefaultName] = baseline.Record{
			Millis:    40,
			UpdatedAt: clock.now().Add(-2 * time.Hour),
		}
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(55 * time.Millisecond)
		timer.Save(ctx)

		require.Equal(t, 1, store.writes)
		rec, err := store.Read(ctx, DefaultName)
		require.NoError(t, err)
		require.Equal(t, float64(55), rec.Millis)
	})

	t.Run("clamps to max time", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(1500 * time.Millisecond)
		timer.Save(ctx)

		rec, err := store.Read(ctx, DefaultName)
		require.NoError(t, err)
		require.Equal(t, float64(1000), rec.Millis)
	})

	t.Run("swallows write failures", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		store.writeErr = errors.New("disk full")
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(42 * time.Millisecond)

		require.NotPanics(t, func() { timer.Save(ctx) })
	})

	t.Run("writes despite read failures", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		store.readErr = errors.New("io error")
		timer := newTestTimer(store, clock, &sleepRecorder{})

		timer.Start("")
		clock.advance(42 * time.Millisecond)
		timer.Save(ctx)

		require.Equal(t, 1, store.writes)
	})
}

func TestApply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	seed := func(store *memStore, millis float64) {
		store.records[DefaultName] = baseline.Record{Millis: millis, UpdatedAt: time.Now()}
	}

	t.Run("sleeps for baseline minus elapsed", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 42)
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Start("")
		clock.advance(5 * time.Millisecond)
		timer.Apply(ctx)

		require.Equal(t, 37*time.Millisecond, rec.total())
	})

	t.Run("is one shot", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 42)
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Start("")
		clock.advance(5 * time.Millisecond)
		timer.Apply(ctx)
		timer.Apply(ctx)

		require.Len(t, rec.slept, 1)
	})

	t.Run("no baseline means no sleep", func(t *testing.T) {
		clock := testClock()
		rec := &sleepRecorder{}
		timer := newTestTimer(newMemStore(), clock, rec)

		timer.Start("")
		clock.advance(5 * time.Millisecond)
		timer.Apply(ctx)

		require.Empty(t, rec.slept)
	})

	t.Run("no sleep when elapsed exceeds baseline", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 42)
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Start("")
		clock.advance(50 * time.Millisecond)
		timer.Apply(ctx)

		require.Empty(t, rec.slept)
	})

	t.Run("near zero delay is skipped", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 42)
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Start("")
		clock.advance(41500 * time.Microsecond) // delay would be 0.5ms
		timer.Apply(ctx)

		require.Empty(t, rec.slept)
	})

	t.Run("clamps inflated baselines to max time", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 5000) // poisoned or stale record beyond the cap
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Start("")
		clock.advance(100 * time.Millisecond)
		timer.Apply(ctx)

		require.Equal(t, 900*time.Millisecond, rec.total())
	})

	t.Run("implicitly stops open interval", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 42)
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Start("")
		clock.advance(12 * time.Millisecond)
		timer.Apply(ctx) // no explicit Stop

		require.Equal(t, 30*time.Millisecond, rec.total())
	})

	t.Run("read failure degrades to no delay", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 42)
		store.readErr = errors.New("io error")
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Start("")
		clock.advance(5 * time.Millisecond)
		timer.Apply(ctx)

		require.Empty(t, rec.slept)
	})

	t.Run("apply without any measurement sleeps full baseline", func(t *testing.T) {
		clock := testClock()
		store := newMemStore()
		seed(store, 42)
		rec := &sleepRecorder{}
		timer := newTestTimer(store, clock, rec)

		timer.Apply(ctx)

		require.Equal(t, 42*time.Millisecond, rec.total())
	})
}

func TestSaveThenApplyScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// A successful login teaches a 42ms baseline; a later failed login that
	// only spent 5ms gets padded by the remaining 37ms.
	clock := testClock()
	store := newMemStore()

	success := newTestTimer(store, clock, &sleepRecorder{})
	success.Start("")
	clock.advance(42 * time.Millisecond)
	success.Save(ctx)

	rec := &sleepRecorder{}
	failure := newTestTimer(store, clock, rec)
	failure.Start("")
	clock.advance(5 * time.Millisecond)
	failure.Apply(ctx)

	require.Equal(t, 37*time.Millisecond, rec.total())
}

func TestNormalizerDefaults(t *testing.T) {
	t.Parallel()

	n := &Normalizer{Store: newMemStore()}
	timer := n.NewTimer()

	require.Equal(t, DefaultMaxTime, timer.maxTime)
	require.Equal(t, DefaultThrottle, timer.throttle)
	require.Equal(t, DefaultName, timer.name)
	require.NotNil(t, timer.log)
}
