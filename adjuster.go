package seda

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squadracorsepolito/seda/internal"
	"github.com/zoobzio/clockz"
)

// DefaultAdjustInterval is the default time between two adjuster ticks.
const DefaultAdjustInterval = time.Second

// Tunable is a pool that can be resized by an [Adjuster].
type Tunable interface {
	Name() string
	AdjustThreadPool() (int, error)
}

// AdjusterOption configures an [Adjuster].
type AdjusterOption func(*Adjuster)

// WithAdjusterClock sets the clock driving the ticks.
func WithAdjusterClock(clock clockz.Clock) AdjusterOption {
	return func(a *Adjuster) { a.clock = clock }
}

// WithAdjustInterval sets the time between two ticks.
func WithAdjustInterval(interval time.Duration) AdjusterOption {
	return func(a *Adjuster) {
		if interval > 0 {
			a.interval.Store(int64(interval))
		}
	}
}

// Adjuster periodically runs a tuning tick on every tunable it knows.
type Adjuster struct {
	tel *internal.Telemetry

	clock    clockz.Clock
	interval atomic.Int64

	mux       sync.Mutex
	tunables  []Tunable
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewAdjuster returns a stopped adjuster.
func NewAdjuster(opts ...AdjusterOption) *Adjuster {
	a := &Adjuster{
		tel: internal.NewTelemetry("adjuster", "adjuster"),

		clock: clockz.RealClock,
	}
	a.interval.Store(int64(DefaultAdjustInterval))

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// AddStage adds a tunable. Adding the same tunable twice has no effect.
func (a *Adjuster) AddStage(t Tunable) {
	a.mux.Lock()
	defer a.mux.Unlock()

	for _, curr := range a.tunables {
		if curr == t {
			return
		}
	}

	a.tunables = append(a.tunables, t)
}

// SetAdjustInterval changes the time between two ticks.
// It is applied from the next tick. Non positive values are ignored.
func (a *Adjuster) SetAdjustInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}

	a.interval.Store(int64(interval))
}

// AdjustInterval returns the time between two ticks.
func (a *Adjuster) AdjustInterval() time.Duration {
	return time.Duration(a.interval.Load())
}

// IsRunning reports whether the periodic ticks are active.
func (a *Adjuster) IsRunning() bool {
	a.mux.Lock()
	defer a.mux.Unlock()

	return a.isRunning
}

// StartAdjust starts the periodic ticks. It does nothing if they are already running.
func (a *Adjuster) StartAdjust() {
	a.mux.Lock()
	defer a.mux.Unlock()

	if a.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.isRunning = true

	a.wg.Add(1)
	go a.run(ctx)

	a.tel.LogInfo("started", "interval", a.AdjustInterval())
}

// StopAdjust stops the periodic ticks and waits for the running one to end.
// It does nothing if they are not running.
func (a *Adjuster) StopAdjust() {
	a.mux.Lock()
	if !a.isRunning {
		a.mux.Unlock()
		return
	}

	a.isRunning = false
	a.cancel()
	a.mux.Unlock()

	a.wg.Wait()

	a.tel.LogInfo("stopped")
}

func (a *Adjuster) run(ctx context.Context) {
	defer a.wg.Done()

	for {
		start := a.clock.Now()

		a.Adjust()

		wait := max(a.AdjustInterval()-a.clock.Since(start), 0)

		select {
		case <-ctx.Done():
			return
		case <-a.clock.After(wait):
		}
	}
}

// Adjust runs one tuning tick on every tunable.
// A failing or panicking tunable is logged and does not affect the others.
func (a *Adjuster) Adjust() {
	a.mux.Lock()
	tunables := make([]Tunable, len(a.tunables))
	copy(tunables, a.tunables)
	a.mux.Unlock()

	for _, t := range tunables {
		if err := a.adjustOne(t); err != nil {
			a.tel.LogWarn("failed to adjust", "stage", t.Name(), "error", err)
		}
	}
}

func (a *Adjuster) adjustOne(t Tunable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adjust %q: %w", t.Name(), &PanicError{Value: r})
		}
	}()

	_, err = t.AdjustThreadPool()
	return err
}
