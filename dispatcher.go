package seda

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/message"
)

// Dispatcher is the registry of the stages of a pipeline.
// It routes messages to stages by name and owns the adjuster tuning them.
type Dispatcher struct {
	tel *internal.Telemetry

	mux    sync.RWMutex
	stages map[string]*Stage

	adjusterOpts []AdjusterOption
	adjuster     *Adjuster

	shutdownOnce sync.Once
}

// NewDispatcher returns an empty dispatcher.
// The options are applied to the adjuster created by [Dispatcher.StartAdjust].
func NewDispatcher(adjusterOpts ...AdjusterOption) *Dispatcher {
	return &Dispatcher{
		tel: internal.NewTelemetry("dispatcher", "dispatcher"),

		stages: make(map[string]*Stage),

		adjusterOpts: adjusterOpts,
	}
}

// Register adds the stage under its name and returns the stage it replaced, if any.
// A running adjuster starts tuning the stage from its next tick.
func (d *Dispatcher) Register(s *Stage) *Stage {
	d.mux.Lock()
	prev := d.stages[s.Name()]
	d.stages[s.Name()] = s
	adj := d.adjuster
	d.mux.Unlock()

	if prev != nil && prev != s {
		d.tel.LogWarn("stage replaced", "stage", s.Name())
	}

	if adj != nil {
		adj.AddStage(s)
	}

	return prev
}

// Stage returns the stage registered under the given name.
func (d *Dispatcher) Stage(name string) (*Stage, bool) {
	d.mux.RLock()
	defer d.mux.RUnlock()

	s, ok := d.stages[name]
	return s, ok
}

// Stages returns the registered stages sorted by name.
func (d *Dispatcher) Stages() []*Stage {
	d.mux.RLock()
	stages := make([]*Stage, 0, len(d.stages))
	for _, s := range d.stages {
		stages = append(stages, s)
	}
	d.mux.RUnlock()

	slices.SortFunc(stages, func(a, b *Stage) int {
		return strings.Compare(a.Name(), b.Name())
	})

	return stages
}

// Construction runs the second wiring phase. Every stage whose processor
// implements [Constructor] is given the complete registry to resolve its
// references to other stages. The errors of all the constructors are joined.
func (d *Dispatcher) Construction() error {
	var errs []error

	for _, s := range d.Stages() {
		c, ok := s.processor.(Constructor)
		if !ok {
			continue
		}

		if err := c.Construct(d); err != nil {
			errs = append(errs, fmt.Errorf("stage %q: %w", s.Name(), err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		d.tel.LogError("construction failed", err)
	}

	return err
}

// Dispatch sends the message to the stage named after its kind.
// See [message.KindOf].
func (d *Dispatcher) Dispatch(msg message.Message) error {
	return d.DispatchTo(message.KindOf(msg), msg)
}

// DispatchTo sends the message to the named stage. It returns
// [ErrStageNotFound] when no stage has that name, otherwise
// the result of [Stage.AddInput].
func (d *Dispatcher) DispatchTo(name string, msg message.Message) error {
	s, ok := d.Stage(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrStageNotFound, name)
	}

	return s.AddInput(msg)
}

// StartAdjust starts tuning every registered stage with the given interval.
// The adjuster is created on the first call, later calls only change
// the interval. A non positive interval keeps the current one.
func (d *Dispatcher) StartAdjust(interval time.Duration) {
	d.mux.Lock()
	if d.adjuster == nil {
		d.adjuster = NewAdjuster(d.adjusterOpts...)
	}
	adj := d.adjuster
	d.mux.Unlock()

	if interval > 0 {
		adj.SetAdjustInterval(interval)
	}

	for _, s := range d.Stages() {
		adj.AddStage(s)
	}

	adj.StartAdjust()
}

// Adjuster returns the adjuster of the dispatcher, nil before [Dispatcher.StartAdjust].
func (d *Dispatcher) Adjuster() *Adjuster {
	d.mux.RLock()
	defer d.mux.RUnlock()

	return d.adjuster
}

// Shutdown stops the adjuster and shuts every stage down.
// It is safe to call it more than once.
func (d *Dispatcher) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.tel.LogInfo("shutting down")

		if adj := d.Adjuster(); adj != nil {
			adj.StopAdjust()
		}

		for _, s := range d.Stages() {
			s.Shutdown()
		}

		d.tel.LogInfo("shut down")
	})
}

// Clear empties the registry. The stages are not shut down.
func (d *Dispatcher) Clear() {
	d.mux.Lock()
	defer d.mux.Unlock()

	clear(d.stages)
}
