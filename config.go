package seda

import (
	"fmt"
	"time"
)

// StageConfig is the configuration of a [Stage] and of its tuning algorithm.
type StageConfig struct {
	// InitialWorkers is the number of workers started with the stage.
	// It is clamped between MinWorkers and MaxWorkers.
	InitialWorkers int
	// MinWorkers is the floor of the pool.
	MinWorkers int
	// MaxWorkers is the ceiling of the pool.
	MaxWorkers int

	// MinAdjustInterval is the minimum time between two tuning ticks.
	MinAdjustInterval time.Duration
	// MaxTolerableDelay is the time a message is expected to wait at most
	// in the backlog. Together with the measured process rate it defines
	// the tolerable backlog size.
	MaxTolerableDelay time.Duration
	// MaxBacklog is a hard cap of the backlog enforced by dropping messages
	// once the pool is at its ceiling. Zero means no cap.
	MaxBacklog int
	// DropCoefficient is the multiple of the tolerable backlog above which
	// messages are dropped once the pool is at its ceiling.
	DropCoefficient float64

	// GrowThreshold is the pressure above which a worker is added.
	GrowThreshold float64
	// ShrinkThreshold is the negated pressure below which a tick is quiet.
	ShrinkThreshold float64
	// QuietTicks is the number of consecutive quiet ticks needed to remove a worker.
	QuietTicks int
	// IdleTicks is the number of consecutive ticks with an empty backlog
	// after which every worker above the floor is retired.
	IdleTicks int
	// RateSmoothing is the weight of the last sample in the process rate average.
	RateSmoothing float64

	// ShutdownTimeout bounds the time the workers spend draining the backlog
	// on shutdown. It is measured on the wall clock. Zero skips the drain.
	ShutdownTimeout time.Duration
}

// DefaultStageConfig returns the default [StageConfig].
func DefaultStageConfig() *StageConfig {
	return &StageConfig{
		InitialWorkers: 1,
		MinWorkers:     1,
		MaxWorkers:     100,

		MinAdjustInterval: time.Second,
		MaxTolerableDelay: time.Second,
		MaxBacklog:        0,
		DropCoefficient:   2,

		GrowThreshold:   0.6,
		ShrinkThreshold: 0.8,
		QuietTicks:      2,
		IdleTicks:       3,
		RateSmoothing:   0.5,

		ShutdownTimeout: 5 * time.Second,
	}
}

func (cfg *StageConfig) validate() error {
	switch {
	case cfg.MinWorkers < 0:
		return fmt.Errorf("%w: negative min workers %d", ErrInvalidConfig, cfg.MinWorkers)
	case cfg.MaxWorkers < 1:
		return fmt.Errorf("%w: max workers %d must be at least 1", ErrInvalidConfig, cfg.MaxWorkers)
	case cfg.MinWorkers > cfg.MaxWorkers:
		return fmt.Errorf("%w: min workers %d greater than max workers %d", ErrInvalidConfig, cfg.MinWorkers, cfg.MaxWorkers)
	case cfg.MaxTolerableDelay <= 0:
		return fmt.Errorf("%w: max tolerable delay must be positive", ErrInvalidConfig)
	case cfg.MaxBacklog < 0:
		return fmt.Errorf("%w: negative max backlog %d", ErrInvalidConfig, cfg.MaxBacklog)
	case cfg.DropCoefficient < 1:
		return fmt.Errorf("%w: drop coefficient %v must be at least 1", ErrInvalidConfig, cfg.DropCoefficient)
	case cfg.GrowThreshold < 0 || cfg.ShrinkThreshold < 0:
		return fmt.Errorf("%w: negative thresholds", ErrInvalidConfig)
	case cfg.RateSmoothing <= 0 || cfg.RateSmoothing > 1:
		return fmt.Errorf("%w: rate smoothing %v must be in (0, 1]", ErrInvalidConfig, cfg.RateSmoothing)
	case cfg.ShutdownTimeout < 0:
		return fmt.Errorf("%w: negative shutdown timeout", ErrInvalidConfig)
	}

	return nil
}

func (cfg *StageConfig) initialWorkers() int {
	return min(max(cfg.InitialWorkers, cfg.MinWorkers), cfg.MaxWorkers)
}
