package seda

import (
	"math"
	"sync"
	"time"
)

type tuningAction int

const (
	actionNone tuningAction = iota
	actionGrow
	actionShrink
	actionDrop
)

func (a tuningAction) String() string {
	switch a {
	case actionGrow:
		return "grow"
	case actionShrink:
		return "shrink"
	case actionDrop:
		return "drop"
	default:
		return "none"
	}
}

// tuningState is the bookkeeping of the tuning ticks of a stage.
type tuningState struct {
	mux sync.Mutex

	lastAdjustTime time.Time
	lastQueueSize  int

	// processRate is the smoothed number of messages
	// processed per worker per second, 0 until measured
	processRate float64

	quietTicks int
	idleTicks  int
	lastAction tuningAction
}

func (t *tuningState) updateProcessRate(handled int64, busy time.Duration, pool int, seconds, smoothing float64) {
	if handled <= 0 {
		return
	}

	var sample float64
	switch {
	case busy > 0:
		sample = float64(handled) / busy.Seconds()

	case pool > 0 && t.lastQueueSize >= pool:
		// Every worker had work for the whole interval
		sample = float64(handled) / (float64(pool) * seconds)

	default:
		return
	}

	if t.processRate == 0 {
		t.processRate = sample
		return
	}

	t.processRate = smoothing*sample + (1-smoothing)*t.processRate
}

// pressure returns how many workers are missing (positive)
// or exceeding (negative) to keep up with the input rate.
func (t *tuningState) pressure(inputRate float64, queueSize, pool int) float64 {
	if t.processRate > 0 {
		return inputRate/t.processRate - float64(pool)
	}

	// Nothing measured yet: a growing backlog is pressure
	if inputRate > 0 && queueSize > 0 {
		return 1
	}

	return -float64(pool)
}

// AdjustThreadPool runs one tuning tick and returns the pool size.
//
// A call within the minimum adjust interval of the previous tick, or on a
// stage that is not running, does nothing. Otherwise the tick measures the
// input and process rates and takes at most one action: it drops messages
// when the pool is at its ceiling and the backlog is beyond the drop
// threshold, adds a worker under sustained pressure, or removes one after
// consecutive quiet ticks. The error of a reject handler called while
// dropping is returned.
func (s *Stage) AdjustThreadPool() (int, error) {
	toDrop, queueSize := s.tune()
	if toDrop == 0 {
		return s.PoolSize(), nil
	}

	// The reject handler runs without the tuning lock held
	dropped, err := s.DropMessage(toDrop)

	s.tel.LogInfo("too many messages, dropped some", "dropped", dropped, "backlog", queueSize)

	t := &s.tuning
	t.mux.Lock()
	defer t.mux.Unlock()

	t.lastQueueSize = max(t.lastQueueSize-dropped, 0)

	if err != nil {
		return s.PoolSize(), err
	}

	s.tryTerminate()

	return s.PoolSize(), nil
}

// tune runs the measuring and resizing part of a tuning tick under the
// tuning lock. It returns how many messages must be dropped and the
// backlog size it has seen.
func (s *Stage) tune() (int, int) {
	t := &s.tuning

	t.mux.Lock()
	defer t.mux.Unlock()

	now := s.clock.Now()
	elapsed := now.Sub(t.lastAdjustTime)
	if elapsed < s.cfg.MinAdjustInterval || s.Status() != StatusRunning {
		return 0, 0
	}
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	handled := s.exeCnt.Swap(0)
	busy := time.Duration(s.exeTime.Swap(0)) * time.Microsecond
	t.lastAdjustTime = now

	pool := s.PoolSize()
	queueSize := s.backlog.Len()
	seconds := elapsed.Seconds()

	t.updateProcessRate(handled, busy, pool, seconds, s.cfg.RateSmoothing)

	inputRate := float64(queueSize+int(handled)-t.lastQueueSize) / seconds
	t.lastQueueSize = queueSize

	if queueSize == 0 {
		t.idleTicks++
	} else {
		t.idleTicks = 0
	}

	tolerable := t.processRate * s.cfg.MaxTolerableDelay.Seconds() * float64(pool)
	pressure := t.pressure(inputRate, queueSize, pool)

	s.tel.LogDebug("tuning tick",
		"input_rate", inputRate,
		"process_rate", t.processRate,
		"pressure", pressure,
		"workers", pool,
		"backlog", queueSize,
	)

	t.lastAction = actionNone

	// Growth is exhausted, relieve the backlog
	if pool >= s.cfg.MaxWorkers {
		if threshold, ok := s.dropThreshold(tolerable); ok && queueSize > threshold {
			t.lastAction = actionDrop
			t.quietTicks = 0

			return queueSize - threshold/2, queueSize
		}
	}

	switch {
	case pressure > s.cfg.GrowThreshold || (pressure > 0 && float64(queueSize) > tolerable):
		t.quietTicks = 0

		if s.addThread() {
			t.lastAction = actionGrow
			s.tel.LogInfo("worker added", "workers", s.PoolSize(), "pressure", pressure)
		}

	case pressure < -s.cfg.ShrinkThreshold && float64(queueSize) <= tolerable:
		t.quietTicks++

		if t.quietTicks < s.cfg.QuietTicks || pool <= s.cfg.MinWorkers {
			break
		}

		if s.subtractThread() {
			t.lastAction = actionShrink
			s.tel.LogInfo("worker removed", "workers", s.PoolSize(), "pressure", pressure)
		}

		s.tryTerminate()

	default:
		// Within the hysteresis band
		t.quietTicks = 0
	}

	return 0, queueSize
}

// dropThreshold returns the backlog size above which messages are dropped.
func (s *Stage) dropThreshold(tolerable float64) (int, bool) {
	threshold := math.Inf(1)

	if tolerable > 0 {
		threshold = s.cfg.DropCoefficient * tolerable
	}
	if s.cfg.MaxBacklog > 0 {
		threshold = min(threshold, float64(s.cfg.MaxBacklog))
	}

	if math.IsInf(threshold, 1) {
		return 0, false
	}

	return int(threshold), true
}

// tryTerminate retires every worker above the floor once
// the backlog has been empty for enough consecutive ticks.
// It must be called with the tuning lock held.
func (s *Stage) tryTerminate() {
	if s.tuning.idleTicks < s.cfg.IdleTicks || s.backlog.Len() > 0 {
		return
	}

	retired := 0
	for s.PoolSize() > s.cfg.MinWorkers && s.subtractThread() {
		retired++
	}

	if retired > 0 {
		s.tel.LogInfo("idle workers retired", "retired", retired, "workers", s.PoolSize())
	}
}
