package seda

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zoobzio/clockz"
)

type mockTunable struct {
	name   string
	calls  atomic.Int32
	err    error
	panics bool
}

func (m *mockTunable) Name() string {
	return m.name
}

func (m *mockTunable) AdjustThreadPool() (int, error) {
	m.calls.Add(1)

	if m.panics {
		panic("tuning failed")
	}

	return 1, m.err
}

func Test_Adjuster_Adjust(t *testing.T) {
	assert := assert.New(t)

	adj := NewAdjuster()

	ok := &mockTunable{name: "ok"}
	failing := &mockTunable{name: "failing", err: errBoom}
	panicking := &mockTunable{name: "panicking", panics: true}
	last := &mockTunable{name: "last"}

	adj.AddStage(failing)
	adj.AddStage(ok)
	adj.AddStage(panicking)
	adj.AddStage(last)
	adj.AddStage(ok)

	assert.NotPanics(adj.Adjust)
	adj.Adjust()

	assert.Equal(int32(2), ok.calls.Load())
	assert.Equal(int32(2), failing.calls.Load())
	assert.Equal(int32(2), panicking.calls.Load())
	assert.Equal(int32(2), last.calls.Load())
}

func Test_Adjuster_AdjustInterval(t *testing.T) {
	assert := assert.New(t)

	adj := NewAdjuster()
	assert.Equal(DefaultAdjustInterval, adj.AdjustInterval())

	adj = NewAdjuster(WithAdjustInterval(100 * time.Millisecond))
	assert.Equal(100*time.Millisecond, adj.AdjustInterval())

	adj.SetAdjustInterval(0)
	assert.Equal(100*time.Millisecond, adj.AdjustInterval())

	adj.SetAdjustInterval(time.Minute)
	assert.Equal(time.Minute, adj.AdjustInterval())
}

func Test_Adjuster_StartStop(t *testing.T) {
	assert := assert.New(t)

	clock := clockz.NewFakeClock()
	adj := NewAdjuster(WithAdjusterClock(clock), WithAdjustInterval(time.Second))

	tunable := &mockTunable{name: "tunable"}
	adj.AddStage(tunable)

	assert.False(adj.IsRunning())

	adj.StartAdjust()
	adj.StartAdjust()
	assert.True(adj.IsRunning())

	// The first tick runs right away
	assert.Eventually(func() bool {
		return tunable.calls.Load() >= 1
	}, time.Second, time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for tunable.calls.Load() < 4 && time.Now().Before(deadline) {
		clock.Advance(time.Second)
		clock.BlockUntilReady()
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(tunable.calls.Load(), int32(4))

	adj.StopAdjust()
	adj.StopAdjust()
	assert.False(adj.IsRunning())

	calls := tunable.calls.Load()
	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(calls, tunable.calls.Load())
}

func Test_Adjuster_Stages(t *testing.T) {
	assert := assert.New(t)

	clock := clockz.NewFakeClock()
	cfg := DefaultStageConfig()

	s := newTestStage(t, cfg, WithBacklog(newStalledBacklog()), WithStageClock(clock))

	adj := NewAdjuster()
	adj.AddStage(s)

	offerN(t, s, 100)
	clock.Advance(cfg.MinAdjustInterval)

	adj.Adjust()
	assert.Equal(2, s.PoolSize())

	// Within the rate limit
	adj.Adjust()
	assert.Equal(2, s.PoolSize())
}
