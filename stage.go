package seda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squadracorsepolito/seda/connector"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/message"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status is the lifecycle state of a [Stage].
// It only moves forward.
type Status int32

const (
	StatusStarting Status = iota
	StatusRunning
	StatusShuttingDown
	StatusShutDown
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusShuttingDown:
		return "shutting_down"
	case StatusShutDown:
		return "shut_down"
	default:
		return "unknown"
	}
}

// Processor is the business logic of a stage.
//
// Process may hand derived messages to other stages through the dispatcher.
// A returned error, or a panic, is reported as a [message.RejectProcessError]
// and does not stop the worker.
type Processor interface {
	Process(ctx context.Context, msg message.Message, d *Dispatcher) error
}

// ProcessorFunc adapts a function to the [Processor] interface.
type ProcessorFunc func(ctx context.Context, msg message.Message, d *Dispatcher) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, msg message.Message, d *Dispatcher) error {
	return f(ctx, msg, d)
}

// Constructor is implemented by processors that need to resolve
// sibling stages once every stage has been registered.
// It is called by [Dispatcher.Construction].
type Constructor interface {
	Construct(d *Dispatcher) error
}

// RejectHandler handles the rejected messages of a stage.
// A returned error is propagated to the caller that caused the rejection.
type RejectHandler func(typ message.RejectType, info any, msg message.Message) error

// StageOption configures a [Stage].
type StageOption func(*Stage)

// WithBacklog sets the backlog of the stage.
// The default is an unbounded [connector.Queue].
func WithBacklog(backlog connector.Backlog[message.Message]) StageOption {
	return func(s *Stage) { s.backlog = backlog }
}

// WithRejectHandler replaces the default reject handler,
// which logs the rejection and forwards it to the dead-letter stage.
func WithRejectHandler(handler RejectHandler) StageOption {
	return func(s *Stage) { s.rejectHandler = handler }
}

// WithStageClock sets the clock used for tuning and timing.
func WithStageClock(clock clockz.Clock) StageOption {
	return func(s *Stage) { s.clock = clock }
}

// Stage is a named pipeline step owning a backlog
// and a pool of workers sized between a floor and a ceiling.
type Stage struct {
	tel *internal.Telemetry

	name       string
	cfg        *StageConfig
	processor  Processor
	dispatcher *Dispatcher

	backlog       connector.Backlog[message.Message]
	rejectHandler RejectHandler
	clock         clockz.Clock

	ctx    context.Context
	cancel context.CancelFunc

	status atomic.Int32

	poolMux         sync.Mutex
	workers         []*worker
	nextWorkerID    int
	currentPoolSize atomic.Int32
	workerWg        sync.WaitGroup

	// Completed messages and their busy time (µs) since the last tuning tick
	exeCnt  atomic.Int64
	exeTime atomic.Int64

	tuning tuningState

	// Telemetry metrics
	processedMessages metric.Int64Counter
	processingErrors  metric.Int64Counter
	rejectedMessages  metric.Int64Counter
	droppedMessages   metric.Int64Counter
	processingTime    metric.Int64Histogram
}

// NewStage creates and starts a stage running the given processor.
// The stage is registered with the dispatcher, if not nil.
// A nil configuration means [DefaultStageConfig].
func NewStage(name string, processor Processor, d *Dispatcher, cfg *StageConfig, opts ...StageOption) (*Stage, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty stage name", ErrInvalidConfig)
	}
	if processor == nil {
		return nil, fmt.Errorf("%w: nil processor for stage %q", ErrInvalidConfig, name)
	}

	if cfg == nil {
		cfg = DefaultStageConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("stage %q: %w", name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Stage{
		tel: internal.NewTelemetry("stage", name),

		name:       name,
		cfg:        cfg,
		processor:  processor,
		dispatcher: d,

		clock: clockz.RealClock,

		ctx:    ctx,
		cancel: cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.backlog == nil {
		s.backlog = connector.NewQueue[message.Message]()
	}
	if s.rejectHandler == nil {
		s.rejectHandler = s.defaultReject
	}

	s.initMetrics()
	s.startPool()

	if d != nil {
		d.Register(s)
	}

	return s, nil
}

func (s *Stage) initMetrics() {
	s.processedMessages = s.tel.NewCounter("processed_messages")
	s.processingErrors = s.tel.NewCounter("processing_errors")
	s.rejectedMessages = s.tel.NewCounter("rejected_messages")
	s.droppedMessages = s.tel.NewCounter("dropped_messages")
	s.processingTime = s.tel.NewHistogram("processing_time", metric.WithUnit("us"))

	s.tel.NewGauge("pool_size", func() int64 { return int64(s.PoolSize()) })
	s.tel.NewGauge("backlog_size", func() int64 { return int64(s.BacklogSize()) })
}

func (s *Stage) startPool() {
	s.status.Store(int32(StatusStarting))

	s.poolMux.Lock()
	for range s.cfg.initialWorkers() {
		s.spawnWorker()
	}
	s.poolMux.Unlock()

	s.tuning.lastAdjustTime = s.clock.Now()

	s.status.Store(int32(StatusRunning))

	s.tel.LogInfo("started", "workers", s.PoolSize())
}

// spawnWorker must be called with the pool mutex held.
func (s *Stage) spawnWorker() {
	w := newWorker(s, s.nextWorkerID)
	s.nextWorkerID++

	s.workers = append(s.workers, w)
	s.currentPoolSize.Add(1)

	s.workerWg.Add(1)
	go w.run()
}

// addThread adds one worker unless the pool is at its ceiling
// or the stage is not running.
func (s *Stage) addThread() bool {
	s.poolMux.Lock()
	defer s.poolMux.Unlock()

	if s.Status() != StatusRunning || s.PoolSize() >= s.cfg.MaxWorkers {
		return false
	}

	s.spawnWorker()

	return true
}

// subtractThread stops one worker unless the pool is at its floor.
func (s *Stage) subtractThread() bool {
	s.poolMux.Lock()
	defer s.poolMux.Unlock()

	if s.PoolSize() <= s.cfg.MinWorkers || len(s.workers) == 0 {
		s.tel.LogWarn("no worker to subtract", "workers", s.PoolSize())
		return false
	}

	last := len(s.workers) - 1
	w := s.workers[last]
	s.workers[last] = nil
	s.workers = s.workers[:last]

	s.currentPoolSize.Add(-1)

	w.stop()

	return true
}

// AddInput appends a message to the backlog without blocking.
//
// When the stage is shutting down or shut down the message is never
// enqueued: it is rejected with [message.RejectStageShutdown] and the error
// of the reject handler, if any, is returned. A message that does not fit
// a bounded backlog is rejected with [message.RejectUser].
func (s *Stage) AddInput(msg message.Message) error {
	if s.Status() >= StatusShuttingDown {
		return s.reject(message.RejectStageShutdown, s.name, msg)
	}

	err := s.backlog.Offer(msg)
	switch {
	case err == nil:
		return nil

	case errors.Is(err, connector.ErrClosed):
		return s.reject(message.RejectStageShutdown, s.name, msg)

	default:
		return s.reject(message.RejectUser, err, msg)
	}
}

// Reject reports a message through the reject handler of the stage.
// Processors can use it to explicitly drop a message.
func (s *Stage) Reject(typ message.RejectType, info any, msg message.Message) error {
	return s.reject(typ, info, msg)
}

func (s *Stage) reject(typ message.RejectType, info any, msg message.Message) error {
	s.rejectedMessages.Add(s.ctx, 1, metric.WithAttributes(attribute.String("reject_type", typ.String())))
	return s.rejectHandler(typ, info, msg)
}

// defaultReject logs the rejection and hands it to the stage registered
// under [message.RejectKind], if any.
func (s *Stage) defaultReject(typ message.RejectType, info any, msg message.Message) error {
	s.tel.LogWarn("message rejected", "reject_type", typ.String(), "info", info, "tag", msg.Tag())

	if s.dispatcher == nil || s.name == message.RejectKind {
		return nil
	}

	// A rejection of a rejection is only logged
	if _, ok := msg.(*message.Reject); ok {
		return nil
	}

	if err := s.dispatcher.DispatchTo(message.RejectKind, message.NewReject(typ, info, msg)); err != nil && !errors.Is(err, ErrStageNotFound) {
		return err
	}

	return nil
}

// DropMessage removes up to n messages from the head of the backlog
// and returns how many have been removed.
//
// A dropped [message.Reject] is reported with its own type and info,
// any other message with [message.RejectUser]. The first error returned by
// the reject handler stops the drop and is returned.
func (s *Stage) DropMessage(n int) (int, error) {
	dropped := 0
	rejectCount := 0

	defer func() {
		s.droppedMessages.Add(s.ctx, int64(dropped))

		if rejectCount > 0 {
			s.tel.LogWarn("rejections dropped, this probably means bad pipeline design", "count", rejectCount)
		}
	}()

	for dropped < n {
		msg, ok := s.backlog.Poll()
		if !ok {
			break
		}

		dropped++

		var err error
		if rej, isReject := msg.(*message.Reject); isReject {
			rejectCount++
			err = s.reject(rej.Type, rej.Info, rej.Original)
		} else {
			err = s.reject(message.RejectUser, s.name, msg)
		}

		if err != nil {
			return dropped, err
		}
	}

	return dropped, nil
}

// Shutdown stops the stage. It is safe to call it more than once.
//
// New messages are rejected with [message.RejectStageShutdown] from the
// moment it is called. The workers then drain the backlog for up to
// [StageConfig.ShutdownTimeout]. Once it expires every worker is stopped: an
// idle worker exits immediately, a busy one after finishing its current
// message with a context that is still valid. Messages left in the backlog
// are rejected with [message.RejectStageShutdown].
func (s *Stage) Shutdown() {
	if !s.status.CompareAndSwap(int32(StatusRunning), int32(StatusShuttingDown)) {
		return
	}

	s.tel.LogInfo("shutting down", "backlog", s.BacklogSize())

	// A closed backlog still hands out its items,
	// workers exit once it is empty
	s.backlog.Close()

	if !s.waitWorkers(s.cfg.ShutdownTimeout) {
		s.tel.LogWarn("backlog not drained in time", "backlog", s.BacklogSize(), "timeout", s.cfg.ShutdownTimeout)
	}

	s.poolMux.Lock()
	for _, w := range s.workers {
		w.stop()
	}
	s.workers = nil
	s.poolMux.Unlock()

	s.workerWg.Wait()

	// The processing context of the workers
	s.cancel()

	leftover := 0
	for {
		msg, ok := s.backlog.Poll()
		if !ok {
			break
		}

		leftover++

		if err := s.reject(message.RejectStageShutdown, s.name, msg); err != nil {
			s.tel.LogError("failed to reject leftover message", err, "tag", msg.Tag())
		}
	}

	s.status.Store(int32(StatusShutDown))

	s.tel.LogInfo("shut down", "leftover_messages", leftover)
}

// waitWorkers waits for every worker to exit, up to the timeout.
// It reports whether they did.
func (s *Stage) waitWorkers(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.workerWg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Name returns the name of the stage.
func (s *Stage) Name() string {
	return s.name
}

// Status returns the lifecycle state of the stage.
func (s *Stage) Status() Status {
	return Status(s.status.Load())
}

// PoolSize returns the number of pool slots. After shutdown it keeps
// reporting the size the pool had when the stage was stopped.
func (s *Stage) PoolSize() int {
	return int(s.currentPoolSize.Load())
}

// BacklogSize returns the number of messages waiting in the backlog.
func (s *Stage) BacklogSize() int {
	return s.backlog.Len()
}

// ProcessRate returns the smoothed number of messages processed
// per worker per second, or 0 if it has not been measured yet.
func (s *Stage) ProcessRate() float64 {
	s.tuning.mux.Lock()
	defer s.tuning.mux.Unlock()

	return s.tuning.processRate
}

// StageStats is a snapshot of the state of a stage.
type StageStats struct {
	Name        string
	Status      Status
	PoolSize    int
	BacklogSize int
	ProcessRate float64
	LastAction  string
	LastAdjust  time.Time
}

// Stats returns a snapshot of the state of the stage.
func (s *Stage) Stats() StageStats {
	s.tuning.mux.Lock()
	defer s.tuning.mux.Unlock()

	return StageStats{
		Name:        s.name,
		Status:      s.Status(),
		PoolSize:    s.PoolSize(),
		BacklogSize: s.BacklogSize(),
		ProcessRate: s.tuning.processRate,
		LastAction:  s.tuning.lastAction.String(),
		LastAdjust:  s.tuning.lastAdjustTime,
	}
}
