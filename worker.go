package seda

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/squadracorsepolito/seda/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// worker runs the processor of a stage for one pool slot.
type worker struct {
	id    int
	stage *Stage

	working atomic.Bool

	// ctx interrupts the wait for the next message
	ctx    context.Context
	cancel context.CancelFunc
}

func newWorker(s *Stage, id int) *worker {
	ctx, cancel := context.WithCancel(s.ctx)

	w := &worker{
		id:    id,
		stage: s,

		ctx:    ctx,
		cancel: cancel,
	}
	w.working.Store(true)

	return w
}

func (w *worker) isWorking() bool {
	return w.working.Load()
}

// stop clears the working flag before interrupting the worker,
// so a message taken right before the interrupt is the last one.
func (w *worker) stop() {
	w.working.Store(false)
	w.cancel()
}

func (w *worker) run() {
	s := w.stage

	defer s.workerWg.Done()
	defer w.cancel()

	s.tel.LogDebug("starting worker", "worker_id", w.id)
	defer s.tel.LogDebug("stopping worker", "worker_id", w.id)

	for w.isWorking() {
		msg, err := s.backlog.Take(w.ctx)
		if err != nil {
			// Interrupted, or the backlog has been closed
			break
		}

		w.handle(msg)
	}

	w.working.Store(false)
}

func (w *worker) handle(msg message.Message) {
	s := w.stage

	// Not the worker context: stopping a worker must not abort its message.
	// The stage context is cancelled only after every worker has exited.
	ctx := s.ctx
	if traceable, ok := msg.(message.Traceable); ok {
		ctx = traceable.LoadSpanContext(ctx)
	}

	ctx, span := s.tel.NewTrace(ctx, "process message")
	defer span.End()

	span.SetAttributes(
		attribute.Int("worker_id", w.id),
		attribute.Int("message_tag", msg.Tag()),
	)

	start := s.clock.Now()
	err := w.process(ctx, msg)
	elapsed := s.clock.Since(start)

	// Failed messages are handled too
	s.exeCnt.Add(1)
	s.exeTime.Add(elapsed.Microseconds())
	s.processingTime.Record(ctx, elapsed.Microseconds())

	if err == nil {
		s.processedMessages.Add(ctx, 1)
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	s.processingErrors.Add(ctx, 1)
	s.tel.LogError("failed to process message", err, "worker_id", w.id, "tag", msg.Tag())

	if rejErr := s.reject(message.RejectProcessError, err, msg); rejErr != nil {
		s.tel.LogError("failed to reject message", rejErr, "worker_id", w.id, "tag", msg.Tag())
	}
}

func (w *worker) process(ctx context.Context, msg message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d: %w", w.id, &PanicError{Value: r})
		}
	}()

	return w.stage.processor.Process(ctx, msg, w.stage.dispatcher)
}
