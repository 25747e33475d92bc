package message

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

type frame struct {
	Base
}

func (f *frame) Kind() string {
	return "frame"
}

func Test_KindOf(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("frame", KindOf(&frame{}))
	assert.Equal(RejectKind, KindOf(NewReject(RejectUser, nil, Tagged(1))))
	assert.Equal("message.Tagged", KindOf(Tagged(1)))
}

func Test_Reject_Tag(t *testing.T) {
	assert := assert.New(t)

	rej := NewReject(RejectProcessError, "failed", Tagged(42))
	assert.Equal(42, rej.Tag())
	assert.Equal(RejectProcessError, rej.Type)
	assert.Equal("failed", rej.Info)

	assert.Equal(0, NewReject(RejectUser, nil, nil).Tag())
}

func Test_RejectType_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("stage_shutdown", RejectStageShutdown.String())
	assert.Equal("process_error", RejectProcessError.String())
	assert.Equal("user_reject", RejectUser.String())
	assert.Equal("unknown", RejectType(99).String())
}

func Test_Base(t *testing.T) {
	assert := assert.New(t)

	now := time.Now()
	f := &frame{Base: NewBase(7, now)}

	assert.Equal(7, f.Tag())
	assert.Equal(now, f.GetTimestamp())

	// Without a saved span the context is returned as is
	ctx := context.Background()
	assert.Equal(ctx, f.LoadSpanContext(ctx))

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	f.SaveSpan(trace.SpanFromContext(trace.ContextWithSpanContext(ctx, spanCtx)))

	loaded := trace.SpanContextFromContext(f.LoadSpanContext(ctx))
	assert.Equal(spanCtx.TraceID(), loaded.TraceID())
}
