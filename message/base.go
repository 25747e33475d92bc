package message

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

var _ Traceable = (*Base)(nil)

// Base can be embedded by message types to get a tag,
// a timestamp and a trace span context.
type Base struct {
	tag       int
	timestamp time.Time
	span      trace.SpanContext
}

// NewBase returns a [Base] with the given tag and timestamp.
func NewBase(tag int, timestamp time.Time) Base {
	return Base{
		tag:       tag,
		timestamp: timestamp,
	}
}

// Tag returns the tag of the message.
func (b *Base) Tag() int {
	return b.tag
}

// GetTimestamp returns the timestamp of the message.
func (b *Base) GetTimestamp() time.Time {
	return b.timestamp
}

// SaveSpan saves the trace span for the message.
func (b *Base) SaveSpan(span trace.Span) {
	b.span = span.SpanContext()
}

// LoadSpanContext loads the trace of the message
// into the provided context.
func (b *Base) LoadSpanContext(ctx context.Context) context.Context {
	if !b.span.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, b.span)
}
