// Package message contains the interfaces implemented by the units of work
// flowing through the stages, the rejection record and common helpers.
package message

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Message is the unit of work handled by a stage.
// A message must not be mutated once it has been dispatched.
type Message interface {
	// Tag returns an integer usable for custom routing or sharding.
	// It is 0 unless the implementation says otherwise.
	Tag() int
}

// Kinded is implemented by messages that name their own kind.
// The kind is used by the dispatcher to pick the target stage.
type Kinded interface {
	Message

	// Kind returns the name of the message kind.
	Kind() string
}

// Traceable is implemented by messages that carry a trace span
// from one stage to the next.
type Traceable interface {
	// SaveSpan saves the trace span for the message.
	SaveSpan(span trace.Span)
	// LoadSpanContext loads the trace of the message
	// into the provided context.
	LoadSpanContext(ctx context.Context) context.Context
}

// KindOf returns the kind of the message. It is the value returned by Kind
// when the message implements [Kinded], otherwise the name of its Go type.
func KindOf(msg Message) string {
	if k, ok := msg.(Kinded); ok {
		return k.Kind()
	}
	return fmt.Sprintf("%T", msg)
}

// Tagged is the simplest message: an integer tag and nothing else.
type Tagged int

// Tag returns the tag.
func (t Tagged) Tag() int {
	return int(t)
}
