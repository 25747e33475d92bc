package cannelloni

import (
	"context"
	"fmt"
	"time"

	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/can"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Payload is implemented by the messages carrying a cannelloni frame.
type Payload interface {
	message.Message

	RawData() []byte
}

type timestamped interface {
	GetTimestamp() time.Time
}

var (
	_ seda.Processor   = (*Decoder)(nil)
	_ seda.Constructor = (*Decoder)(nil)
)

// Decoder is a stage processor decoding a [Payload] into a [can.RawBatch]
// sent to the target stage.
type Decoder struct {
	tel *internal.Telemetry

	target      string
	targetStage *seda.Stage

	// Telemetry metrics
	decodedFrames metric.Int64Counter
	canMessages   metric.Int64Counter
}

// NewDecoder returns a decoder sending its batches to the target stage.
func NewDecoder(target string) *Decoder {
	tel := internal.NewTelemetry("processor", "cannelloni")

	return &Decoder{
		tel: tel,

		target: target,

		decodedFrames: tel.NewCounter("decoded_frames"),
		canMessages:   tel.NewCounter("can_messages"),
	}
}

// Construct resolves the target stage.
func (d *Decoder) Construct(disp *seda.Dispatcher) error {
	s, ok := disp.Stage(d.target)
	if !ok {
		return fmt.Errorf("%w: %q", seda.ErrStageNotFound, d.target)
	}

	d.targetStage = s

	return nil
}

// Process decodes the frame of the payload. The batch is tagged with
// the sequence number of the frame and keeps the payload timestamp.
func (d *Decoder) Process(ctx context.Context, msg message.Message, disp *seda.Dispatcher) error {
	payload, ok := msg.(Payload)
	if !ok {
		return fmt.Errorf("%w: %T", seda.ErrUnexpectedMessage, msg)
	}

	f, err := DecodeFrame(payload.RawData())
	if err != nil {
		d.tel.LogDebug("invalid frame", "size", len(payload.RawData()), "tag", msg.Tag())
		return err
	}

	timestamp := time.Now()
	if ts, ok := msg.(timestamped); ok {
		timestamp = ts.GetTimestamp()
	}

	batch := can.NewRawBatch(int(f.SequenceNumber), timestamp, len(f.Messages))
	for _, fm := range f.Messages {
		batch.Messages = append(batch.Messages, can.RawMessage{
			CANID:   fm.CANID,
			DataLen: int(fm.DataLen),
			RawData: fm.Data,
		})
	}

	d.decodedFrames.Add(ctx, 1)
	d.canMessages.Add(ctx, int64(len(batch.Messages)))

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("sequence_number", int(f.SequenceNumber)),
		attribute.Int("message_count", len(batch.Messages)),
	)
	batch.SaveSpan(span)

	if d.targetStage != nil {
		return d.targetStage.AddInput(batch)
	}

	return disp.DispatchTo(d.target, batch)
}
