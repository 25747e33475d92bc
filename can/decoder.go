package can

import (
	"context"
	"fmt"

	"github.com/squadracorsepolito/acmelib"
	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ seda.Processor   = (*Decoder)(nil)
	_ seda.Constructor = (*Decoder)(nil)
)

// Decoder is a stage processor decoding a [RawBatch] into a [SignalBatch]
// with the signal layouts of a set of acmelib messages.
// The signal batch is sent to the target stage.
type Decoder struct {
	tel *internal.Telemetry

	layouts map[uint32]func([]byte) []*acmelib.SignalDecoding

	target      string
	targetStage *seda.Stage

	// Telemetry metrics
	decodedSignals  metric.Int64Counter
	unknownMessages metric.Int64Counter
}

// NewDecoder returns a decoder for the given messages.
func NewDecoder(messages []*acmelib.Message, target string) *Decoder {
	layouts := make(map[uint32]func([]byte) []*acmelib.SignalDecoding, len(messages))
	for _, msg := range messages {
		layouts[uint32(msg.GetCANID())] = msg.SignalLayout().Decode
	}

	tel := internal.NewTelemetry("processor", "can")

	return &Decoder{
		tel: tel,

		layouts: layouts,

		target: target,

		decodedSignals:  tel.NewCounter("decoded_signals"),
		unknownMessages: tel.NewCounter("unknown_messages"),
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

// Process decodes a [RawBatch]. Batches without known messages are discarded.
func (d *Decoder) Process(ctx context.Context, msg message.Message, disp *seda.Dispatcher) error {
	raw, ok := msg.(*RawBatch)
	if !ok {
		return fmt.Errorf("%w: %T", seda.ErrUnexpectedMessage, msg)
	}

	batch := d.Decode(ctx, raw)
	if len(batch.Signals) == 0 {
		return nil
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("signal_count", len(batch.Signals)))
	batch.SaveSpan(span)

	if d.targetStage != nil {
		return d.targetStage.AddInput(batch)
	}

	return disp.DispatchTo(d.target, batch)
}

// Decode returns the signals of the known messages of the batch.
func (d *Decoder) Decode(ctx context.Context, raw *RawBatch) *SignalBatch {
	batch := newSignalBatch(raw.Tag(), raw.GetTimestamp())

	unknown := 0
	for _, rawMsg := range raw.Messages {
		decode, ok := d.layouts[rawMsg.CANID]
		if !ok {
			unknown++
			continue
		}

		for _, dec := range decode(rawMsg.RawData) {
			batch.Signals = append(batch.Signals, newSignal(rawMsg.CANID, dec))
		}
	}

	d.decodedSignals.Add(ctx, int64(len(batch.Signals)))

	if unknown > 0 {
		d.unknownMessages.Add(ctx, int64(unknown))
		d.tel.LogDebug("unknown CAN messages", "count", unknown, "tag", raw.Tag())
	}

	return batch
}

func newSignal(canID uint32, dec *acmelib.SignalDecoding) Signal {
	sig := Signal{
		CANID:    canID,
		Name:     dec.Signal.Name(),
		RawValue: int64(dec.RawValue),
	}

	switch dec.ValueType {
	case acmelib.SignalValueTypeFlag:
		sig.Type = ValueTypeFlag
		sig.ValueFlag = dec.ValueAsFlag()

	case acmelib.SignalValueTypeInt:
		sig.Type = ValueTypeInt
		sig.ValueInt = dec.ValueAsInt()

	case acmelib.SignalValueTypeUint:
		sig.Type = ValueTypeInt
		sig.ValueInt = int64(dec.ValueAsUint())

	case acmelib.SignalValueTypeFloat:
		sig.Type = ValueTypeFloat
		sig.ValueFloat = dec.ValueAsFloat()

	case acmelib.SignalValueTypeEnum:
		sig.Type = ValueTypeEnum
		sig.ValueEnum = dec.ValueAsEnum()
	}

	return sig
}
