// Package kafka contains a stage processor publishing decoded CAN signals
// to a kafka topic, one JSON record per signal batch.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/can"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config is the configuration of a [Publisher].
type Config struct {
	// The list of broker addresses used to connect to the kafka cluster.
	Brokers []string
	Topic   string

	// Limit on how many records are buffered before being sent to a partition.
	BatchSize int
	// Time limit on how often incomplete batches are flushed.
	BatchTimeout time.Duration

	// Async makes the writes never block, write errors are then only logged
	// by the kafka writer.
	Async bool
}

func NewDefaultConfig() *Config {
	return &Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "can_signals",
		BatchSize:    100,
		BatchTimeout: time.Second,
		Async:        true,
	}
}

var _ seda.Processor = (*Publisher)(nil)

// Publisher is a stage processor publishing every [can.SignalBatch] it receives.
// The kafka writer is safe for concurrent use, so it is shared by all the workers.
type Publisher struct {
	tel *internal.Telemetry

	topic  string
	writer *kafkago.Writer

	// Telemetry metrics
	publishedRecords metric.Int64Counter
	publishedBytes   metric.Int64Counter
}

// NewPublisher returns a publisher for the configured cluster.
// No connection is opened until the first record is written.
func NewPublisher(cfg *Config) *Publisher {
	tel := internal.NewTelemetry("processor", "kafka")

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafkago.RequireOne,
		Async:                  cfg.Async,
		Compression:            kafkago.Snappy,
		AllowAutoTopicCreation: true,
	}

	if cfg.Async {
		writer.Completion = func(messages []kafkago.Message, err error) {
			if err != nil {
				tel.LogError("failed to deliver records", err, "count", len(messages))
			}
		}
	}

	return &Publisher{
		tel: tel,

		topic:  cfg.Topic,
		writer: writer,

		publishedRecords: tel.NewCounter("published_records"),
		publishedBytes:   tel.NewCounter("published_bytes"),
	}
}

// Process publishes a signal batch keyed by its sequence number.
func (p *Publisher) Process(ctx context.Context, msg message.Message, _ *seda.Dispatcher) error {
	batch, ok := msg.(*can.SignalBatch)
	if !ok {
		return fmt.Errorf("%w: %T", seda.ErrUnexpectedMessage, msg)
	}

	record, err := NewRecord(ctx, batch)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("write to topic %q: %w", p.topic, err)
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("record_size", len(record.Value)))

	p.publishedRecords.Add(ctx, 1)
	p.publishedBytes.Add(ctx, int64(len(record.Value)))

	return nil
}

// Close flushes the pending records and closes the writer.
func (p *Publisher) Close(_ context.Context) error {
	if err := p.writer.Close(); err != nil {
		p.tel.LogError("failed to close writer", err)
		return err
	}

	return nil
}

// Record is the JSON value of a published signal batch.
type Record struct {
	SeqNum    int            `json:"seq_num"`
	Timestamp time.Time      `json:"timestamp"`
	Signals   []SignalRecord `json:"signals"`
}

// SignalRecord is a decoded signal inside a [Record].
// Value holds the field matching Type.
type SignalRecord struct {
	CANID    uint32 `json:"can_id"`
	Name     string `json:"name"`
	RawValue int64  `json:"raw_value"`
	Type     string `json:"type"`
	Value    any    `json:"value"`
}

func newSignalRecord(sig can.Signal) SignalRecord {
	rec := SignalRecord{
		CANID:    sig.CANID,
		Name:     sig.Name,
		RawValue: sig.RawValue,
		Type:     sig.Type.String(),
	}

	switch sig.Type {
	case can.ValueTypeFlag:
		rec.Value = sig.ValueFlag
	case can.ValueTypeInt:
		rec.Value = sig.ValueInt
	case can.ValueTypeFloat:
		rec.Value = sig.ValueFloat
	case can.ValueTypeEnum:
		rec.Value = sig.ValueEnum
	}

	return rec
}

// NewRecord encodes a signal batch into a kafka record.
// The span context of ctx is injected into the headers.
func NewRecord(ctx context.Context, batch *can.SignalBatch) (kafkago.Message, error) {
	rec := Record{
		SeqNum:    batch.Tag(),
		Timestamp: batch.GetTimestamp(),
		Signals:   make([]SignalRecord, 0, len(batch.Signals)),
	}

	for _, sig := range batch.Signals {
		rec.Signals = append(rec.Signals, newSignalRecord(sig))
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, err
	}

	carrier := NewHeaderCarrier()
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return kafkago.Message{
		Key:     []byte(strconv.Itoa(rec.SeqNum)),
		Value:   value,
		Time:    rec.Timestamp,
		Headers: carrier.Headers(),
	}, nil
}
