// Package questdb contains a stage processor storing decoded CAN signals
// in QuestDB through the InfluxDB line protocol.
package questdb

import (
	"context"
	"fmt"
	"time"

	qdb "github.com/questdb/go-questdb-client/v3"
	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/can"
	"github.com/squadracorsepolito/seda/internal"
	"github.com/squadracorsepolito/seda/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config is the configuration of a [Writer].
type Config struct {
	// Address is the host:port of the HTTP endpoint of QuestDB.
	Address       string
	AutoFlushRows int
	RetryTimeout  time.Duration
}

func NewDefaultConfig() *Config {
	return &Config{
		Address:       "localhost:9000",
		AutoFlushRows: 75_000,
		RetryTimeout:  time.Second,
	}
}

var _ seda.Processor = (*Writer)(nil)

// Writer is a stage processor writing every [can.SignalBatch] it receives.
// Each worker of the stage borrows a sender from a shared pool.
type Writer struct {
	tel *internal.Telemetry

	senderPool *qdb.LineSenderPool

	// Telemetry metrics
	insertedRows metric.Int64Counter
}

// NewWriter returns a writer for the configured QuestDB instance.
func NewWriter(cfg *Config) (*Writer, error) {
	senderPool, err := qdb.PoolFromOptions(
		qdb.WithAddress(cfg.Address),
		qdb.WithHttp(),
		qdb.WithAutoFlushRows(cfg.AutoFlushRows),
		qdb.WithRetryTimeout(cfg.RetryTimeout),
	)
	if err != nil {
		return nil, err
	}

	tel := internal.NewTelemetry("processor", "questdb")

	return &Writer{
		tel: tel,

		senderPool: senderPool,

		insertedRows: tel.NewCounter("inserted_rows"),
	}, nil
}

// Process writes the rows of a signal batch, timestamped with the batch.
func (w *Writer) Process(ctx context.Context, msg message.Message, _ *seda.Dispatcher) error {
	batch, ok := msg.(*can.SignalBatch)
	if !ok {
		return fmt.Errorf("%w: %T", seda.ErrUnexpectedMessage, msg)
	}

	sender, err := w.senderPool.Sender(ctx)
	if err != nil {
		return err
	}

	inserted := int64(0)
	for _, row := range SignalRows(batch) {
		if err := writeRow(ctx, sender, row, batch.GetTimestamp()); err != nil {
			sender.Close(ctx)
			return err
		}

		inserted++
	}

	// Returns the sender to the pool
	if err := sender.Close(ctx); err != nil {
		return err
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("inserted_rows", inserted))
	w.insertedRows.Add(ctx, inserted)

	return nil
}

func writeRow(ctx context.Context, sender qdb.LineSender, row *Row, ts time.Time) error {
	query := sender.Table(row.Table)

	for _, symbol := range row.Symbols {
		query = query.Symbol(symbol.Name, symbol.Value)
	}

	for _, col := range row.Columns {
		switch col.Type {
		case ColumnTypeBool:
			query = query.BoolColumn(col.Name, col.Value.(bool))
		case ColumnTypeInt:
			query = query.Int64Column(col.Name, col.Value.(int64))
		case ColumnTypeFloat:
			query = query.Float64Column(col.Name, col.Value.(float64))
		case ColumnTypeString:
			query = query.StringColumn(col.Name, col.Value.(string))
		}
	}

	return query.At(ctx, ts)
}

// Close flushes and closes every sender of the pool.
func (w *Writer) Close(ctx context.Context) error {
	if err := w.senderPool.Close(ctx); err != nil {
		w.tel.LogError("failed to close sender pool", err)
		return err
	}

	return nil
}
