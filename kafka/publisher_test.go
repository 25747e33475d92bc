package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/can"
	"github.com/squadracorsepolito/seda/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func Test_HeaderCarrier(t *testing.T) {
	assert := assert.New(t)

	hc := NewHeaderCarrier(kafkago.Header{Key: "source", Value: []byte("udp")})

	hc.Set("traceparent", "first")
	hc.Set("traceparent", "second")

	assert.Equal("udp", hc.Get("source"))
	assert.Equal("second", hc.Get("traceparent"))
	assert.Equal("", hc.Get("missing"))
	assert.Equal([]string{"source", "traceparent"}, hc.Keys())
	assert.Len(hc.Headers(), 2)
}

func Test_NewRecord(t *testing.T) {
	assert := assert.New(t)

	otel.SetTextMapPropagator(propagation.TraceContext{})

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := &can.SignalBatch{
		Base: message.NewBase(7, ts),
		Signals: []can.Signal{
			{CANID: 1, Name: "brake", RawValue: 1, Type: can.ValueTypeFlag, ValueFlag: true},
			{CANID: 4, Name: "gear", RawValue: 2, Type: can.ValueTypeEnum, ValueEnum: "second"},
		},
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	record, err := NewRecord(ctx, batch)
	require.NoError(t, err)

	assert.Equal([]byte("7"), record.Key)
	assert.Equal(ts, record.Time)

	carrier := NewHeaderCarrier(record.Headers...)
	assert.Equal("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))

	var decoded struct {
		SeqNum  int `json:"seq_num"`
		Signals []struct {
			CANID uint32 `json:"can_id"`
			Name  string `json:"name"`
			Type  string `json:"type"`
			Value any    `json:"value"`
		} `json:"signals"`
	}
	require.NoError(t, json.Unmarshal(record.Value, &decoded))

	assert.Equal(7, decoded.SeqNum)
	require.Len(t, decoded.Signals, 2)
	assert.Equal("flag", decoded.Signals[0].Type)
	assert.Equal(true, decoded.Signals[0].Value)
	assert.Equal("enum", decoded.Signals[1].Type)
	assert.Equal("second", decoded.Signals[1].Value)
}

func Test_Publisher_UnexpectedMessage(t *testing.T) {
	assert := assert.New(t)

	publisher := NewPublisher(NewDefaultConfig())

	err := publisher.Process(context.Background(), message.Tagged(1), nil)
	assert.ErrorIs(err, seda.ErrUnexpectedMessage)

	assert.NoError(publisher.Close(context.Background()))
}
