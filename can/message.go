package can

import (
	"time"

	"github.com/squadracorsepolito/seda/message"
)

const (
	// RawBatchKind is the kind of [RawBatch].
	RawBatchKind = "can_raw_batch"
	// SignalBatchKind is the kind of [SignalBatch].
	SignalBatchKind = "can_signal_batch"
)

// RawMessage is an undecoded CAN message.
type RawMessage struct {
	CANID   uint32
	DataLen int
	RawData []byte
}

var _ message.Kinded = (*RawBatch)(nil)

// RawBatch is a batch of raw CAN messages received together.
// The tag is the sequence number of the batch.
type RawBatch struct {
	message.Base

	Messages []RawMessage
}

// NewRawBatch returns a [RawBatch] with room for count messages.
func NewRawBatch(seqNum int, timestamp time.Time, count int) *RawBatch {
	return &RawBatch{
		Base:     message.NewBase(seqNum, timestamp),
		Messages: make([]RawMessage, 0, count),
	}
}

func (b *RawBatch) Kind() string {
	return RawBatchKind
}

// ValueType is the type of the value of a decoded signal.
type ValueType int

const (
	ValueTypeFlag ValueType = iota
	ValueTypeInt
	ValueTypeFloat
	ValueTypeEnum
)

func (vt ValueType) String() string {
	switch vt {
	case ValueTypeFlag:
		return "flag"
	case ValueTypeInt:
		return "int"
	case ValueTypeFloat:
		return "float"
	case ValueTypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Signal is a decoded CAN signal. Only the value field matching the type is set.
type Signal struct {
	CANID    uint32
	Name     string
	RawValue int64
	Type     ValueType

	ValueFlag  bool
	ValueInt   int64
	ValueFloat float64
	ValueEnum  string
}

var _ message.Kinded = (*SignalBatch)(nil)

// SignalBatch holds the signals decoded from a [RawBatch].
type SignalBatch struct {
	message.Base

	Signals []Signal
}

func newSignalBatch(tag int, timestamp time.Time) *SignalBatch {
	return &SignalBatch{
		Base: message.NewBase(tag, timestamp),
	}
}

func (b *SignalBatch) Kind() string {
	return SignalBatchKind
}
