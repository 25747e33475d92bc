package can

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRawBatch(t *testing.T, canIDs ...uint32) *RawBatch {
	t.Helper()

	batch := NewRawBatch(1, time.Now(), len(canIDs))
	for _, canID := range canIDs {
		batch.Messages = append(batch.Messages, RawMessage{
			CANID:   canID,
			DataLen: 8,
			RawData: []byte{0, 1, 2, 3, 4, 5, 6, 7},
		})
	}

	return batch
}

func Test_Decoder_Decode(t *testing.T) {
	assert := assert.New(t)

	messages, err := SyntheticMessages(4)
	require.NoError(t, err)

	decoder := NewDecoder(messages, "signals")

	knownID := uint32(messages[2].GetCANID())
	unknownID := uint32(0x7ff)
	for _, msg := range messages {
		require.NotEqual(t, unknownID, uint32(msg.GetCANID()))
	}

	raw := getRawBatch(t, knownID, unknownID)
	batch := decoder.Decode(context.Background(), raw)

	require.Len(t, batch.Signals, 8)
	assert.Equal(raw.Tag(), batch.Tag())
	assert.Equal(raw.GetTimestamp(), batch.GetTimestamp())

	for idx, sig := range batch.Signals {
		assert.Equal(knownID, sig.CANID)
		assert.Equal(fmt.Sprintf("message_2_signal_%d", idx), sig.Name)
		assert.Equal(int64(idx), sig.RawValue)
	}
}

func Test_Decoder_Process(t *testing.T) {
	assert := assert.New(t)

	messages, err := SyntheticMessages(2)
	require.NoError(t, err)

	d := seda.NewDispatcher()
	defer d.Shutdown()

	var mux sync.Mutex
	var received []*SignalBatch

	_, err = seda.NewStage("signals", seda.ProcessorFunc(func(_ context.Context, msg message.Message, _ *seda.Dispatcher) error {
		mux.Lock()
		defer mux.Unlock()
		received = append(received, msg.(*SignalBatch))
		return nil
	}), d, nil)
	require.NoError(t, err)

	decoder := NewDecoder(messages, "signals")
	require.NoError(t, decoder.Construct(d))

	ctx := context.Background()

	assert.NoError(decoder.Process(ctx, getRawBatch(t, uint32(messages[0].GetCANID())), d))

	// Nothing to forward
	assert.NoError(decoder.Process(ctx, getRawBatch(t, 0x7ff), d))

	assert.ErrorIs(decoder.Process(ctx, message.Tagged(1), d), seda.ErrUnexpectedMessage)

	assert.Eventually(func() bool {
		mux.Lock()
		defer mux.Unlock()
		return len(received) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mux.Lock()
	defer mux.Unlock()
	assert.Len(received[0].Signals, 8)
}

func Test_Decoder_ConstructMissingTarget(t *testing.T) {
	d := seda.NewDispatcher()
	defer d.Shutdown()

	decoder := NewDecoder(nil, "missing")
	assert.ErrorIs(t, decoder.Construct(d), seda.ErrStageNotFound)
}
