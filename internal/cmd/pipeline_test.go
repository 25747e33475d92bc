package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/squadracorsepolito/seda"
	"github.com/squadracorsepolito/seda/can"
	"github.com/squadracorsepolito/seda/cannelloni"
	"github.com/squadracorsepolito/seda/internal/config"
	"github.com/squadracorsepolito/seda/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestConfig() *config.Config {
	cfg := config.Default()

	cfg.UDP.Port = 0
	cfg.CAN.SyntheticMessages = 4

	return cfg
}

func Test_newPipeline(t *testing.T) {
	assert := assert.New(t)

	p, err := newPipeline(getTestConfig())
	require.NoError(t, err)

	names := []string{}
	for _, s := range p.d.Stages() {
		names = append(names, s.Name())
		assert.Equal(seda.StatusRunning, s.Status())
	}
	assert.Equal([]string{"can", "cannelloni", "ingress", "questdb", message.RejectKind}, names)

	assert.NotNil(p.source.LocalAddr())

	p.close()

	for _, s := range p.d.Stages() {
		assert.Equal(seda.StatusShutDown, s.Status())
	}
}

func Test_newPipeline_BoundedBacklog(t *testing.T) {
	assert := assert.New(t)

	cfg := getTestConfig()

	sc := cfg.Stages[config.StageCAN]
	sc.BacklogCapacity = 1
	sc.InitialWorkers = 0
	sc.MinWorkers = 0
	cfg.Stages[config.StageCAN] = sc
	cfg.DeadLetter = false

	p, err := newPipeline(cfg)
	require.NoError(t, err)
	defer p.close()

	// The capacity is rounded up to 2 and no worker consumes
	for i := range 2 {
		assert.NoError(p.d.DispatchTo(config.StageCAN, message.Tagged(i)))
	}
	assert.NoError(p.d.DispatchTo(config.StageCAN, message.Tagged(2)))

	s, ok := p.d.Stage(config.StageCAN)
	require.True(t, ok)
	assert.Equal(2, s.BacklogSize())
}

func Test_newPipeline_KafkaSink(t *testing.T) {
	assert := assert.New(t)

	cfg := getTestConfig()
	cfg.Sink = config.StageKafka

	p, err := newPipeline(cfg)
	require.NoError(t, err)
	defer p.close()

	_, ok := p.d.Stage(config.StageKafka)
	assert.True(ok)

	_, ok = p.d.Stage(config.StageQuestDB)
	assert.False(ok)
}

func Test_newPipeline_WithoutDeadLetter(t *testing.T) {
	cfg := getTestConfig()
	cfg.DeadLetter = false

	p, err := newPipeline(cfg)
	require.NoError(t, err)
	defer p.close()

	_, ok := p.d.Stage(message.RejectKind)
	assert.False(t, ok)
}

func Test_newPipeline_InvalidStage(t *testing.T) {
	cfg := getTestConfig()

	sc := cfg.Stages[config.StageCAN]
	sc.MinWorkers = 10
	sc.MaxWorkers = 2
	cfg.Stages[config.StageCAN] = sc

	_, err := newPipeline(cfg)
	assert.ErrorIs(t, err, seda.ErrInvalidConfig)
}

func Test_newSyntheticFrame(t *testing.T) {
	assert := assert.New(t)

	f, err := newSyntheticFrame(4)
	require.NoError(t, err)

	decoded, err := cannelloni.DecodeFrame(f.Encode())
	require.NoError(t, err)
	require.Len(t, decoded.Messages, 4)

	messages, err := can.SyntheticMessages(4)
	require.NoError(t, err)

	raw := can.NewRawBatch(0, time.Now(), len(decoded.Messages))
	for _, fm := range decoded.Messages {
		raw.Messages = append(raw.Messages, can.RawMessage{CANID: fm.CANID, DataLen: int(fm.DataLen), RawData: fm.Data})
	}

	batch := can.NewDecoder(messages, "questdb").Decode(context.Background(), raw)
	assert.Len(batch.Signals, 4*8)
}
