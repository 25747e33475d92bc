package seda

import (
	"context"
	"testing"

	"github.com/squadracorsepolito/seda/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Router_Construct(t *testing.T) {
	assert := assert.New(t)

	d := NewDispatcher()
	defer d.Shutdown()

	newDispatcherStage(t, d, "frames", nopProcessor)

	router := NewRouter(map[string]string{
		"frame":  "frames",
		"signal": "signals",
	}, "unknown")
	newDispatcherStage(t, d, "router", router)

	err := d.Construction()
	assert.ErrorIs(err, ErrStageNotFound)
	assert.ErrorContains(err, `"signals"`)
	assert.ErrorContains(err, `"unknown"`)

	newDispatcherStage(t, d, "signals", nopProcessor)
	newDispatcherStage(t, d, "unknown", nopProcessor)

	assert.NoError(d.Construction())
}

func Test_Router_Process(t *testing.T) {
	assert := assert.New(t)

	d := NewDispatcher()
	defer d.Shutdown()

	frames := newDispatcherStage(t, d, "frames", nopProcessor)
	fallback := newDispatcherStage(t, d, "fallback", nopProcessor)

	router := NewRouter(map[string]string{"frame": "frames"}, "fallback")
	require.NoError(t, router.Construct(d))

	ctx := context.Background()

	assert.NoError(router.Process(ctx, kindedMsg{Tagged: 1, kind: "frame"}, d))
	assert.NoError(router.Process(ctx, kindedMsg{Tagged: 2, kind: "other"}, d))
	assert.NoError(router.Process(ctx, message.Tagged(3), d))

	assert.Equal(1, frames.BacklogSize())
	assert.Equal(2, fallback.BacklogSize())
}

func Test_Router_NoRoute(t *testing.T) {
	assert := assert.New(t)

	d := NewDispatcher()
	defer d.Shutdown()

	frames := newDispatcherStage(t, d, "frames", nopProcessor)

	router := NewRouter(map[string]string{"frame": "frames"}, "")
	ctx := context.Background()

	// Routes are resolved by name until constructed
	assert.NoError(router.Process(ctx, kindedMsg{kind: "frame"}, d))
	assert.ErrorIs(router.Process(ctx, kindedMsg{kind: "other"}, d), ErrNoRoute)

	require.NoError(t, router.Construct(d))

	assert.NoError(router.Process(ctx, kindedMsg{kind: "frame"}, d))
	assert.ErrorIs(router.Process(ctx, kindedMsg{kind: "other"}, d), ErrNoRoute)

	assert.Equal(2, frames.BacklogSize())
}
