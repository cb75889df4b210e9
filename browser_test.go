package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserPoolDiscardDoesNotRepool(t *testing.T) {
	p := NewBrowserContextPool(true, 2, "")

	ctx, cancel := context.WithCancel(context.Background())
	s := &browserSession{ctx: ctx, cancel: cancel}
	p.discard(s)
	require.ErrorIs(t, ctx.Err(), context.Canceled, "a discarded session is torn down")

	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	assert.Equal(t, 0, idle, "a discarded session never rejoins the idle pool")
}

func TestBrowserPoolReleaseRepoolsUnderBudget(t *testing.T) {
	p := NewBrowserContextPool(true, 1, "")

	ctx1, cancel1 := context.WithCancel(context.Background())
	p.Release(&browserSession{ctx: ctx1, cancel: cancel1})
	ctx2, cancel2 := context.WithCancel(context.Background())
	p.Release(&browserSession{ctx: ctx2, cancel: cancel2})

	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	assert.Equal(t, 1, idle)
	assert.NoError(t, ctx1.Err(), "the pooled session stays alive")
	assert.ErrorIs(t, ctx2.Err(), context.Canceled, "the over-budget session is closed")
}

func TestRevealClickScript(t *testing.T) {
	script := revealClickScript()
	for _, kw := range revealKeywords {
		assert.Contains(t, script, fmt.Sprintf("'%s'", kw))
	}
	assert.Contains(t, script, fmt.Sprintf("clicks >= %d", maxRevealClicks))
}
