package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnLifecycleHappyPath(t *testing.T) {
	var l ConnLifecycle
	assert.Equal(t, ConnOpening, l.State())

	assert.NoError(t, l.MarkOpen())
	assert.Equal(t, ConnOpen, l.State())

	assert.NoError(t, l.CloseClean())
	assert.True(t, l.State().Terminal())
}

func TestConnLifecycleSingleTeardown(t *testing.T) {
	var l ConnLifecycle
	assert.NoError(t, l.MarkOpen())

	assert.NoError(t, l.Fail())
	assert.ErrorIs(t, l.CloseClean(), ErrConnTerminal, "error and clean close are mutually exclusive")
	assert.ErrorIs(t, l.Fail(), ErrConnTerminal)
	assert.Equal(t, ConnClosedError, l.State())
}

func TestConnLifecycleFailBeforeOpen(t *testing.T) {
	var l ConnLifecycle
	assert.NoError(t, l.Fail(), "a connection may fail while still opening")
	assert.ErrorIs(t, l.MarkOpen(), ErrConnTerminal)
}

func TestReconnectState(t *testing.T) {
	r := ReconnectState{MaxAttempts: 5}
	assert.False(t, r.Exhausted())

	r.Attempts = 5
	assert.True(t, r.Exhausted())

	r.Reset()
	assert.False(t, r.Exhausted())
	assert.Equal(t, 0, r.Attempts)
}
