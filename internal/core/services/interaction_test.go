package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInteractionTrackerOneShot(t *testing.T) {
	tr := NewInteractionTracker()
	assert.False(t, tr.HasInteracted())

	fired := 0
	tr.OnFirst(func() { fired++ })

	tr.MarkInteracted()
	tr.MarkInteracted()

	assert.True(t, tr.HasInteracted())
	assert.Equal(t, 1, fired, "observers fire once for the first interaction only")
}

func TestInteractionTrackerLateObserverRunsImmediately(t *testing.T) {
	tr := NewInteractionTracker()
	tr.MarkInteracted()

	fired := 0
	tr.OnFirst(func() { fired++ })
	assert.Equal(t, 1, fired)
}
