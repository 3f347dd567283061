package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectorEdgeTriggered(t *testing.T) {
	d := NewDetector(30, 1)

	assert.Equal(t, EdgeNone, d.Sample(10, false))
	assert.Equal(t, EdgeStart, d.Sample(50, false), "expected a start on crossing the threshold")
	assert.Equal(t, EdgeNone, d.Sample(60, false), "expected no repeat while loud")
	assert.Equal(t, EdgeNone, d.Sample(40, false))
	assert.Equal(t, EdgeStop, d.Sample(10, false), "expected a stop on falling below")
	assert.Equal(t, EdgeNone, d.Sample(5, false), "expected no repeat while quiet")
	assert.False(t, d.Speaking())
}

func TestDetectorRollingAverage(t *testing.T) {
	d := NewDetector(30, 3)

	// One loud spike averaged over the window stays below the threshold.
	assert.Equal(t, EdgeNone, d.Sample(10, false))
	assert.Equal(t, EdgeNone, d.Sample(10, false))
	assert.Equal(t, EdgeNone, d.Sample(70, false), "expected the average (30) to stay at the threshold")

	// Sustained energy lifts the average past it.
	assert.Equal(t, EdgeStart, d.Sample(70, false))
}

func TestDetectorMuted(t *testing.T) {
	d := NewDetector(30, 1)

	assert.Equal(t, EdgeNone, d.Sample(100, true), "expected no start while muted")

	assert.Equal(t, EdgeStart, d.Sample(100, false))
	assert.Equal(t, EdgeStop, d.Sample(100, true), "expected muting mid-speech to emit a stop")
}

func TestDetectorReset(t *testing.T) {
	d := NewDetector(30, 2)
	d.Sample(100, false)
	d.Sample(100, false)
	assert.True(t, d.Speaking())

	d.Reset()
	assert.False(t, d.Speaking())
	assert.Equal(t, EdgeStart, d.Sample(100, false), "expected a fresh start after reset")
}
