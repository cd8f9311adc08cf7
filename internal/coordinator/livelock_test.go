package coordinator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowkernel/kernel/internal/coordinator"
)

// TestLivelockAlternatingPattern mirrors spec.md §8 scenario 5: states
// [A,B,A,B,A,B] within the window, threshold 3, detects an alternating
// pattern.
func TestLivelockAlternatingPattern(t *testing.T) {
	d := coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{})
	base := time.Now()
	states := []string{"A", "B", "A", "B", "A", "B"}
	for i, s := range states {
		d.RecordTick("a1", s, base.Add(time.Duration(i)*time.Second))
	}

	result := d.Detect("a1", base.Add(6*time.Second))
	assert.True(t, result.Detected)
	assert.Equal(t, coordinator.PatternAlternating, result.Pattern)
}

func TestLivelockFewerStatesThanWindowReturnsNotDetected(t *testing.T) {
	d := coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{})
	base := time.Now()
	d.RecordTick("a1", "A", base)
	d.RecordTick("a1", "B", base.Add(time.Second))

	result := d.Detect("a1", base.Add(2*time.Second))
	assert.False(t, result.Detected)
}

func TestLivelockCyclicPattern(t *testing.T) {
	d := coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{WindowSize: 12, CyclicThreshold: 3})
	base := time.Now()
	states := []string{"A", "B", "C", "A", "B", "C", "A", "B", "C"}
	for i, s := range states {
		d.RecordTick("a1", s, base.Add(time.Duration(i)*time.Second))
	}

	result := d.Detect("a1", base.Add(time.Duration(len(states))*time.Second))
	assert.True(t, result.Detected)
	assert.Equal(t, coordinator.PatternCyclic, result.Pattern)
}

func TestLivelockNoProgressPattern(t *testing.T) {
	d := coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{ProgressTimeout: time.Minute})
	base := time.Now()
	d.RecordTick("a1", "stuck", base)
	d.RecordTick("a1", "stuck", base.Add(30*time.Second))

	result := d.Detect("a1", base.Add(90*time.Second))
	assert.True(t, result.Detected)
	assert.Equal(t, coordinator.PatternNoProgress, result.Pattern)
}

func TestLivelockClearHistoryResetsDetection(t *testing.T) {
	d := coordinator.NewLivelockDetector(coordinator.LivelockDetectorOptions{})
	base := time.Now()
	for i, s := range []string{"A", "B", "A", "B", "A", "B"} {
		d.RecordTick("a1", s, base.Add(time.Duration(i)*time.Second))
	}
	d.ClearHistory("a1")

	result := d.Detect("a1", base.Add(10*time.Second))
	assert.False(t, result.Detected)
}
