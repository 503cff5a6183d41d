package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func result(ready bool) Result {
	return Result{Ready: ready, CheckedAt: time.Now()}
}

func TestStatusStartsNotReady(t *testing.T) {
	s := NewStatus()
	assert.False(t, s.Ready)
}

func TestStatusBecomesReadyAfterSuccessThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 2}
	s := NewStatus()

	flipped := s.Update(result(true), cfg)
	assert.False(t, flipped, "one success below threshold must not flip")
	assert.False(t, s.Ready)

	flipped = s.Update(result(true), cfg)
	assert.True(t, flipped)
	assert.True(t, s.Ready)
}

func TestStatusBecomesUnreadyAfterFailureThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 1}
	s := NewStatus()

	s.Update(result(true), cfg)
	assert.True(t, s.Ready)

	// Two failures: below threshold, still ready
	assert.False(t, s.Update(result(false), cfg))
	assert.False(t, s.Update(result(false), cfg))
	assert.True(t, s.Ready)

	// Third failure crosses the threshold
	assert.True(t, s.Update(result(false), cfg))
	assert.False(t, s.Ready)
}

func TestStatusRecovers(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1}
	s := NewStatus()

	s.Update(result(true), cfg)
	s.Update(result(false), cfg)
	assert.False(t, s.Ready)

	flipped := s.Update(result(true), cfg)
	assert.True(t, flipped)
	assert.True(t, s.Ready)
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestStatusFailureResetsSuccessStreak(t *testing.T) {
	cfg := Config{FailureThreshold: 5, SuccessThreshold: 3}
	s := NewStatus()

	s.Update(result(true), cfg)
	s.Update(result(true), cfg)
	s.Update(result(false), cfg)
	s.Update(result(true), cfg)
	s.Update(result(true), cfg)
	assert.False(t, s.Ready, "success streak must restart after a failure")

	s.Update(result(true), cfg)
	assert.True(t, s.Ready)
}
