package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("dest", true, 3, time.Minute, 5*time.Minute, nil)
	cb.SetNowFunc(func() time.Time { return now })

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	state := cb.GetState()
	assert.True(t, state.Open)
	assert.Equal(t, 3, state.FailureCount)

	now = now.Add(6 * time.Minute)
	assert.False(t, cb.IsOpen())
}

func TestBreakerWindowExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("dest", true, 2, time.Minute, time.Minute, nil)
	cb.SetNowFunc(func() time.Time { return now })

	assert.False(t, cb.RecordFailure())
	now = now.Add(2 * time.Minute)
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}

func TestBreakerSuccessAndReset(t *testing.T) {
	cb := NewCircuitBreaker("dest", true, 2, time.Minute, time.Hour, nil)
	assert.False(t, cb.RecordFailure())
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure())

	assert.True(t, cb.RecordFailure())
	cb.Reset()
	assert.False(t, cb.IsOpen())
}

func TestDisabledBreakerNeverOpens(t *testing.T) {
	cb := NewCircuitBreaker("dest", false, 1, time.Minute, time.Hour, nil)
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}
