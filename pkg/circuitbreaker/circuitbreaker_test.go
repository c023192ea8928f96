package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Settings{Name: "shortener", MaxFailures: 2, Timeout: time.Minute})
	cb.now = func() time.Time { return now }

	calls := 0
	fail := func() error { calls++; return errBoom }

	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	// open: fn is not called
	assert.ErrorIs(t, cb.Execute(fail), ErrOpen)
	assert.Equal(t, 2, calls)

	// after the timeout one trial call goes through and fails
	now = now.Add(time.Minute)
	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, calls)

	// a successful trial call closes the circuit
	now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{MaxFailures: 2})

	assert.Error(t, cb.Execute(func() error { return errBoom }))
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Error(t, cb.Execute(func() error { return errBoom }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerSingleTrialCall(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Settings{MaxFailures: 1, Timeout: time.Second})
	cb.now = func() time.Time { return now }

	assert.Error(t, cb.Execute(func() error { return errBoom }))
	now = now.Add(time.Second)

	err := cb.Execute(func() error {
		// a concurrent caller during the trial call is rejected
		assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}
