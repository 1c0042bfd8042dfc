package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that trips after 3 failures
	cb := NewCircuitBreaker("ollama", WithMaxFailures(3), WithResetTimeout(time.Second))

	// When: three calls fail
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}

	// Then: the circuit is open and calls are rejected without running
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("ollama", WithMaxFailures(2), WithResetTimeout(20*time.Millisecond))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker("ollama", WithMaxFailures(5), WithResetTimeout(20*time.Millisecond))
	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return errors.New("down") })
	}
	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(func() error { return errors.New("still down") })

	assert.EqualError(t, err, "still down")
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitExecute_ReturnsResult(t *testing.T) {
	cb := NewCircuitBreaker("x")

	v, err := CircuitExecute(cb, func() ([]int, error) { return []int{1, 2}, nil })

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v)
	assert.Equal(t, "x", cb.Name())
	assert.Equal(t, "closed", StateClosed.String())
}
