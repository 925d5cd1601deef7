package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("sink1", Config{FailureThreshold: 5, RecoveryTimeoutSeconds: time.Hour}, nil)
	for i := 0; i < 4; i++ {
		require.True(t, b.ShouldAllow())
		b.RecordFailure()
	}
	require.Equal(t, Closed, b.CurrentState())

	require.True(t, b.ShouldAllow())
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
	require.False(t, b.ShouldAllow(), "after threshold failures, should_allow must refuse for the recovery window")
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("sink1", Config{FailureThreshold: 1, RecoveryTimeoutSeconds: time.Millisecond}, nil)
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())

	time.Sleep(5 * time.Millisecond)
	require.True(t, b.ShouldAllow(), "first admission after recovery timeout must be allowed exactly once")
	require.Equal(t, HalfOpen, b.CurrentState())
	require.False(t, b.ShouldAllow(), "a second admission before success/failure is recorded must be refused")
}

func TestCircuitBreaker_SuccessInHalfOpenCloses(t *testing.T) {
	b := New("sink1", Config{FailureThreshold: 1, RecoveryTimeoutSeconds: time.Millisecond}, nil)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	b.ShouldAllow() // enters half-open
	b.RecordSuccess()
	require.Equal(t, Closed, b.CurrentState())
	require.True(t, b.ShouldAllow())
}

func TestCircuitBreaker_FailureInHalfOpenReopens(t *testing.T) {
	b := New("sink1", Config{FailureThreshold: 1, RecoveryTimeoutSeconds: time.Millisecond}, nil)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	b.ShouldAllow()
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())
}

func TestCircuitBreaker_OnChangeCallbackFires(t *testing.T) {
	var transitions []State
	b := New("sink1", Config{FailureThreshold: 1, RecoveryTimeoutSeconds: time.Hour}, func(name string, s State) {
		transitions = append(transitions, s)
	})
	b.RecordFailure()
	require.Equal(t, []State{Open}, transitions)
}
