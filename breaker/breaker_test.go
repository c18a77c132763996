package breaker

import (
	"errors"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

func TestNew_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New[int]("test-breaker", Settings{FailureThreshold: 2})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (int, error) { return 1, nil })
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestStateToFloat(t *testing.T) {
	require.Equal(t, 0.0, stateToFloat(gobreaker.StateClosed))
	require.Equal(t, 1.0, stateToFloat(gobreaker.StateHalfOpen))
	require.Equal(t, 2.0, stateToFloat(gobreaker.StateOpen))
}
