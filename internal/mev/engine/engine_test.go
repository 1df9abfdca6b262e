package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mevengine/internal/mev/circuit"
)

func TestBreakerStateValue_MapsEachKnownState(t *testing.T) {
	require.Equal(t, float64(0), breakerStateValue(circuit.StateClosed))
	require.Equal(t, float64(1), breakerStateValue(circuit.StateHalfOpen))
	require.Equal(t, float64(2), breakerStateValue(circuit.StateOpen))
}

func TestBreakerStateValue_UnknownStateIsNegativeOne(t *testing.T) {
	require.Equal(t, float64(-1), breakerStateValue(circuit.State(99)))
}
