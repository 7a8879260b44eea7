package gcunified

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOptionsWithDefaultsFillsZeroFields(t *testing.T) {
	o := Options{Host: "10.0.0.5"}.WithDefaults()

	require.Equal(t, "10.0.0.5", o.Host)
	require.Equal(t, DefaultPort, o.Port)
	require.NotNil(t, o.Reconnect)
	require.True(t, *o.Reconnect)
	require.Equal(t, DefaultConnectionTimeout, o.ConnectionTimeout)
	require.Equal(t, DefaultBackoff.InitialDelay, o.Backoff.InitialDelay)
	require.Equal(t, DefaultBackoff.RandomizationFactor, o.Backoff.RandomizationFactor)
	require.Equal(t, BackoffExponential, o.Backoff.Strategy)
	require.Equal(t, DefaultReconnectDelay, o.ReconnectDelay)
}

func TestOptionsMergeOverlaysBackoffStrategyAndFailAfter(t *testing.T) {
	base := Options{Host: "10.0.0.5", Port: 4998}.WithDefaults()

	merged := base.Merge(Options{Backoff: Backoff{Strategy: BackoffFibonacci, FailAfter: 5}})

	require.Equal(t, BackoffFibonacci, merged.Backoff.Strategy)
	require.Equal(t, 5, merged.Backoff.FailAfter)
	// Untouched backoff fields survive the overlay.
	require.Equal(t, base.Backoff.InitialDelay, merged.Backoff.InitialDelay)
}

func TestOptionsMergeOverlaysOnlyNonZeroFields(t *testing.T) {
	base := Options{Host: "10.0.0.5", Port: 4998, SendTimeout: 3 * time.Second}.WithDefaults()

	reconnectFalse := false
	merged := base.Merge(Options{SendTimeout: 10 * time.Second, Reconnect: &reconnectFalse})

	require.Equal(t, "10.0.0.5", merged.Host)
	require.Equal(t, 4998, merged.Port)
	require.Equal(t, 10*time.Second, merged.SendTimeout)
	require.False(t, *merged.Reconnect)
	// Untouched fields survive the overlay.
	require.Equal(t, base.QueueTimeout, merged.QueueTimeout)
}
