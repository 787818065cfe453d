package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	// Both external vocabularies collapse onto the canonical states.
	cases := map[string]Status{
		"pending":          StatusPending,
		"placed":           StatusPending,
		"confirmed":        StatusConfirmed,
		"accepted":         StatusConfirmed,
		"preparing":        StatusPreparing,
		"processing":       StatusPreparing,
		"out_for_delivery": StatusOutForDelivery,
		"shipped":          StatusOutForDelivery,
		"on_the_way":       StatusOutForDelivery,
		"delivered":        StatusDelivered,
		"completed":        StatusDelivered,
		"cancelled":        StatusCancelled,
		"canceled":         StatusCancelled,
	}
	for raw, want := range cases {
		got, err := ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseStatus("refunded")
	require.Error(t, err)
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusPreparing, true},
		{StatusPreparing, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},

		// Cancellation from any non-terminal state.
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusOutForDelivery, StatusCancelled, true},

		// No skipping forward, no moving backward.
		{StatusPending, StatusPreparing, false},
		{StatusPending, StatusDelivered, false},
		{StatusConfirmed, StatusPending, false},
		{StatusDelivered, StatusPreparing, false},

		// Terminal states permit nothing, including self-loops.
		{StatusDelivered, StatusCancelled, false},
		{StatusDelivered, StatusDelivered, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusCancelled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	for _, s := range []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusOutForDelivery} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestNewTrackingToken(t *testing.T) {
	a := NewTrackingToken()
	b := NewTrackingToken()

	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^TRK[A-Z2-7]{26}$`, a)
}
