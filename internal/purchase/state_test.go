package purchase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStates_StrictlyOrdered(t *testing.T) {
	states := States()
	for i := 1; i < len(states); i++ {
		assert.True(t, states[i-1].Before(states[i]), "%s should precede %s", states[i-1], states[i])
	}
}

func TestState_StringRoundTrip(t *testing.T) {
	for _, s := range States() {
		parsed, ok := ParseState(s.String())
		assert.True(t, ok, s.String())
		assert.Equal(t, s, parsed)
	}

	_, ok := ParseState("SHOPPING")
	assert.False(t, ok)
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestState_IsTerminal(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StatePlacingOrder.IsTerminal())
	assert.False(t, StateOpeningProduct.IsTerminal())
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, s := range States() {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("SHOPPING")))
}
