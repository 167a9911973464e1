package purchase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysAndSkipsWhitespace(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"url":        "https://example.com/?a=1&b=<2>",
		"attempts":   3,
		"dry_run":    true,
		"states":     []string{"OPENING_PRODUCT", "FAILED"},
		"message_id": "m",
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"attempts":3,"dry_run":true,"message_id":"m","states":["OPENING_PRODUCT","FAILED"],"url":"https://example.com/?a=1&b=<2>"}`,
		string(out))
}

func TestMarshalCanonical_NormalizesNFC(t *testing.T) {
	decomposed, err := MarshalCanonical("Cafe\u0301")
	require.NoError(t, err)
	composed, err := MarshalCanonical("Caf\u00e9")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	out, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	// A literal backslash followed by u2028 stays escaped.
	out, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.Error(t, err)
	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
	_, err = MarshalCanonical(map[string]any{"x": struct{}{}})
	assert.Error(t, err)
}
