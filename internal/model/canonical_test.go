package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": 1, "a": "x", "c": []any{true, nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":[true,null]}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	composed, err := MarshalCanonical("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_NumbersNormalize(t *testing.T) {
	asInt, err := MarshalCanonical(int64(3))
	require.NoError(t, err)
	asFloat, err := MarshalCanonical(float64(3))
	require.NoError(t, err)
	asNumber, err := MarshalCanonical(json.Number("3.0"))
	require.NoError(t, err)

	assert.Equal(t, "3", string(asInt))
	assert.Equal(t, asInt, asFloat)
	assert.Equal(t, asInt, asNumber)

	frac, err := MarshalCanonical(0.25)
	require.NoError(t, err)
	assert.Equal(t, "0.25", string(frac))
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)
	_, err = MarshalCanonical(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}

func TestMarshalCanonical_Unsupported(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestCompareUTF16(t *testing.T) {
	// U+FFFF sorts after U+10000 in UTF-16 (surrogate 0xD800 < 0xFFFF) but
	// before it in UTF-8.
	assert.Less(t, compareUTF16("\U00010000", "\uffff"), 0)
	assert.Equal(t, 0, compareUTF16("abc", "abc"))
	assert.Less(t, compareUTF16("ab", "abc"), 0)
}
