package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Int(1)}, `{"a":1}`},
		{"go string", "plain", `"plain"`},
		{"go map", map[string]any{"b": 2, "a": "x"}, `{"a":"x","b":2}`},
		{"go slice", []any{"a", int64(1), true}, `["a",1,true]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := Object{
		"z": Object{"b": Int(1), "a": Int(2)},
		"a": Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as surrogate 0xD800, which sorts before 0xE000 in UTF-16
	// but after it in UTF-8.
	obj := Object{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(Object{"html": String("<b>a & b</b>")})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>a & b</b>"}`, string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"NaN", Float(math.NaN())},
		{"infinity", math.Inf(-1)},
		{"infinity in object", Object{"a": Float(math.Inf(1))}},
		{"unsupported", struct{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", Null{}, "null"},
		{"nil", nil, "null"},
		{"null in object", Object{"a": Null{}}, `{"a":null}`},
		{"fraction", Float(9.99), "9.99"},
		{"go float64", 1.5, "1.5"},
		{"float in map", map[string]any{"a": 2.5}, `{"a":2.5}`},
		{"integral float", Float(2), "2"},
		{"negative zero", Float(math.Copysign(0, -1)), "0"},
		{"small decimal", Float(0.000001), "0.000001"},
		{"small exponent", Float(1e-7), "1e-7"},
		{"large decimal", Float(1e20), "100000000000000000000"},
		{"large exponent", Float(1e21), "1e+21"},
		{"negative exponent form", Float(-1.5e-10), "-1.5e-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNumbersRoundTrip(t *testing.T) {
	obj, err := ParseObject([]byte(`{"price":9.99,"author_id":null,"ratio":1E-7,"n":3}`))
	require.NoError(t, err)

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"author_id":null,"n":3,"price":9.99,"ratio":1e-7}`, string(first))

	again, err := ParseObject(first)
	require.NoError(t, err)
	second, err := MarshalCanonical(again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	composed, err := MarshalCanonical(Object{"caf\u00e9": String("caf\u00e9")})
	require.NoError(t, err)

	decomposed, err := MarshalCanonical(Object{"cafe\u0301": String("cafe\u0301")})
	require.NoError(t, err)

	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"line separator", "a\u2028b", "\"a\u2028b\""},
		{"paragraph separator", "a\u2029b", "\"a\u2029b\""},
		{"literal escape text", `seq \u2028`, `"seq \\u2028"`},
		{"escaped backslash before separator", "\\\u2028", "\"\\\\\u2028\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalIdempotent(t *testing.T) {
	values := []Value{
		String("hello"),
		Int(42),
		Array{Int(1), String("two"), Bool(false)},
		Object{"nested": Object{"ids": Strings("a", "b")}, "n": Int(7)},
	}

	for _, original := range values {
		first, err := MarshalCanonical(original)
		require.NoError(t, err)

		parsed, err := ParseValue(first)
		require.NoError(t, err)

		second, err := MarshalCanonical(parsed)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}
