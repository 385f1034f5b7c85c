// File: api/schemas/payload_test.go
package schemas

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_PreservesDocumentOrder(t *testing.T) {
	p, err := ParsePayload([]byte(`{"firstName":"Jan","postcode":"1000 AA","huisnummer":1,"akkoord":true}`))
	require.NoError(t, err)

	assert.Equal(t, []FieldKey{"firstName", "postcode", "huisnummer", "akkoord"}, p.Keys())

	v, ok := p.Get("huisnummer")
	require.True(t, ok)
	assert.Equal(t, KindNumber, v.Kind())
	assert.Equal(t, "1", v.String(), "integral numbers render without a fraction")

	b, _ := p.Get("akkoord")
	assert.True(t, b.Bool())
}

func TestParsePayload_DuplicateKeysKeepFirstPosition(t *testing.T) {
	p, err := ParsePayload([]byte(`{"a":"1","b":"2","a":"3"}`))
	require.NoError(t, err)
	assert.Equal(t, []FieldKey{"a", "b"}, p.Keys())
	v, _ := p.Get("a")
	assert.Equal(t, "3", v.String())
}

func TestParsePayload_RejectsNonPrimitives(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"array value", `{"a":[1,2]}`},
		{"object value", `{"a":{"b":1}}`},
		{"null value", `{"a":null}`},
		{"top level array", `[1,2]`},
		{"top level string", `"x"`},
		{"empty key", `{"":"x"}`},
		{"truncated", `{"a":"x"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tc.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestPayload_MarshalRoundTripKeepsOrder(t *testing.T) {
	p := NewPayload(
		Entry{Key: "z", Value: StringValue("last")},
		Entry{Key: "a", Value: NumberValue(2.5)},
		Entry{Key: "m", Value: BoolValue(false)},
	)
	data, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":"last","a":2.5,"m":false}`, string(data))
}

func TestFieldValue_Bool(t *testing.T) {
	testCases := []struct {
		value FieldValue
		want  bool
	}{
		{BoolValue(true), true},
		{BoolValue(false), false},
		{NumberValue(0), false},
		{NumberValue(3), true},
		{StringValue("Ja"), true},
		{StringValue(" yes "), true},
		{StringValue("nee"), false},
		{StringValue(""), false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, tc.value.Bool(), "value %q", tc.value.String())
	}
}

func TestRunResult_AddError(t *testing.T) {
	r := RunResult{Success: true}
	r.AddError("postcode", ErrorNotFound, "no element")
	assert.False(t, r.Success)
	e, ok := r.ErrorFor("postcode")
	require.True(t, ok)
	assert.Equal(t, ErrorNotFound, e.Kind)
	_, ok = r.ErrorFor("other")
	assert.False(t, ok)
}

// FuzzParsePayload builds flat objects from fuzzed strings and checks that
// decoding never panics and accepted payloads survive re-encoding.
func FuzzParsePayload(f *testing.F) {
	f.Add([]byte(`{"a":"b"}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		raw, err := consumer.GetBytes()
		if err != nil {
			return
		}
		p, err := ParsePayload(raw)
		if err != nil {
			return
		}
		encoded, err := p.MarshalJSON()
		require.NoError(t, err)
		again, err := ParsePayload(encoded)
		require.NoError(t, err)
		assert.Equal(t, p.Keys(), again.Keys())
	})
}
