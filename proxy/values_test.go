package proxy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridge-rpc/fault"
	"bridge-rpc/message"
)

func TestReferenceIdentity(t *testing.T) {
	reg := newRegistry(nil)

	assert.Nil(t, reg.reference(0, "java.lang.Object"))

	a := reg.reference(5, "")
	b := reg.reference(5, "java.math.BigInteger")
	assert.Same(t, a, b)
	assert.Equal(t, "java.math.BigInteger", a.ClassName())
	assert.Equal(t, "#5<java.math.BigInteger>", a.String())
	assert.Equal(t, 1, reg.Len())

	other := newRegistry(nil)
	assert.NotSame(t, a, other.reference(5, ""))
}

func TestMarshal(t *testing.T) {
	reg := newRegistry(nil)

	cases := []struct {
		in   any
		want message.Value
	}{
		{nil, message.Null()},
		{"s", message.String("s")},
		{true, message.Bool(true)},
		{int8(-3), message.Long(-3)},
		{uint32(7), message.Long(7)},
		{uint64(math.MaxInt64), message.Long(math.MaxInt64)},
		{float32(0.5), message.Double(0.5)},
		{message.Long(9), message.Long(9)},
		{[]any{1, "x"}, message.List(message.Long(1), message.String("x"))},
		{map[string]any{"b": 2, "a": 1}, message.Map(
			message.Entry{Key: "a", Value: message.Long(1)},
			message.Entry{Key: "b", Value: message.Long(2)},
		)},
	}
	for _, tc := range cases {
		got, err := reg.marshal(tc.in)
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}

	for _, bad := range []any{uint64(math.MaxUint64), struct{}{}, []int{1}, (*ClassDescriptor)(nil), []any{make(chan int)}} {
		_, err := reg.marshal(bad)
		assert.ErrorIs(t, err, fault.ErrInvalidUsage, "%T", bad)
	}
}

func TestUnmarshal(t *testing.T) {
	reg := newRegistry(nil)

	assert.Nil(t, reg.unmarshal(message.Null()))
	assert.Nil(t, reg.unmarshal(message.Void()))
	assert.Nil(t, reg.unmarshal(message.Object(0, "")))
	assert.Equal(t, "x", reg.unmarshal(message.String("x")))
	assert.Equal(t, 2.5, reg.unmarshal(message.Double(2.5)))

	got := reg.unmarshal(message.Map(
		message.Entry{Key: "n", Value: message.Long(1)},
		message.Entry{Key: "o", Value: message.Object(4, "java.util.HashMap")},
	))
	m, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(1), m["n"])
	assert.Same(t, reg.reference(4, ""), m["o"])
}

func TestParseClassName(t *testing.T) {
	name, err := parseClassName("[class java.util.HashMap:\nMethods:\nput, get]")
	require.NoError(t, err)
	assert.Equal(t, "java.util.HashMap", name)

	// 数组和内部类的名字
	for desc, want := range map[string]string{
		"[class [Ljava.lang.String;:\nMethods:": "[Ljava.lang.String;",
		"[class [B:":                            "[B",
		"[class java.util.Map$Entry:":           "java.util.Map$Entry",
	} {
		name, err := parseClassName(desc)
		require.NoError(t, err, "%q", desc)
		assert.Equal(t, want, name)
	}

	for _, desc := range []string{
		"",
		"java.util.HashMap",
		"[object java.util.HashMap:",
		"[class :",
		"[class java.util.HashMap",
		" [class java.util.HashMap:",
	} {
		_, err := parseClassName(desc)
		assert.ErrorIs(t, err, fault.ErrUnexpectedFormat, "%q", desc)
	}
}

func TestParseCastKind(t *testing.T) {
	cases := map[string]CastKind{
		"S": CastString, "str": CastString,
		"b": CastBoolean, "Bool": CastBoolean,
		"i": CastInteger, "Long": CastInteger,
		"f": CastFloat, "double": CastFloat,
		"N": CastNull, "null": CastNull,
		"a": CastList, "Array": CastList,
		"m": CastMap, "object": CastMap,
	}
	for in, want := range cases {
		got, err := ParseCastKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "x", "1", "?"} {
		_, err := ParseCastKind(bad)
		assert.ErrorIs(t, err, fault.ErrUnsupportedCast, "%q", bad)
	}
}
