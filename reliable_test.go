package coap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReliableRoundTripCodeBeforeToken(t *testing.T) {
	m := ReliableMessage{
		Token: []byte{0xAA, 0xBB},
		Code:  CodeGET,
		Options: Options{
			{Number: OptURIPath, Value: "sensors"},
			{Number: OptURIPath, Value: "temp"},
		},
	}
	buf := make([]byte, 64)
	n, err := m.MarshalBinary(buf, DefaultSerializeOptions())
	require.NoError(t, err)

	// Code byte must precede the token on the wire (RFC 8323 §3.2). The
	// 13-byte option body needs the 1-byte extended length at buf[1], so
	// the code sits at buf[2] and the token at buf[3:5].
	assert.Equal(t, byte(CodeGET), buf[2])
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[3:5])

	var out ReliableMessage
	consumed, err := out.UnmarshalBinary(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	assert.Equal(t, m.Code, out.Code)
	assert.Equal(t, m.Token, out.Token)
	require.Len(t, out.Options, 2)
	assert.Equal(t, "sensors", out.Options[0].Value)
	assert.Equal(t, "temp", out.Options[1].Value)
}

func TestReliableRoundTripExtendedLengths(t *testing.T) {
	cases := []struct {
		name string
		size int
	}{
		{"direct", 8},
		{"extByte", 50},
		{"extWord", 300},
		{"extTriple", 66000},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0x42}, c.size)
			m := ReliableMessage{
				Token:   []byte{0x01},
				Code:    CodeContent,
				Payload: payload,
			}
			buf := make([]byte, c.size+32)
			n, err := m.MarshalBinary(buf, DefaultSerializeOptions())
			require.NoError(t, err)

			var out ReliableMessage
			consumed, err := out.UnmarshalBinary(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, n, consumed)
			assert.Equal(t, payload, out.Payload)
			assert.Equal(t, m.Token, out.Token)
			assert.Equal(t, m.Code, out.Code)
		})
	}
}

func TestReliableUnmarshalConsumesOnlyOneFrame(t *testing.T) {
	m := ReliableMessage{Code: CodeContent, Payload: []byte("ok")}
	buf := make([]byte, 32)
	n, err := m.MarshalBinary(buf, DefaultSerializeOptions())
	require.NoError(t, err)

	// Simulate a second frame following the first on the same stream.
	trailing := append(append([]byte(nil), buf[:n]...), buf[:n]...)

	var out ReliableMessage
	consumed, err := out.UnmarshalBinary(trailing)
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	assert.Equal(t, []byte("ok"), out.Payload)
}

func TestReliableSignalingOptionDispatch(t *testing.T) {
	sig := NewSignalingMessage(CodeCSM, Option{Number: SigMaxMessageSize, Value: uint32(1024)})
	m := ReliableMessage{Code: sig.Code, Options: sig.Options}
	buf := make([]byte, 64)
	n, err := m.MarshalBinary(buf, DefaultSerializeOptions())
	require.NoError(t, err)

	var out ReliableMessage
	_, err = out.UnmarshalBinary(buf[:n])
	require.NoError(t, err)
	require.Len(t, out.Options, 1)
	assert.Equal(t, SigMaxMessageSize, out.Options[0].Number)
	assert.Equal(t, uint32(1024), out.Options[0].Value)
}

func TestReliableNonSignalingOptionDecodesTypedValue(t *testing.T) {
	// A request code (not a signaling code) must decode Uri-Path through
	// the ordinary option catalog (a string), not as opaque bytes.
	m := ReliableMessage{
		Code:    CodeGET,
		Options: Options{{Number: OptURIPath, Value: "core"}},
	}
	buf := make([]byte, 32)
	n, err := m.MarshalBinary(buf, DefaultSerializeOptions())
	require.NoError(t, err)

	var out ReliableMessage
	_, err = out.UnmarshalBinary(buf[:n])
	require.NoError(t, err)
	require.Len(t, out.Options, 1)
	value, ok := out.Options[0].Value.(string)
	require.True(t, ok, "expected Uri-Path to decode to a string, got %T", out.Options[0].Value)
	assert.Equal(t, "core", value)
}
