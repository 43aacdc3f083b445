package coap

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestScenario1ConfirmableGET(t *testing.T) {
	msg := Message{
		Type:      Confirmable,
		Code:      CodeGET,
		MessageID: 0x1234,
		Token:     []byte{0x5B, 0x7E},
		Options:   Options{{Number: OptURIPath, Value: "time"}},
	}
	buf := make([]byte, maxPacketSize)
	n, err := msg.MarshalBinary(buf, DefaultSerializeOptions())
	require.NoError(t, err)

	expected := mustHex(t, "420112345B7EB474696D65")
	assert.Equal(t, expected, buf[:n])

	parsed, err := ParseMessage(expected, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, Confirmable, parsed.Type)
	assert.Equal(t, CodeGET, parsed.Code)
	assert.Equal(t, uint16(0x1234), parsed.MessageID)
	assert.Equal(t, []byte{0x5B, 0x7E}, parsed.Token)
	require.Len(t, parsed.Options, 1)
	assert.Equal(t, OptURIPath, parsed.Options[0].Number)
	assert.Equal(t, "time", parsed.Options[0].Value)
}

func TestScenario2PiggybackedResponse(t *testing.T) {
	msg := Message{
		Type:      Acknowledgement,
		Code:      CodeContent,
		MessageID: 0x1234,
		Token:     []byte{0x5B, 0x7E},
		Options:   Options{{Number: OptContentFormat, Value: uint32(TextPlain)}},
		Payload:   []byte("OK"),
	}
	buf := make([]byte, maxPacketSize)
	n, err := msg.MarshalBinary(buf, DefaultSerializeOptions())
	require.NoError(t, err)

	expected := mustHex(t, "624512345B7EC0FF4F4B")
	assert.Equal(t, expected, buf[:n])

	parsed, err := ParseMessage(expected, ParseOptions{})
	require.NoError(t, err)
	assert.Equal(t, Acknowledgement, parsed.Type)
	assert.Equal(t, CodeContent, parsed.Code)
	assert.Equal(t, []byte("OK"), parsed.Payload)
}

func TestEmptyMessageInvariants(t *testing.T) {
	msg := Message{Type: Acknowledgement, Code: CodeEmpty, MessageID: 7}
	buf := make([]byte, maxPacketSize)
	n, err := msg.MarshalBinary(buf, DefaultSerializeOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	bad := Message{Type: Acknowledgement, Code: CodeEmpty, MessageID: 7, Payload: []byte("x")}
	_, err = bad.MarshalBinary(buf, DefaultSerializeOptions())
	require.Error(t, err)
	assert.Equal(t, ErrEmptyFormatError, KindOf(err))
}

func TestTokenLengthBoundaries(t *testing.T) {
	buf := make([]byte, maxPacketSize)

	for _, n := range []int{0, 1, 8} {
		msg := Message{Type: Confirmable, Code: CodeGET, MessageID: 1, Token: make([]byte, n)}
		_, err := msg.MarshalBinary(buf, DefaultSerializeOptions())
		assert.NoError(t, err, "token length %d should be valid", n)
	}

	msg := Message{Type: Confirmable, Code: CodeGET, MessageID: 1, Token: make([]byte, 9)}
	_, err := msg.MarshalBinary(buf, DefaultSerializeOptions())
	require.Error(t, err)
	assert.Equal(t, ErrInvalidTokenLength, KindOf(err))
}

func TestParseExtendedDoesNotReproduceArithmeticBug(t *testing.T) {
	// nibble 13 means "+13, read one more byte as the extension" — the
	// extension byte alone carries the offset, it is never re-added to
	// the nibble value itself.
	val, rest, err := parseExtended(extByteCode, []byte{0, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, extByteAddend, val)
	assert.Equal(t, []byte{0xAA}, rest)

	val, rest, err = parseExtended(extWordCode, []byte{0x00, 0x01, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, extWordAddend+1, val)
	assert.Equal(t, []byte{0xAA}, rest)
}

func TestInsufficientBufferNeverWritesPastBound(t *testing.T) {
	msg := Message{Type: Confirmable, Code: CodeGET, MessageID: 1, Options: Options{{Number: OptURIPath, Value: "time"}}}
	tiny := make([]byte, 3)
	_, err := msg.MarshalBinary(tiny, DefaultSerializeOptions())
	require.Error(t, err)
	assert.Equal(t, ErrInsufficientBuffer, KindOf(err))
}
