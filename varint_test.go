package coap

import "testing"

import "github.com/stretchr/testify/assert"

func TestEncodeDecodeUint(t *testing.T) {
	cases := []uint32{0, 1, 255, 256, 65535, 65536, 1<<24 - 1, 1 << 24, 0xffffffff}
	for _, v := range cases {
		enc := encodeUint(v)
		assert.Equal(t, uintWidth(v), len(enc))
		assert.Equal(t, v, decodeUint(enc))
	}
}

func TestSplitExtended(t *testing.T) {
	cases := []struct {
		v             int
		nibble, ext   int
	}{
		{0, 0, 0},
		{12, 12, 0},
		{13, extByteCode, 0},
		{268, extByteCode, 255},
		{269, extWordCode, 0},
		{65804, extWordCode, 65535},
	}
	for _, c := range cases {
		nibble, ext := splitExtended(c.v)
		assert.Equal(t, c.nibble, nibble, "value %d", c.v)
		assert.Equal(t, c.ext, ext, "value %d", c.v)
	}
}
