package coap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	for szx := Block16; szx <= Block1024; szx++ {
		raw, err := EncodeBlock(3, true, szx)
		require.NoError(t, err)
		v := DecodeBlock(raw)
		assert.Equal(t, uint32(3), v.Num)
		assert.True(t, v.More)
		assert.Equal(t, szx, v.SZX)
		assert.Equal(t, 1<<(uint(szx)+4), v.Size())
	}
}

func TestBlockSZXReliableGating(t *testing.T) {
	_, err := EncodeBlock(0, false, blockSZXReliable)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidData, KindOf(err))

	require.NoError(t, validateSZX(blockSZXReliable, true))
	require.Error(t, validateSZX(blockSZXReliable, false))
}

func TestSZXForSize(t *testing.T) {
	szx, err := SZXForSize(64, false)
	require.NoError(t, err)
	assert.Equal(t, Block64, szx)

	_, err = SZXForSize(2048, false)
	require.Error(t, err)

	szx, err = SZXForSize(2048, true)
	require.NoError(t, err)
	assert.Equal(t, blockSZXReliable, szx)
}

func TestNoResponseSuppresses(t *testing.T) {
	mask := NoResponseSuccess | NoResponseServerError
	assert.True(t, mask.Suppresses(CodeContent))
	assert.False(t, mask.Suppresses(CodeBadRequest))
	assert.True(t, mask.Suppresses(CodeInternalServerError))
}
