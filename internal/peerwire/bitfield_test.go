package peerwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/willf/bitset"
)

func TestEncodeBitfieldMSBFirstWithZeroPadding(t *testing.T) {
	bf := bitset.New(10)
	bf.Set(0) // piece 0 -> MSB of byte 0
	bf.Set(9) // piece 9 -> bit 1 of byte 1 (bit index 7-(9%8)=7-1=6)

	encoded := EncodeBitfield(bf, 10)
	assert.Len(t, encoded, 2)
	assert.Equal(t, byte(0b10000000), encoded[0])
	assert.Equal(t, byte(0b01000000), encoded[1])
	// remaining bits in the final byte must be zero padding.
	assert.Equal(t, byte(0), encoded[1]&0b00111111)
}

func TestDecodeBitfieldRoundTrip(t *testing.T) {
	bf := bitset.New(20)
	for _, i := range []uint{0, 3, 7, 8, 19} {
		bf.Set(i)
	}

	wire := EncodeBitfield(bf, 20)
	decoded := DecodeBitfield(wire, 20)

	for i := uint(0); i < 20; i++ {
		assert.Equal(t, bf.Test(i), decoded.Test(i), "bit %d mismatch", i)
	}
}
