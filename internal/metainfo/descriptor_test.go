package metainfo

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorPieceLength(t *testing.T) {
	tests := []struct {
		desc        string
		length      int64
		pieceLength int64
		wantNum     int
		wantLast    int64
	}{
		{desc: "evenly divisible", length: 3 << 20, pieceLength: 1 << 20, wantNum: 3, wantLast: 1 << 20},
		{desc: "remainder", length: 3<<20 + 100, pieceLength: 1 << 20, wantNum: 4, wantLast: 100},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			d := &Descriptor{Length: tt.length, PieceLength: tt.pieceLength}
			assert.Equal(t, tt.wantNum, d.NumPieces())
			assert.Equal(t, tt.wantLast, d.PieceLength(tt.wantNum-1))
			for i := 0; i < tt.wantNum-1; i++ {
				assert.Equal(t, tt.pieceLength, d.PieceLength(i))
			}
		})
	}
}

func TestDescriptorValidate(t *testing.T) {
	good := &Descriptor{Length: 32, PieceLength: 16, Pieces: make(Pieces, 40)}
	require.NoError(t, good.Validate())

	badPieceLen := &Descriptor{Length: 40, PieceLength: 3, Pieces: make(Pieces, 40)}
	assert.ErrorIs(t, badPieceLen.Validate(), ErrInvalidPieceLength)

	badPiecesLen := &Descriptor{Length: 32, PieceLength: 16, Pieces: make(Pieces, 21)}
	assert.ErrorIs(t, badPiecesLen.Validate(), ErrInvalidPiecesLength)

	mismatch := &Descriptor{Length: 32, PieceLength: 16, Pieces: make(Pieces, 20)}
	assert.ErrorIs(t, mismatch.Validate(), ErrPieceCountMismatch)
}

func TestPiecesJSONRoundTrip(t *testing.T) {
	p := Pieces{0xde, 0xad, 0xbe, 0xef}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `"deadbeef"`, string(b))

	var p2 Pieces
	require.NoError(t, json.Unmarshal(b, &p2))
	assert.True(t, bytes.Equal(p, p2))
}

func TestFromFile(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 21)
	d, err := FromFile(bytes.NewReader(data), "x.bin", int64(len(data)), 8, "http://tracker.example/announce")
	require.NoError(t, err)

	assert.Equal(t, 3, d.NumPieces())
	assert.Equal(t, int64(5), d.PieceLength(2))
	require.NoError(t, d.Validate())
	assert.NotEmpty(t, d.InfoHash)

	h0, err := d.PieceHash(0)
	require.NoError(t, err)
	assert.NotEqual(t, [PieceHashSize]byte{}, h0)

	_, err = d.PieceHash(99)
	assert.Error(t, err)
}

func TestInfoHashDeterministic(t *testing.T) {
	pieces := Pieces(bytes.Repeat([]byte{0x01}, 20))
	h1, err := InfoHash("a", 20, 20, pieces)
	require.NoError(t, err)
	h2, err := InfoHash("a", 20, 20, pieces)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := InfoHash("b", 20, 20, pieces)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
