// Package metainfo implements the torrent descriptor: the JSON metadata
// file that crosses the trust boundary between an uploader, the tracker,
// and every seeder/downloader.
package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
)

// PieceHashSize is the length in bytes of one piece's SHA-1 digest.
const PieceHashSize = sha1.Size

var (
	// ErrInvalidPieceLength is returned when Validate finds a piece_length
	// that is not a positive power of two.
	ErrInvalidPieceLength = errors.New("metainfo: piece_length must be a positive power of two")
	// ErrInvalidPiecesLength is returned when the pieces string length is
	// not an exact multiple of the SHA-1 digest size.
	ErrInvalidPiecesLength = errors.New("metainfo: pieces length must be a multiple of 20 bytes")
	// ErrPieceCountMismatch is returned when the number of piece hashes
	// does not match ceil(length / piece_length).
	ErrPieceCountMismatch = errors.New("metainfo: pieces count does not match length/piece_length")
)

// Descriptor is the torrent's metadata: the producer-facing, JSON view of
// §3's "Torrent descriptor". Pieces is stored as raw SHA-1 digests;
// MarshalJSON/UnmarshalJSON render it as the spec's lowercase hex string.
type Descriptor struct {
	Name        string `json:"name"`
	Length      int64  `json:"length"`
	PieceLength int64  `json:"piece_length"`
	Pieces      Pieces `json:"pieces"`
	Announce    string `json:"announce"`
	InfoHash    string `json:"info_hash"`
}

// Pieces is the concatenation of per-piece SHA-1 digests, in index order.
// It (de)serializes to/from the lowercase hex string the spec requires.
type Pieces []byte

// MarshalJSON renders Pieces as a lowercase hex string.
func (p Pieces) MarshalJSON() ([]byte, error) {
	return marshalHexString(p)
}

// UnmarshalJSON parses a lowercase hex string into raw digest bytes.
func (p *Pieces) UnmarshalJSON(b []byte) error {
	decoded, err := unmarshalHexString(b)
	if err != nil {
		return fmt.Errorf("metainfo: pieces: %w", err)
	}
	*p = decoded
	return nil
}

// NumPieces returns ceil(length / piece_length), per §3's invariant.
func (d *Descriptor) NumPieces() int {
	if d.PieceLength == 0 {
		return 0
	}
	n := d.Length / d.PieceLength
	if d.Length%d.PieceLength != 0 {
		n++
	}
	return int(n)
}

// PieceLength returns the length in bytes of piece i. Every piece is
// exactly d.PieceLength except the last, which is
// length - (num_pieces-1)*piece_length — always in (0, piece_length].
// The `length % piece_length` formula is deliberately not used here:
// it is 0 when the file divides evenly.
func (d *Descriptor) PieceLength(i int) int64 {
	n := d.NumPieces()
	if i < n-1 {
		return d.PieceLength
	}
	return d.Length - int64(n-1)*d.PieceLength
}

// PieceHash returns the expected SHA-1 digest of piece i.
func (d *Descriptor) PieceHash(i int) ([PieceHashSize]byte, error) {
	var h [PieceHashSize]byte
	start := i * PieceHashSize
	end := start + PieceHashSize
	if i < 0 || end > len(d.Pieces) {
		return h, fmt.Errorf("metainfo: piece index %d out of range", i)
	}
	copy(h[:], d.Pieces[start:end])
	return h, nil
}

// Validate checks that piece_length is a power of two, pieces length is
// a multiple of 20, and the piece count matches ceil(length/piece_length).
func (d *Descriptor) Validate() error {
	if d.PieceLength <= 0 || d.PieceLength&(d.PieceLength-1) != 0 {
		return ErrInvalidPieceLength
	}
	if len(d.Pieces)%PieceHashSize != 0 {
		return ErrInvalidPiecesLength
	}
	if len(d.Pieces)/PieceHashSize != d.NumPieces() {
		return ErrPieceCountMismatch
	}
	return nil
}

func marshalHexString(b []byte) ([]byte, error) {
	s := hex.EncodeToString(b)
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	out = append(out, s...)
	out = append(out, '"')
	return out, nil
}

func unmarshalHexString(b []byte) ([]byte, error) {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return nil, fmt.Errorf("expected a JSON string")
	}
	return hex.DecodeString(string(b[1 : len(b)-1]))
}
