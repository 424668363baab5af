package metainfo

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// info is the canonical subset of Descriptor that info_hash is computed
// over. Field order here is fixed and alphabetical — together with
// encoding/json's compact, stable-order encoder this gives a sorted-keys,
// minimal-whitespace canonical form without needing a dedicated
// canonical-JSON library (see DESIGN.md).
type info struct {
	Length      int64  `json:"length"`
	Name        string `json:"name"`
	PieceLength int64  `json:"piece_length"`
	Pieces      Pieces `json:"pieces"`
}

// InfoHash computes the SHA-1 of the canonical serialization of the info
// section, hex-encoded.
func InfoHash(name string, length, pieceLength int64, pieces Pieces) (string, error) {
	canonical, err := json.Marshal(info{
		Length:      length,
		Name:        name,
		PieceLength: pieceLength,
		Pieces:      pieces,
	})
	if err != nil {
		return "", fmt.Errorf("metainfo: canonicalize info: %w", err)
	}
	sum := sha1.Sum(canonical)
	return hexEncode(sum[:]), nil
}

// FromFile hashes every piece of r (which must report exactly size bytes)
// and builds a Descriptor with a freshly computed info_hash.
func FromFile(r io.Reader, name string, size, pieceLength int64, announce string) (*Descriptor, error) {
	if pieceLength <= 0 || pieceLength&(pieceLength-1) != 0 {
		return nil, ErrInvalidPieceLength
	}

	numPieces := size / pieceLength
	if size%pieceLength != 0 {
		numPieces++
	}

	pieces := make(Pieces, 0, numPieces*PieceHashSize)
	buf := make([]byte, pieceLength)
	var read int64

	for read < size {
		want := pieceLength
		if remaining := size - read; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("metainfo: reading piece at offset %d: %w", read, err)
		}
		if int64(n) != want {
			return nil, fmt.Errorf("metainfo: short read at offset %d: got %d want %d", read, n, want)
		}
		h := sha1.Sum(buf[:n])
		pieces = append(pieces, h[:]...)
		read += int64(n)
	}

	hash, err := InfoHash(name, size, pieceLength, pieces)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		Name:        name,
		Length:      size,
		PieceLength: pieceLength,
		Pieces:      pieces,
		Announce:    announce,
		InfoHash:    hash,
	}, nil
}

// FromPath is a convenience wrapper around FromFile that stats the file at
// path to obtain its size.
func FromPath(path string, pieceLength int64, announce string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: open %q: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("metainfo: stat %q: %w", path, err)
	}

	return FromFile(f, fi.Name(), fi.Size(), pieceLength, announce)
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
