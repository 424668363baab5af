package metainfo

import (
	"fmt"
	"io"

	bencode "github.com/jackpal/bencode-go"
)

// legacyFile mirrors the handful of fields a classic bencoded .torrent
// file carries that this system's Descriptor also needs. It does not
// attempt bit-for-bit wire compatibility with any other BitTorrent
// client — only enough to bridge an existing file into our format.
type legacyFile struct {
	Announce string     `bencode:"announce"`
	Info     legacyInfo `bencode:"info"`
}

type legacyInfo struct {
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
}

// ImportBencode reads a legacy bencoded .torrent file and rebuilds it as
// one of our JSON Descriptors, recomputing info_hash over our own
// canonical form. The legacy file's bencode info_hash is never reused:
// hashes in this system are always computed over the JSON encoding.
func ImportBencode(r io.Reader) (*Descriptor, error) {
	var lf legacyFile
	if err := bencode.Unmarshal(r, &lf); err != nil {
		return nil, fmt.Errorf("metainfo: decoding bencoded torrent: %w", err)
	}

	if len(lf.Info.Pieces)%PieceHashSize != 0 {
		return nil, ErrInvalidPiecesLength
	}

	pieces := Pieces(lf.Info.Pieces)
	hash, err := InfoHash(lf.Info.Name, lf.Info.Length, lf.Info.PieceLength, pieces)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Name:        lf.Info.Name,
		Length:      lf.Info.Length,
		PieceLength: lf.Info.PieceLength,
		Pieces:      pieces,
		Announce:    lf.Announce,
		InfoHash:    hash,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
