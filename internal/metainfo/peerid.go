package metainfo

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidPeerIDLength is returned when a string peer id does not
// decode into exactly 20 bytes.
var ErrInvalidPeerIDLength = errors.New("metainfo: peer id must be 20 bytes")

// PeerID is the opaque 20-byte peer identifier carried in handshakes and
// announces.
type PeerID [20]byte

// RandomPeerID generates a fresh PeerID. The first 4 bytes are the
// caller-supplied epoch, little-endian; the remaining 16 are taken from a
// fresh google/uuid, which is what keeps two PeerIDs minted with the same
// epoch distinct and gives the identifier the same collision resistance as
// a random UUID.
//
// Callers mint exactly one PeerID per process/torrent instance and reuse
// it for that instance's lifetime — this function does not cache or
// memoize anything itself.
func RandomPeerID(epoch uint32) (PeerID, error) {
	var p PeerID
	binary.LittleEndian.PutUint32(p[:4], epoch)

	id, err := uuid.NewRandom()
	if err != nil {
		return PeerID{}, err
	}
	copy(p[4:], id[:16])
	return p, nil
}

// ParsePeerID parses a PeerID from its hexadecimal string form.
func ParsePeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != len(PeerID{}) {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// String encodes the PeerID in hexadecimal notation.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// LessThan reports whether p sorts before o, used to break ties
// deterministically in peer tables.
func (p PeerID) LessThan(o PeerID) bool {
	return bytes.Compare(p[:], o[:]) < 0
}
