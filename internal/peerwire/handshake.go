// Package peerwire implements the handshake, message framing, and
// message types of the peer-to-peer protocol. It is shared, unmodified,
// by both the seeder and the downloader.
package peerwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ProtocolName identifies this system's own wire protocol. It is
// deliberately not the standard BitTorrent identifier — this framing is
// similar but not bit-identical to stock BitTorrent.
const ProtocolName = "gopher-torrent protocol"

// ErrProtocolMismatch is returned when a peer's handshake advertises an
// unexpected protocol name.
var ErrProtocolMismatch = errors.New("peerwire: unexpected protocol name in handshake")

// ErrInfoHashMismatch is returned when a peer's handshake carries an
// info_hash that does not match the local torrent.
var ErrInfoHashMismatch = errors.New("peerwire: info hash mismatch in handshake")

// Handshake is the fixed 49+len(protocol_name) byte layout:
// length-prefixed protocol name, 8 reserved bytes, 20-byte info_hash,
// 20-byte peer_id.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// SendHandshake writes h as a handshake frame to conn, using ProtocolName.
func SendHandshake(ctx context.Context, conn net.Conn, h Handshake, timeout time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	buf := make([]byte, 0, 49+len(ProtocolName))
	buf = append(buf, byte(len(ProtocolName)))
	buf = append(buf, ProtocolName...)
	buf = append(buf, make([]byte, 8)...) // reserved, zero
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)

	_, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("peerwire: sending handshake: %w", err)
	}
	return nil
}

// ReceiveHandshake reads and validates a handshake from conn. It returns an
// error if fewer than 49+len(protocol_name) bytes arrive within timeout, if
// the protocol name is unexpected, or if wantInfoHash is non-nil and does
// not match the peer's.
func ReceiveHandshake(ctx context.Context, conn net.Conn, wantInfoHash *[20]byte, timeout time.Duration) (Handshake, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}

	var lenByte [1]byte
	if _, err := io.ReadFull(conn, lenByte[:]); err != nil {
		return Handshake{}, fmt.Errorf("peerwire: reading protocol name length: %w", err)
	}

	rest := make([]byte, int(lenByte[0])+8+20+20)
	if _, err := io.ReadFull(conn, rest); err != nil {
		return Handshake{}, fmt.Errorf("peerwire: reading handshake body: %w", err)
	}

	protocol := string(rest[:lenByte[0]])
	if protocol != ProtocolName {
		return Handshake{}, ErrProtocolMismatch
	}

	offset := int(lenByte[0]) + 8
	var h Handshake
	copy(h.InfoHash[:], rest[offset:offset+20])
	copy(h.PeerID[:], rest[offset+20:offset+40])

	if wantInfoHash != nil && h.InfoHash != *wantInfoHash {
		return Handshake{}, ErrInfoHashMismatch
	}

	return h, nil
}
