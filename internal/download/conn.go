package download

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/peerwire"
	"github.com/avidal/gopher-torrent/internal/piece"
)

const blockSize = 1 << 14 // 16 KiB

// maxHashFailures is the number of distinct pieces a peer may deliver
// with a bad hash before the connection is dropped as malicious.
const maxHashFailures = 3

// peerConn drives one peer connection's contribution to a download:
// handshake, unchoke/bitfield wait, then request pieces from the shared
// piece.Manager until none remain eligible or the connection fails.
type peerConn struct {
	addr       string
	conn       net.Conn
	descriptor *metainfo.Descriptor
	manager    *piece.Manager
	self       metainfo.PeerID
	timeouts   Timeouts
	log        *zap.SugaredLogger
	paused     func() bool

	choked    bool
	bitfield  []bool
	badPieces map[int]struct{}
	failures  int
}

func dialPeer(ctx context.Context, addr string, descriptor *metainfo.Descriptor, self metainfo.PeerID, manager *piece.Manager, timeouts Timeouts, log *zap.SugaredLogger, paused func() bool) (*peerConn, error) {
	dialer := net.Dialer{Timeout: timeouts.Connect}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("download: dialing %s: %w", addr, err)
	}

	infoHash, err := decodeHash(descriptor.InfoHash)
	if err != nil {
		conn.Close()
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, timeouts.Connect)
	defer cancel()
	if err := peerwire.SendHandshake(hctx, conn, peerwire.Handshake{InfoHash: infoHash, PeerID: self}, timeouts.Connect); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := peerwire.ReceiveHandshake(hctx, conn, &infoHash, timeouts.Connect); err != nil {
		conn.Close()
		return nil, err
	}

	return &peerConn{
		addr:       addr,
		conn:       conn,
		descriptor: descriptor,
		manager:    manager,
		self:       self,
		timeouts:   timeouts,
		log:        log,
		paused:     paused,
		choked:     true,
	}, nil
}

func (pc *peerConn) close() {
	pc.conn.Close()
}

// run drives the peer until interrupted, returning delivered pieces on
// pieces and recording failures on the Manager so another connection can
// retry them.
func (pc *peerConn) run(ctx context.Context, pieces chan<- deliveredPiece) error {
	sendCtx, cancel := context.WithTimeout(ctx, pc.timeouts.Message)
	err := peerwire.Send(sendCtx, pc.conn, peerwire.Message{ID: peerwire.Interested}, pc.timeouts.Message)
	cancel()
	if err != nil {
		return fmt.Errorf("download: peer %s: sending interested: %w", pc.addr, err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := pc.receive(ctx)
		if err != nil {
			return err
		}
		if msg.IsKeepAlive() {
			continue
		}

		switch msg.ID {
		case peerwire.Bitfield:
			pc.recordBitfield(msg.Payload)
		case peerwire.Have:
			index, err := peerwire.DecodeHavePayload(msg.Payload)
			if err == nil {
				pc.setHas(int(index))
				pc.manager.RecordPeerPieces([]int{int(index)})
			}
		case peerwire.Unchoke:
			pc.choked = false
		case peerwire.Choke:
			pc.choked = true
		}

		if !pc.choked && pc.bitfield != nil {
			break
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := pc.waitWhilePaused(ctx); err != nil {
			return err
		}
		if pc.choked {
			if err := pc.waitForUnchoke(ctx); err != nil {
				return err
			}
		}

		index, ok := pc.manager.NextToRequest(pc.has)
		if !ok {
			// A piece this peer has may still be in flight on another
			// connection; wait in case that delivery fails and it returns.
			pending := false
			for i := 0; i < pc.manager.NumPieces() && !pending; i++ {
				pending = pc.has(i) && pc.manager.State(i) == piece.Requested
			}
			if !pending {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		pc.manager.MarkRequested(index)

		data, err := pc.downloadPiece(ctx, index)
		if err != nil {
			pc.manager.MarkNotRequested(index)
			return err
		}

		hash, herr := pc.descriptor.PieceHash(index)
		if herr != nil {
			pc.manager.MarkNotRequested(index)
			return herr
		}
		sum := sha1.Sum(data)
		if !bytes.Equal(sum[:], hash[:]) {
			pc.log.Warnw("piece hash mismatch", "peer", pc.addr, "index", index)
			pc.manager.MarkNotRequested(index)
			pc.demote(index)
			if pc.failures >= maxHashFailures {
				return fmt.Errorf("download: peer %s: exceeded hash failure threshold (%d)", pc.addr, pc.failures)
			}
			continue
		}

		pc.manager.MarkCompleted(index)
		select {
		case pieces <- deliveredPiece{index: index, data: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (pc *peerConn) downloadPiece(ctx context.Context, index int) ([]byte, error) {
	length := pc.descriptor.PieceLength(index)
	data := make([]byte, 0, length)

	for offset := int64(0); offset < length; offset += blockSize {
		want := int64(blockSize)
		if remaining := length - offset; remaining < want {
			want = remaining
		}

		sendCtx, cancel := context.WithTimeout(ctx, pc.timeouts.Message)
		payload := peerwire.EncodeRequestPayload(uint32(index), uint32(offset), uint32(want))
		err := peerwire.Send(sendCtx, pc.conn, peerwire.Message{ID: peerwire.Request, Payload: payload}, pc.timeouts.Message)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("download: peer %s: requesting piece %d offset %d: %w", pc.addr, index, offset, err)
		}

		block, err := pc.awaitPiece(ctx, index)
		if err != nil {
			return nil, err
		}
		data = append(data, block...)
	}

	return data, nil
}

func (pc *peerConn) awaitPiece(ctx context.Context, wantIndex int) ([]byte, error) {
	for {
		msg, err := pc.receive(ctx)
		if err != nil {
			return nil, err
		}
		if msg.IsKeepAlive() {
			continue
		}
		switch msg.ID {
		case peerwire.Piece:
			index, _, data, err := peerwire.DecodePiecePayload(msg.Payload)
			if err != nil {
				continue
			}
			if int(index) != wantIndex {
				continue
			}
			return data, nil
		case peerwire.Choke:
			pc.choked = true
			return nil, fmt.Errorf("download: peer %s: choked mid-piece %d", pc.addr, wantIndex)
		}
	}
}

// waitWhilePaused blocks new REQUEST emission while the engine is paused,
// returning promptly once ctx is cancelled (by Stop or an outer timeout).
func (pc *peerConn) waitWhilePaused(ctx context.Context) error {
	for pc.paused != nil && pc.paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// demote excludes index from future selection against this connection and
// counts a strike toward maxHashFailures, so a peer is never asked again
// for a piece it delivered corrupted, and is dropped outright once it has
// corrupted maxHashFailures distinct pieces.
func (pc *peerConn) demote(index int) {
	if pc.badPieces == nil {
		pc.badPieces = make(map[int]struct{})
	}
	pc.badPieces[index] = struct{}{}
	pc.failures++
}

func (pc *peerConn) waitForUnchoke(ctx context.Context) error {
	for pc.choked {
		msg, err := pc.receive(ctx)
		if err != nil {
			return err
		}
		if msg.ID == peerwire.Unchoke {
			pc.choked = false
		}
	}
	return nil
}

func (pc *peerConn) receive(ctx context.Context) (peerwire.Message, error) {
	recvCtx, cancel := context.WithTimeout(ctx, pc.timeouts.Inactivity)
	defer cancel()
	return peerwire.Receive(recvCtx, pc.conn, peerwire.DefaultMaxPayloadSize, pc.timeouts.Inactivity)
}

func (pc *peerConn) recordBitfield(payload []byte) {
	n := pc.descriptor.NumPieces()
	pc.bitfield = make([]bool, n)
	have := make([]int, 0, n)
	for i := 0; i < n; i++ {
		byteIndex := i / 8
		if byteIndex >= len(payload) {
			break
		}
		if (payload[byteIndex]>>uint(7-i%8))&1 == 1 {
			pc.bitfield[i] = true
			have = append(have, i)
		}
	}
	pc.manager.RecordPeerPieces(have)
}

func (pc *peerConn) setHas(index int) {
	if pc.bitfield == nil {
		pc.bitfield = make([]bool, pc.descriptor.NumPieces())
	}
	if index >= 0 && index < len(pc.bitfield) {
		pc.bitfield[index] = true
	}
}

func (pc *peerConn) has(index int) bool {
	if index < 0 || index >= len(pc.bitfield) || !pc.bitfield[index] {
		return false
	}
	if _, bad := pc.badPieces[index]; bad {
		return false
	}
	return true
}

func decodeHash(s string) ([20]byte, error) {
	var out [20]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return out, fmt.Errorf("download: decoding info_hash %q: %w", s, err)
	}
	copy(out[:], b)
	return out, nil
}

type deliveredPiece struct {
	index int
	data  []byte
}
