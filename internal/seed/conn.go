package seed

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/avidal/gopher-torrent/internal/peerwire"
)

// peerHandler serves one accepted connection: handshake, unconditional
// unchoke + bitfield announcement, then a request/interested loop until
// the peer disconnects or goes idle past the inactivity timeout.
type peerHandler struct {
	server *Server
	conn   net.Conn

	interested bool
}

func (h *peerHandler) serve(ctx context.Context) error {
	infoHash, err := decodeInfoHash(h.server.descriptor.InfoHash)
	if err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, h.server.timeouts.Connect)
	peerHS, err := peerwire.ReceiveHandshake(hctx, h.conn, &infoHash, h.server.timeouts.Connect)
	cancel()
	if err != nil {
		return fmt.Errorf("seed: receiving handshake: %w", err)
	}

	hctx, cancel = context.WithTimeout(ctx, h.server.timeouts.Connect)
	err = peerwire.SendHandshake(hctx, h.conn, peerwire.Handshake{InfoHash: infoHash, PeerID: h.server.self}, h.server.timeouts.Connect)
	cancel()
	if err != nil {
		return fmt.Errorf("seed: sending handshake: %w", err)
	}
	_ = peerHS // remote peer id, logged below

	h.server.log.Infow("peer connected", "addr", h.conn.RemoteAddr().String(), "remote_peer_id", hex.EncodeToString(peerHS.PeerID[:]))

	if err := h.sendBitfield(ctx); err != nil {
		return err
	}
	if err := h.sendUnchoke(ctx); err != nil {
		return err
	}

	for {
		msg, err := h.receive(ctx)
		if err != nil {
			return fmt.Errorf("seed: receiving message: %w", err)
		}
		if msg.IsKeepAlive() {
			continue
		}

		switch msg.ID {
		case peerwire.Interested:
			h.interested = true
			if err := h.sendUnchoke(ctx); err != nil {
				return err
			}
		case peerwire.NotInterested:
			h.interested = false
		case peerwire.Request:
			if err := h.serveRequest(ctx, msg.Payload); err != nil {
				return err
			}
		case peerwire.Cancel:
			// best-effort server: requests are served synchronously, so
			// there is nothing in flight to cancel.
		}
	}
}

// serveRequest answers one REQUEST. An out-of-bounds request, or one whose
// bytes cannot be read from the backing file, is logged and skipped rather
// than closing the connection; a malformed request payload, or a framing
// or socket error on the reply, propagates up and ends the session.
func (h *peerHandler) serveRequest(ctx context.Context, payload []byte) error {
	index, offset, length, err := peerwire.DecodeRequestPayload(payload)
	if err != nil {
		return fmt.Errorf("seed: decoding request: %w", err)
	}
	if int(index) >= len(h.server.sections) {
		h.server.log.Warnw("request for out-of-range piece", "addr", h.conn.RemoteAddr().String(), "index", index)
		return nil
	}
	pieceLen := h.server.descriptor.PieceLength(int(index))
	if int64(offset)+int64(length) > pieceLen {
		h.server.log.Warnw("request exceeds piece bounds", "addr", h.conn.RemoteAddr().String(), "index", index, "offset", offset, "length", length, "piece_length", pieceLen)
		return nil
	}

	buf := make([]byte, length)
	if _, err := h.server.sections[index].ReadAt(buf, int64(offset)); err != nil {
		h.server.log.Warnw("reading piece for request", "addr", h.conn.RemoteAddr().String(), "index", index, "offset", offset, "error", err)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.server.timeouts.Message)
	defer cancel()
	payloadOut := peerwire.EncodePiecePayload(index, offset, buf)
	return peerwire.Send(sendCtx, h.conn, peerwire.Message{ID: peerwire.Piece, Payload: payloadOut}, h.server.timeouts.Message)
}

func (h *peerHandler) sendBitfield(ctx context.Context) error {
	n := len(h.server.sections)
	numBytes := (n + 7) / 8
	full := make([]byte, numBytes)
	for i := 0; i < n; i++ {
		full[i/8] |= 1 << uint(7-i%8)
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.server.timeouts.Message)
	defer cancel()
	return peerwire.Send(sendCtx, h.conn, peerwire.Message{ID: peerwire.Bitfield, Payload: full}, h.server.timeouts.Message)
}

func (h *peerHandler) sendUnchoke(ctx context.Context) error {
	sendCtx, cancel := context.WithTimeout(ctx, h.server.timeouts.Message)
	defer cancel()
	return peerwire.Send(sendCtx, h.conn, peerwire.Message{ID: peerwire.Unchoke}, h.server.timeouts.Message)
}

func (h *peerHandler) receive(ctx context.Context) (peerwire.Message, error) {
	recvCtx, cancel := context.WithTimeout(ctx, h.server.timeouts.Inactivity)
	defer cancel()
	return peerwire.Receive(recvCtx, h.conn, peerwire.DefaultMaxPayloadSize, h.server.timeouts.Inactivity)
}

func decodeInfoHash(s string) ([20]byte, error) {
	var out [20]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 20 {
		return out, fmt.Errorf("seed: decoding info_hash %q: %w", s, err)
	}
	copy(out[:], b)
	return out, nil
}
