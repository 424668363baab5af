package peerwire

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultMaxPayloadSize is the decoder's default frame size ceiling; the
// decoder rejects any frame whose payload_length exceeds it.
const DefaultMaxPayloadSize = 1 << 20

// ErrFrameTooLarge is returned when a frame's payload_length exceeds the
// configured ceiling.
var ErrFrameTooLarge = fmt.Errorf("peerwire: frame payload exceeds maximum size")

// Encode serializes m into the 4-byte-length-prefixed wire framing. A
// keep-alive (m.IsKeepAlive()) encodes as the 4 zero bytes.
func Encode(m Message) []byte {
	if m.IsKeepAlive() {
		return []byte{0, 0, 0, 0}
	}

	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Decode reads one framed message from r, enforcing maxPayload as the
// ceiling on payload_length. A payload_length of 0 decodes to the
// keep-alive message.
func Decode(r io.Reader, maxPayload uint32) (Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return Message{}, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return Message{}, nil
	}
	if length > maxPayload {
		return Message{}, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("peerwire: reading frame body: %w", err)
	}

	payload := body[1:]
	if len(payload) == 0 {
		payload = nil
	}
	return Message{ID: MessageID(body[0]), Payload: payload}, nil
}

// Send writes m to conn with a bounded write deadline. timeout is
// passed explicitly rather than relying on an ambient deadline.
func Send(ctx context.Context, conn net.Conn, m Message, timeout time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := conn.Write(Encode(m))
	if err != nil {
		return fmt.Errorf("peerwire: sending message id=%s: %w", m.ID, err)
	}
	return nil
}

// Receive reads one message from conn with a bounded read deadline.
func Receive(ctx context.Context, conn net.Conn, maxPayload uint32, timeout time.Duration) (Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(timeout))
	}
	return Decode(conn, maxPayload)
}

// EncodeRequestPayload builds the piece_index/offset/length payload
// shared by REQUEST and CANCEL messages.
func EncodeRequestPayload(index, offset, length uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], offset)
	binary.BigEndian.PutUint32(buf[8:12], length)
	return buf
}

// DecodeRequestPayload parses the piece_index/offset/length payload
// shared by REQUEST and CANCEL messages.
func DecodeRequestPayload(payload []byte) (index, offset, length uint32, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, fmt.Errorf("peerwire: request payload must be 12 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]),
		binary.BigEndian.Uint32(payload[4:8]),
		binary.BigEndian.Uint32(payload[8:12]),
		nil
}

// EncodePiecePayload builds the piece_index/offset/data payload for a
// PIECE message.
func EncodePiecePayload(index, offset uint32, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], offset)
	copy(buf[8:], data)
	return buf
}

// DecodePiecePayload parses the piece_index/offset/data payload of a
// PIECE message.
func DecodePiecePayload(payload []byte) (index, offset uint32, data []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peerwire: piece payload too short: %d bytes", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]),
		binary.BigEndian.Uint32(payload[4:8]),
		payload[8:],
		nil
}

// EncodeHavePayload builds the piece_index payload for a HAVE message.
func EncodeHavePayload(index uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, index)
	return buf
}

// DecodeHavePayload parses the piece_index payload of a HAVE message.
func DecodeHavePayload(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("peerwire: have payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// roundTripBuffer is used by tests to exercise Encode/Decode against an
// in-memory byte stream without a real socket.
func roundTripBuffer(m Message) (Message, error) {
	buf := bytes.NewBuffer(Encode(m))
	return Decode(buf, DefaultMaxPayloadSize)
}
