package download_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avidal/gopher-torrent/internal/download"
	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/peerwire"
	"github.com/avidal/gopher-torrent/internal/seed"
	"github.com/avidal/gopher-torrent/internal/xlog"
)

func writeTempFile(t *testing.T, size int) (path string, data []byte) {
	t.Helper()
	data = make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path = filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func testTimeouts() download.Timeouts {
	return download.Timeouts{Connect: 2 * time.Second, Message: 2 * time.Second, Inactivity: 2 * time.Second}
}

func TestDownloadFromSingleSeeder(t *testing.T) {
	srcPath, want := writeTempFile(t, 300_000)

	descriptor, err := metainfo.FromPath(srcPath, 1<<16, "")
	require.NoError(t, err)

	seederID, err := metainfo.RandomPeerID(1)
	require.NoError(t, err)
	downloaderID, err := metainfo.RandomPeerID(2)
	require.NoError(t, err)

	srv, err := seed.New(descriptor, srcPath, seederID, testTimeouts(), xlog.Noop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go srv.Serve(ctx, ln)

	engine := download.NewEngine(descriptor, downloaderID, 1, testTimeouts(), xlog.Noop())
	err = engine.Run(ctx, []string{ln.Addr().String()})
	require.NoError(t, err)

	done, total := engine.Progress()
	assert.Equal(t, total, done)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, engine.Flush(outPath))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDownloadRecoversFromOneFailingPeer(t *testing.T) {
	srcPath, want := writeTempFile(t, 200_000)

	descriptor, err := metainfo.FromPath(srcPath, 1<<16, "")
	require.NoError(t, err)

	seederID, err := metainfo.RandomPeerID(3)
	require.NoError(t, err)
	downloaderID, err := metainfo.RandomPeerID(4)
	require.NoError(t, err)

	srv, err := seed.New(descriptor, srcPath, seederID, testTimeouts(), xlog.Noop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go srv.Serve(ctx, ln)

	// a bogus address alongside the real seeder: the engine must still
	// complete using the working peer.
	deadListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := deadListener.Addr().String()
	deadListener.Close() // nothing will accept on this address anymore

	engine := download.NewEngine(descriptor, downloaderID, 2, testTimeouts(), xlog.Noop())
	err = engine.Run(ctx, []string{deadAddr, ln.Addr().String()})
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, engine.Flush(outPath))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEnginePauseHaltsRequestsUntilResume(t *testing.T) {
	srcPath, want := writeTempFile(t, 300_000)

	descriptor, err := metainfo.FromPath(srcPath, 1<<16, "")
	require.NoError(t, err)

	seederID, err := metainfo.RandomPeerID(5)
	require.NoError(t, err)
	downloaderID, err := metainfo.RandomPeerID(6)
	require.NoError(t, err)

	srv, err := seed.New(descriptor, srcPath, seederID, testTimeouts(), xlog.Noop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go srv.Serve(ctx, ln)

	engine := download.NewEngine(descriptor, downloaderID, 1, testTimeouts(), xlog.Noop())
	engine.Pause()

	runErr := make(chan error, 1)
	go func() {
		runErr <- engine.Run(ctx, []string{ln.Addr().String()})
	}()

	// Paused before Run observed any peer, so no connection -- and hence
	// no REQUEST -- should be made until Resume.
	time.Sleep(200 * time.Millisecond)
	completed, _ := engine.Progress()
	assert.Equal(t, 0, completed, "no pieces should complete while paused")

	engine.Resume()
	require.NoError(t, <-runErr)

	completed, total := engine.Progress()
	assert.Equal(t, total, completed)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, engine.Flush(outPath))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// maliciousSeeder accepts one connection, completes the handshake, claims
// every piece, unchokes immediately, and answers every REQUEST with
// corrupted data (every byte 0xFF) -- it never serves a correct piece.
func maliciousSeeder(t *testing.T, descriptor *metainfo.Descriptor, self metainfo.PeerID, timeouts download.Timeouts) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		ctx := context.Background()
		var infoHash [20]byte
		raw, err := hex.DecodeString(descriptor.InfoHash)
		if err != nil || len(raw) != 20 {
			return
		}
		copy(infoHash[:], raw)

		peerHS, err := peerwire.ReceiveHandshake(ctx, conn, &infoHash, timeouts.Connect)
		if err != nil {
			return
		}
		if err := peerwire.SendHandshake(ctx, conn, peerwire.Handshake{InfoHash: infoHash, PeerID: self}, timeouts.Connect); err != nil {
			return
		}
		_ = peerHS

		numPieces := descriptor.NumPieces()
		bf := make([]byte, (numPieces+7)/8)
		for i := 0; i < numPieces; i++ {
			bf[i/8] |= 1 << uint(7-i%8)
		}
		if err := peerwire.Send(ctx, conn, peerwire.Message{ID: peerwire.Bitfield, Payload: bf}, timeouts.Message); err != nil {
			return
		}
		if err := peerwire.Send(ctx, conn, peerwire.Message{ID: peerwire.Unchoke}, timeouts.Message); err != nil {
			return
		}

		for {
			msg, err := peerwire.Receive(ctx, conn, peerwire.DefaultMaxPayloadSize, timeouts.Inactivity)
			if err != nil {
				return
			}
			if msg.IsKeepAlive() || msg.ID != peerwire.Request {
				continue
			}
			index, offset, length, err := peerwire.DecodeRequestPayload(msg.Payload)
			if err != nil {
				continue
			}
			garbage := make([]byte, length)
			for i := range garbage {
				garbage[i] = 0xFF
			}
			payload := peerwire.EncodePiecePayload(index, offset, garbage)
			if err := peerwire.Send(ctx, conn, peerwire.Message{ID: peerwire.Piece, Payload: payload}, timeouts.Message); err != nil {
				return
			}
		}
	}()

	return ln
}

func TestDownloadRecoversFromBitFlippingSeeder(t *testing.T) {
	srcPath, want := writeTempFile(t, 300_000)

	descriptor, err := metainfo.FromPath(srcPath, 1<<16, "")
	require.NoError(t, err)

	honestID, err := metainfo.RandomPeerID(7)
	require.NoError(t, err)
	maliciousID, err := metainfo.RandomPeerID(8)
	require.NoError(t, err)
	downloaderID, err := metainfo.RandomPeerID(9)
	require.NoError(t, err)

	srv, err := seed.New(descriptor, srcPath, honestID, testTimeouts(), xlog.Noop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go srv.Serve(ctx, ln)

	badLn := maliciousSeeder(t, descriptor, maliciousID, testTimeouts())
	defer badLn.Close()

	engine := download.NewEngine(descriptor, downloaderID, 2, testTimeouts(), xlog.Noop())
	err = engine.Run(ctx, []string{badLn.Addr().String(), ln.Addr().String()})
	require.NoError(t, err)

	done, total := engine.Progress()
	assert.Equal(t, total, done)

	outPath := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, engine.Flush(outPath))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
