// Package seed implements the peer-facing side of serving a torrent: an
// acceptor loop over a pre-split backing file, handing each connection
// off to a handshake-then-serve loop, one goroutine per connection.
package seed

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/avidal/gopher-torrent/internal/download"
	"github.com/avidal/gopher-torrent/internal/metainfo"
)

// Server accepts peer connections and serves pieces of one file out of
// a backing *os.File, pre-split into one io.SectionReader per piece.
type Server struct {
	descriptor *metainfo.Descriptor
	self       metainfo.PeerID
	sections   []*io.SectionReader
	timeouts   download.Timeouts
	log        *zap.SugaredLogger
}

// New opens path (must report descriptor.Length bytes) and builds a
// Server ready to Accept connections for descriptor.
func New(descriptor *metainfo.Descriptor, path string, self metainfo.PeerID, timeouts download.Timeouts, log *zap.SugaredLogger) (*Server, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seed: opening backing file %q: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seed: stat %q: %w", path, err)
	}
	if fi.Size() != descriptor.Length {
		f.Close()
		return nil, fmt.Errorf("seed: backing file %q is %d bytes, descriptor wants %d", path, fi.Size(), descriptor.Length)
	}

	sections := make([]*io.SectionReader, descriptor.NumPieces())
	offset := int64(0)
	for i := range sections {
		length := descriptor.PieceLength(i)
		sections[i] = io.NewSectionReader(f, offset, length)
		offset += length
	}

	return &Server{descriptor: descriptor, self: self, sections: sections, timeouts: timeouts, log: log}, nil
}

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails permanently.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("seed: accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	c := &peerHandler{server: s, conn: conn}
	if err := c.serve(ctx); err != nil {
		s.log.Infow("peer connection ended", "addr", conn.RemoteAddr().String(), "error", err)
	}
}
