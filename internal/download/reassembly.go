package download

import (
	"fmt"
	"os"
	"sync"

	"github.com/avidal/gopher-torrent/internal/metainfo"
)

// Reassembly buffers completed pieces in memory, keyed by index, until
// Flush writes the whole file out in one pass.
type Reassembly struct {
	mu         sync.Mutex
	descriptor *metainfo.Descriptor
	pieces     map[int][]byte
}

// NewReassembly creates an empty Reassembly for descriptor.
func NewReassembly(descriptor *metainfo.Descriptor) *Reassembly {
	return &Reassembly{descriptor: descriptor, pieces: make(map[int][]byte)}
}

// Write records a verified piece's bytes. Safe for concurrent callers.
func (r *Reassembly) Write(index int, data []byte) error {
	want := r.descriptor.PieceLength(index)
	if int64(len(data)) != want {
		return fmt.Errorf("download: piece %d has %d bytes, want %d", index, len(data), want)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pieces[index] = data
	return nil
}

// Flush writes every recorded piece to path in order, truncates the file
// to the descriptor's total length, and fsyncs before closing.
func (r *Reassembly) Flush(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("download: creating output file %q: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(r.descriptor.Length); err != nil {
		return fmt.Errorf("download: truncating output file %q: %w", path, err)
	}

	offset := int64(0)
	for i := 0; i < r.descriptor.NumPieces(); i++ {
		data, ok := r.pieces[i]
		if !ok {
			return fmt.Errorf("download: piece %d missing from reassembly buffer", i)
		}
		if _, err := f.WriteAt(data, offset); err != nil {
			return fmt.Errorf("download: writing piece %d at offset %d: %w", i, offset, err)
		}
		offset += int64(len(data))
	}

	if offset != r.descriptor.Length {
		return fmt.Errorf("download: reassembled %d bytes, want %d", offset, r.descriptor.Length)
	}

	return f.Sync()
}
