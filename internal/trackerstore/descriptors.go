package trackerstore

import (
	"context"
	"sync"

	"github.com/avidal/gopher-torrent/internal/metainfo"
)

// DescriptorStore holds registered metainfo.Descriptors keyed by
// info_hash, independent of the peer/torrent aggregate state in Memory
// and SQLite.
type DescriptorStore struct {
	mu    sync.RWMutex
	byHash map[string]*metainfo.Descriptor
}

// NewDescriptorStore creates an empty DescriptorStore.
func NewDescriptorStore() *DescriptorStore {
	return &DescriptorStore{byHash: make(map[string]*metainfo.Descriptor)}
}

func (s *DescriptorStore) Put(_ context.Context, d *metainfo.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.byHash[d.InfoHash] = &cp
	return nil
}

func (s *DescriptorStore) Get(_ context.Context, infoHash string) (*metainfo.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byHash[infoHash]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *DescriptorStore) List(_ context.Context) ([]*metainfo.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*metainfo.Descriptor, 0, len(s.byHash))
	for _, d := range s.byHash {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}
