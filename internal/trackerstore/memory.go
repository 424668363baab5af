// Package trackerstore provides Store implementations backing
// trackerstate.Machine: an in-memory one, and a sqlite-backed durable
// one that cmd/tracker uses.
package trackerstore

import (
	"context"
	"sync"

	"github.com/avidal/gopher-torrent/internal/trackerstate"
)

type peerKey struct {
	infoHash string
	peerID   string
}

// Memory is an in-memory trackerstate.Store, the implementation the
// announce state machine's own unit tests run against.
type Memory struct {
	mu       sync.RWMutex
	torrents map[string]*trackerstate.Torrent
	peers    map[peerKey]*trackerstate.Peer
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		torrents: make(map[string]*trackerstate.Torrent),
		peers:    make(map[peerKey]*trackerstate.Peer),
	}
}

func (s *Memory) GetTorrent(_ context.Context, infoHash string) (*trackerstate.Torrent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.torrents[infoHash]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *Memory) PutTorrent(_ context.Context, t *trackerstate.Torrent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.torrents[t.InfoHash] = &cp
	return nil
}

func (s *Memory) ListTorrents(_ context.Context) ([]*trackerstate.Torrent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*trackerstate.Torrent, 0, len(s.torrents))
	for _, t := range s.torrents {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Memory) GetPeer(_ context.Context, infoHash, peerID string) (*trackerstate.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[peerKey{infoHash, peerID}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) PutPeer(_ context.Context, p *trackerstate.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.peers[peerKey{p.InfoHash, p.PeerID}] = &cp
	return nil
}

func (s *Memory) DeletePeer(_ context.Context, infoHash, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, peerKey{infoHash, peerID})
	return nil
}

func (s *Memory) ListPeers(_ context.Context, infoHash string) ([]*trackerstate.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*trackerstate.Peer, 0)
	for k, p := range s.peers {
		if k.infoHash == infoHash {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Memory) ListAllPeers(_ context.Context) ([]*trackerstate.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*trackerstate.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

var _ trackerstate.Store = (*Memory)(nil)
