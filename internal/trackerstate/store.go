package trackerstate

import "context"

// Store is the durable-catalog interface the announce state machine is
// built against: any durable keyed storage for torrents and peers
// suffices. internal/trackerstore provides an in-memory implementation
// (used by the state machine's own tests) and a sqlite-backed one (used
// by cmd/tracker).
type Store interface {
	// GetTorrent returns (nil, nil) if no torrent with this info_hash
	// has been registered.
	GetTorrent(ctx context.Context, infoHash string) (*Torrent, error)
	PutTorrent(ctx context.Context, t *Torrent) error
	ListTorrents(ctx context.Context) ([]*Torrent, error)

	// GetPeer returns (nil, nil) if no such peer exists.
	GetPeer(ctx context.Context, infoHash, peerID string) (*Peer, error)
	PutPeer(ctx context.Context, p *Peer) error
	DeletePeer(ctx context.Context, infoHash, peerID string) error

	// ListPeers returns every peer record for infoHash, active or not;
	// callers filter by Active() themselves.
	ListPeers(ctx context.Context, infoHash string) ([]*Peer, error)

	// ListAllPeers returns every peer record across every torrent, used
	// by the maintenance operations (cleanup_loopback, deduplicate).
	ListAllPeers(ctx context.Context) ([]*Peer, error)
}
