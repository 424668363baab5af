package trackerstate

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Event is the announce event parameter a peer may report on each
// request.
type Event string

const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

var (
	// ErrInvalidInfoHash is returned when info_hash is not 40 hex chars.
	ErrInvalidInfoHash = errors.New("trackerstate: info_hash must be 40 hex characters")
	// ErrInvalidPeerID is returned when peer_id exceeds 20 characters.
	ErrInvalidPeerID = errors.New("trackerstate: peer_id must be at most 20 characters")
	// ErrUnknownTorrent is returned when info_hash does not match a
	// registered torrent.
	ErrUnknownTorrent = errors.New("trackerstate: unknown torrent")
)

// AnnounceRequest is the set of query parameters a tracker announce
// carries.
type AnnounceRequest struct {
	InfoHash   string
	PeerID     string
	IP         string // explicit ip, may be empty
	SourceIP   string // request source IP, used when IP is empty
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Event      Event
}

// AnnounceResponse is what the tracker hands back to the requesting peer.
type AnnounceResponse struct {
	Peers    []Peer
	Interval int
}

// Machine is the pure, HTTP-agnostic announce state machine,
// operating against a Store.
type Machine struct {
	store            Store
	now              func() time.Time
	interval         int
	staleAge         time.Duration
	maxPeersReturned int
}

// NewMachine constructs a Machine. interval is returned to callers in
// every AnnounceResponse (default: 1800s); staleAge is the active-peer
// window (default: 2h); maxPeersReturned caps the peer list (default: 50).
func NewMachine(store Store, interval int, staleAge time.Duration, maxPeersReturned int) *Machine {
	return &Machine{
		store:            store,
		now:              time.Now,
		interval:         interval,
		staleAge:         staleAge,
		maxPeersReturned: maxPeersReturned,
	}
}

// WithClock overrides the Machine's time source, for deterministic
// tests of stale-peer expiry.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Announce validates the request, upserts the peer (or removes it on a
// stopped event), recomputes the torrent's seeder/leecher aggregates,
// and returns the set of other active peers to contact.
func (m *Machine) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	if err := validateAnnounce(req); err != nil {
		return nil, err
	}

	torrent, err := m.store.GetTorrent(ctx, req.InfoHash)
	if err != nil {
		return nil, fmt.Errorf("trackerstate: loading torrent: %w", err)
	}
	if torrent == nil {
		return nil, ErrUnknownTorrent
	}

	ip := req.IP
	if ip == "" {
		ip = req.SourceIP
	}

	now := m.now()

	if req.Event == EventStopped {
		if err := m.store.DeletePeer(ctx, req.InfoHash, req.PeerID); err != nil {
			return nil, fmt.Errorf("trackerstate: deleting peer: %w", err)
		}
		if err := m.recomputeAggregates(ctx, torrent, now); err != nil {
			return nil, err
		}
		return &AnnounceResponse{Peers: nil, Interval: m.interval}, nil
	}

	peer := &Peer{
		InfoHash:     req.InfoHash,
		PeerID:       req.PeerID,
		IP:           ip,
		Port:         req.Port,
		Uploaded:     req.Uploaded,
		Downloaded:   req.Downloaded,
		Left:         req.Left,
		LastAnnounce: now,
	}
	if err := m.store.PutPeer(ctx, peer); err != nil {
		return nil, fmt.Errorf("trackerstate: upserting peer: %w", err)
	}

	if req.Event == EventCompleted {
		torrent.Completed++
		if err := m.store.PutTorrent(ctx, torrent); err != nil {
			return nil, fmt.Errorf("trackerstate: bumping completed counter: %w", err)
		}
	}

	if err := m.recomputeAggregates(ctx, torrent, now); err != nil {
		return nil, err
	}

	others, err := m.activeOtherPeers(ctx, req.InfoHash, req.PeerID, now)
	if err != nil {
		return nil, err
	}

	return &AnnounceResponse{Peers: others, Interval: m.interval}, nil
}

// activeOtherPeers returns up to maxPeersReturned active peers for
// infoHash other than excludePeerID.
func (m *Machine) activeOtherPeers(ctx context.Context, infoHash, excludePeerID string, now time.Time) ([]Peer, error) {
	all, err := m.store.ListPeers(ctx, infoHash)
	if err != nil {
		return nil, fmt.Errorf("trackerstate: listing peers: %w", err)
	}

	active := make([]Peer, 0, len(all))
	for _, p := range all {
		if p.PeerID == excludePeerID {
			continue
		}
		if !p.Active(now, m.staleAge) {
			continue
		}
		active = append(active, *p)
	}

	sort.Slice(active, func(i, j int) bool { return active[i].PeerID < active[j].PeerID })

	if len(active) > m.maxPeersReturned {
		active = active[:m.maxPeersReturned]
	}
	return active, nil
}

// recomputeAggregates recomputes torrent.Seeders/Leechers from active
// peers and persists the result.
func (m *Machine) recomputeAggregates(ctx context.Context, torrent *Torrent, now time.Time) error {
	all, err := m.store.ListPeers(ctx, torrent.InfoHash)
	if err != nil {
		return fmt.Errorf("trackerstate: listing peers for aggregates: %w", err)
	}

	var seeders, leechers int
	for _, p := range all {
		if !p.Active(now, m.staleAge) {
			continue
		}
		if p.IsSeeder() {
			seeders++
		} else {
			leechers++
		}
	}

	torrent.Seeders = seeders
	torrent.Leechers = leechers
	return m.store.PutTorrent(ctx, torrent)
}

func validateAnnounce(req AnnounceRequest) error {
	if len(req.InfoHash) != 40 {
		return ErrInvalidInfoHash
	}
	if _, err := hex.DecodeString(req.InfoHash); err != nil {
		return ErrInvalidInfoHash
	}
	if len(req.PeerID) > 20 {
		return ErrInvalidPeerID
	}
	return nil
}

// CleanupLoopback deletes every peer record whose IP is 127.0.0.1.
// Idempotent.
func (m *Machine) CleanupLoopback(ctx context.Context) error {
	all, err := m.store.ListAllPeers(ctx)
	if err != nil {
		return fmt.Errorf("trackerstate: listing all peers: %w", err)
	}
	for _, p := range all {
		if p.IP == "127.0.0.1" {
			if err := m.store.DeletePeer(ctx, p.InfoHash, p.PeerID); err != nil {
				return fmt.Errorf("trackerstate: deleting loopback peer: %w", err)
			}
		}
	}
	return nil
}

// Deduplicate keeps, for every (info_hash, ip, port), only the record
// with the latest last_announce, deleting the rest. Idempotent.
func (m *Machine) Deduplicate(ctx context.Context) error {
	all, err := m.store.ListAllPeers(ctx)
	if err != nil {
		return fmt.Errorf("trackerstate: listing all peers: %w", err)
	}

	type key struct {
		infoHash string
		ip       string
		port     uint16
	}

	latest := make(map[key]*Peer)
	for _, p := range all {
		k := key{p.InfoHash, p.IP, p.Port}
		if cur, ok := latest[k]; !ok || p.LastAnnounce.After(cur.LastAnnounce) {
			latest[k] = p
		}
	}

	for _, p := range all {
		k := key{p.InfoHash, p.IP, p.Port}
		if latest[k].PeerID != p.PeerID {
			if err := m.store.DeletePeer(ctx, p.InfoHash, p.PeerID); err != nil {
				return fmt.Errorf("trackerstate: deduplicating peer: %w", err)
			}
		}
	}
	return nil
}
