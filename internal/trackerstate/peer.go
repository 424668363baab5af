// Package trackerstate implements the tracker's announce state machine,
// independent of HTTP: peer lifecycle, seeder/leecher accounting,
// deduplication, and stale-peer expiry.
package trackerstate

import "time"

// Peer is the per-(info_hash,peer_id) record the tracker keeps.
type Peer struct {
	InfoHash      string
	PeerID        string
	IP            string
	Port          uint16
	Uploaded      uint64
	Downloaded    uint64
	Left          uint64
	LastAnnounce  time.Time
}

// IsSeeder reports whether p has the complete file: left==0.
func (p Peer) IsSeeder() bool {
	return p.Left == 0
}

// Active reports whether p's last announce is recent enough to count
// toward aggregates and announce responses.
func (p Peer) Active(now time.Time, staleAge time.Duration) bool {
	return now.Sub(p.LastAnnounce) <= staleAge
}
