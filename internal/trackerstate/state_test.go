package trackerstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avidal/gopher-torrent/internal/trackerstate"
	"github.com/avidal/gopher-torrent/internal/trackerstore"
)

const infoHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newMachine(t *testing.T, now time.Time) (*trackerstate.Machine, *trackerstore.Memory) {
	t.Helper()
	store := trackerstore.NewMemory()
	require.NoError(t, store.PutTorrent(context.Background(), &trackerstate.Torrent{InfoHash: infoHash}))
	m := trackerstate.NewMachine(store, 1800, 2*time.Hour, 50).WithClock(func() time.Time { return now })
	return m, store
}

func TestAnnounceRejectsUnknownTorrent(t *testing.T) {
	m, _ := newMachine(t, time.Now())
	_, err := m.Announce(context.Background(), trackerstate.AnnounceRequest{
		InfoHash: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		PeerID:   "peer1",
		Port:     6881,
	})
	assert.ErrorIs(t, err, trackerstate.ErrUnknownTorrent)
}

func TestAnnounceRejectsMalformedInfoHash(t *testing.T) {
	m, _ := newMachine(t, time.Now())
	_, err := m.Announce(context.Background(), trackerstate.AnnounceRequest{InfoHash: "short", PeerID: "p"})
	assert.ErrorIs(t, err, trackerstate.ErrInvalidInfoHash)
}

func TestAnnounceLifecycleStartedThenStopped(t *testing.T) {
	now := time.Now()
	m, store := newMachine(t, now)

	_, err := m.Announce(context.Background(), trackerstate.AnnounceRequest{
		InfoHash: infoHash, PeerID: "peer1", SourceIP: "10.0.0.1", Port: 6881, Left: 100, Event: trackerstate.EventStarted,
	})
	require.NoError(t, err)

	peer, err := store.GetPeer(context.Background(), infoHash, "peer1")
	require.NoError(t, err)
	require.NotNil(t, peer)

	_, err = m.Announce(context.Background(), trackerstate.AnnounceRequest{
		InfoHash: infoHash, PeerID: "peer1", SourceIP: "10.0.0.1", Port: 6881, Event: trackerstate.EventStopped,
	})
	require.NoError(t, err)

	peer, err = store.GetPeer(context.Background(), infoHash, "peer1")
	require.NoError(t, err)
	assert.Nil(t, peer, "peer must be absent after a stopped event")
}

func TestAnnounceCompletedIncrementsCounterOnce(t *testing.T) {
	now := time.Now()
	m, store := newMachine(t, now)

	req := trackerstate.AnnounceRequest{InfoHash: infoHash, PeerID: "peer1", SourceIP: "10.0.0.1", Port: 6881, Left: 100, Event: trackerstate.EventStarted}
	_, err := m.Announce(context.Background(), req)
	require.NoError(t, err)

	req.Event = trackerstate.EventCompleted
	req.Left = 0
	_, err = m.Announce(context.Background(), req)
	require.NoError(t, err)

	torrent, err := store.GetTorrent(context.Background(), infoHash)
	require.NoError(t, err)
	assert.EqualValues(t, 1, torrent.Completed)
}

func TestAnnounceIdempotence(t *testing.T) {
	now := time.Now()
	m, store := newMachine(t, now)
	req := trackerstate.AnnounceRequest{InfoHash: infoHash, PeerID: "peer1", SourceIP: "10.0.0.1", Port: 6881, Left: 50}

	_, err := m.Announce(context.Background(), req)
	require.NoError(t, err)
	_, err = m.Announce(context.Background(), req)
	require.NoError(t, err)

	peers, err := store.ListPeers(context.Background(), infoHash)
	require.NoError(t, err)
	assert.Len(t, peers, 1, "two identical announces must yield at most one peer record")
}

func TestSeederLeecherAccounting(t *testing.T) {
	now := time.Now()
	m, store := newMachine(t, now)

	_, err := m.Announce(context.Background(), trackerstate.AnnounceRequest{InfoHash: infoHash, PeerID: "seeder1", SourceIP: "10.0.0.1", Port: 1, Left: 0})
	require.NoError(t, err)
	_, err = m.Announce(context.Background(), trackerstate.AnnounceRequest{InfoHash: infoHash, PeerID: "leecher1", SourceIP: "10.0.0.2", Port: 2, Left: 10})
	require.NoError(t, err)

	torrent, err := store.GetTorrent(context.Background(), infoHash)
	require.NoError(t, err)
	assert.Equal(t, 1, torrent.Seeders)
	assert.Equal(t, 1, torrent.Leechers)
}

func TestStalePeerExpiry(t *testing.T) {
	base := time.Now()
	m, store := newMachine(t, base)

	_, err := m.Announce(context.Background(), trackerstate.AnnounceRequest{InfoHash: infoHash, PeerID: "stale1", SourceIP: "10.0.0.1", Port: 1, Left: 10})
	require.NoError(t, err)

	// advance the clock past the 2h staleness window and announce a
	// second, fresh peer.
	later := base.Add(3 * time.Hour)
	m2 := trackerstate.NewMachine(store, 1800, 2*time.Hour, 50).WithClock(func() time.Time { return later })

	resp, err := m2.Announce(context.Background(), trackerstate.AnnounceRequest{InfoHash: infoHash, PeerID: "fresh1", SourceIP: "10.0.0.2", Port: 2, Left: 10})
	require.NoError(t, err)

	for _, p := range resp.Peers {
		assert.NotEqual(t, "stale1", p.PeerID, "stale peer must be excluded from announce responses")
	}

	torrent, err := store.GetTorrent(context.Background(), infoHash)
	require.NoError(t, err)
	assert.Equal(t, 0, torrent.Seeders)
	assert.Equal(t, 1, torrent.Leechers, "stale peer must not count toward aggregates")
}

func TestCleanupLoopback(t *testing.T) {
	m, store := newMachine(t, time.Now())
	require.NoError(t, store.PutPeer(context.Background(), &trackerstate.Peer{InfoHash: infoHash, PeerID: "a", IP: "127.0.0.1", LastAnnounce: time.Now()}))
	require.NoError(t, store.PutPeer(context.Background(), &trackerstate.Peer{InfoHash: infoHash, PeerID: "b", IP: "10.0.0.1", LastAnnounce: time.Now()}))

	require.NoError(t, m.CleanupLoopback(context.Background()))

	peers, err := store.ListAllPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "b", peers[0].PeerID)

	require.NoError(t, m.CleanupLoopback(context.Background())) // idempotent
}

func TestDeduplicateKeepsLatest(t *testing.T) {
	m, store := newMachine(t, time.Now())
	now := time.Now()
	require.NoError(t, store.PutPeer(context.Background(), &trackerstate.Peer{InfoHash: infoHash, PeerID: "old", IP: "10.0.0.1", Port: 6881, LastAnnounce: now.Add(-time.Hour)}))
	require.NoError(t, store.PutPeer(context.Background(), &trackerstate.Peer{InfoHash: infoHash, PeerID: "new", IP: "10.0.0.1", Port: 6881, LastAnnounce: now}))

	require.NoError(t, m.Deduplicate(context.Background()))

	peers, err := store.ListAllPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "new", peers[0].PeerID)
}
