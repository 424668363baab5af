package trackerstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sql driver

	"github.com/avidal/gopher-torrent/internal/trackerstate"
)

// schema creates a catalog table keyed by info_hash and a peer table
// keyed by (info_hash, peer_id), with a timestamp index on
// last_announce for age queries.
const schema = `
CREATE TABLE IF NOT EXISTS torrents (
	info_hash TEXT PRIMARY KEY,
	seeders   INTEGER NOT NULL DEFAULT 0,
	leechers  INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS peers (
	info_hash     TEXT NOT NULL,
	peer_id       TEXT NOT NULL,
	ip            TEXT NOT NULL,
	port          INTEGER NOT NULL,
	uploaded      INTEGER NOT NULL,
	downloaded    INTEGER NOT NULL,
	left_bytes    INTEGER NOT NULL,
	last_announce INTEGER NOT NULL,
	PRIMARY KEY (info_hash, peer_id)
);

CREATE INDEX IF NOT EXISTS idx_peers_last_announce ON peers (last_announce);
`

// SQLite is a durable trackerstate.Store backed by an embedded sqlite
// database.
type SQLite struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if absent) a sqlite database at path and
// ensures its schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("trackerstore: opening sqlite3 %q: %w", path, err)
	}
	// sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent announce handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trackerstore: creating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type torrentRow struct {
	InfoHash  string `db:"info_hash"`
	Seeders   int    `db:"seeders"`
	Leechers  int    `db:"leechers"`
	Completed int64  `db:"completed"`
}

func (s *SQLite) GetTorrent(ctx context.Context, infoHash string) (*trackerstate.Torrent, error) {
	var row torrentRow
	err := s.db.GetContext(ctx, &row, `SELECT info_hash, seeders, leechers, completed FROM torrents WHERE info_hash = ?`, infoHash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trackerstore: get torrent: %w", err)
	}
	return &trackerstate.Torrent{
		InfoHash:  row.InfoHash,
		Seeders:   row.Seeders,
		Leechers:  row.Leechers,
		Completed: row.Completed,
	}, nil
}

func (s *SQLite) PutTorrent(ctx context.Context, t *trackerstate.Torrent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrents (info_hash, seeders, leechers, completed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(info_hash) DO UPDATE SET seeders=excluded.seeders, leechers=excluded.leechers, completed=excluded.completed
	`, t.InfoHash, t.Seeders, t.Leechers, t.Completed)
	if err != nil {
		return fmt.Errorf("trackerstore: put torrent: %w", err)
	}
	return nil
}

func (s *SQLite) ListTorrents(ctx context.Context) ([]*trackerstate.Torrent, error) {
	var rows []torrentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT info_hash, seeders, leechers, completed FROM torrents`); err != nil {
		return nil, fmt.Errorf("trackerstore: list torrents: %w", err)
	}
	out := make([]*trackerstate.Torrent, len(rows))
	for i, r := range rows {
		out[i] = &trackerstate.Torrent{InfoHash: r.InfoHash, Seeders: r.Seeders, Leechers: r.Leechers, Completed: r.Completed}
	}
	return out, nil
}

type peerRow struct {
	InfoHash     string `db:"info_hash"`
	PeerID       string `db:"peer_id"`
	IP           string `db:"ip"`
	Port         int    `db:"port"`
	Uploaded     int64  `db:"uploaded"`
	Downloaded   int64  `db:"downloaded"`
	Left         int64  `db:"left_bytes"`
	LastAnnounce int64  `db:"last_announce"`
}

func (r peerRow) toPeer() *trackerstate.Peer {
	return &trackerstate.Peer{
		InfoHash:     r.InfoHash,
		PeerID:       r.PeerID,
		IP:           r.IP,
		Port:         uint16(r.Port),
		Uploaded:     uint64(r.Uploaded),
		Downloaded:   uint64(r.Downloaded),
		Left:         uint64(r.Left),
		LastAnnounce: time.Unix(r.LastAnnounce, 0).UTC(),
	}
}

func (s *SQLite) GetPeer(ctx context.Context, infoHash, peerID string) (*trackerstate.Peer, error) {
	var row peerRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM peers WHERE info_hash = ? AND peer_id = ?`, infoHash, peerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trackerstore: get peer: %w", err)
	}
	return row.toPeer(), nil
}

func (s *SQLite) PutPeer(ctx context.Context, p *trackerstate.Peer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (info_hash, peer_id, ip, port, uploaded, downloaded, left_bytes, last_announce)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(info_hash, peer_id) DO UPDATE SET
			ip=excluded.ip, port=excluded.port, uploaded=excluded.uploaded,
			downloaded=excluded.downloaded, left_bytes=excluded.left_bytes,
			last_announce=excluded.last_announce
	`, p.InfoHash, p.PeerID, p.IP, p.Port, p.Uploaded, p.Downloaded, p.Left, p.LastAnnounce.UTC().Unix())
	if err != nil {
		return fmt.Errorf("trackerstore: put peer: %w", err)
	}
	return nil
}

func (s *SQLite) DeletePeer(ctx context.Context, infoHash, peerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE info_hash = ? AND peer_id = ?`, infoHash, peerID)
	if err != nil {
		return fmt.Errorf("trackerstore: delete peer: %w", err)
	}
	return nil
}

func (s *SQLite) ListPeers(ctx context.Context, infoHash string) ([]*trackerstate.Peer, error) {
	var rows []peerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM peers WHERE info_hash = ?`, infoHash); err != nil {
		return nil, fmt.Errorf("trackerstore: list peers: %w", err)
	}
	out := make([]*trackerstate.Peer, len(rows))
	for i, r := range rows {
		out[i] = r.toPeer()
	}
	return out, nil
}

func (s *SQLite) ListAllPeers(ctx context.Context) ([]*trackerstate.Peer, error) {
	var rows []peerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM peers`); err != nil {
		return nil, fmt.Errorf("trackerstore: list all peers: %w", err)
	}
	out := make([]*trackerstate.Peer, len(rows))
	for i, r := range rows {
		out[i] = r.toPeer()
	}
	return out, nil
}

var _ trackerstate.Store = (*SQLite)(nil)
