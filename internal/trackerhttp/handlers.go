package trackerhttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/trackerstate"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// maxUploadMemory bounds the in-memory part of a multipart upload; larger
// parts spill to temp files, per net/http's usual multipart handling.
const maxUploadMemory = 32 << 20 // 32 MiB

// handleUpload accepts a multipart "file" field, hashes it into a fresh
// Descriptor, registers it, and creates a Torrent registry entry,
// returning the Descriptor as JSON.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	if name == "" {
		name = "upload"
	}
	pieceLength := int64(1 << 18) // 256 KiB default
	if v := r.FormValue("piece_length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid piece_length"))
			return
		}
		pieceLength = n
	}

	body, err := io.ReadAll(io.LimitReader(file, 1<<34))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	d, err := metainfo.FromFile(newByteReader(body), name, int64(len(body)), pieceLength, r.FormValue("announce"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.registerDescriptor(w, r, d)
}

// handleCreateTorrent registers a pre-built Descriptor (e.g. produced by
// cmd/torrentgen) sent as a JSON body.
func (s *Server) handleCreateTorrent(w http.ResponseWriter, r *http.Request) {
	var d metainfo.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.registerDescriptor(w, r, &d)
}

func (s *Server) registerDescriptor(w http.ResponseWriter, r *http.Request, d *metainfo.Descriptor) {
	ctx, cancel := s.reqContext(r)
	defer cancel()

	if err := s.torrents.Put(ctx, d); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.PutTorrent(ctx, &trackerstate.Torrent{InfoHash: d.InfoHash}); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Infow("registered torrent", "info_hash", d.InfoHash, "name", d.Name)
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqContext(r)
	defer cancel()

	list, err := s.torrents.List(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request) {
	infoHash := mux.Vars(r)["info_hash"]
	ctx, cancel := s.reqContext(r)
	defer cancel()

	d, err := s.torrents.Get(ctx, infoHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, errors.New("unknown torrent"))
		return
	}

	torrent, err := s.store.GetTorrent(ctx, infoHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var seeders, leechers int
	var completed int64
	if torrent != nil {
		seeders = torrent.Seeders
		leechers = torrent.Leechers
		completed = torrent.Completed
	}

	writeJSON(w, http.StatusOK, struct {
		*metainfo.Descriptor
		Seeders   int   `json:"seeders"`
		Leechers  int   `json:"leechers"`
		Completed int64 `json:"completed"`
	}{Descriptor: d, Seeders: seeders, Leechers: leechers, Completed: completed})
}

func (s *Server) handleDownloadDescriptor(w http.ResponseWriter, r *http.Request) {
	infoHash := mux.Vars(r)["info_hash"]
	ctx, cancel := s.reqContext(r)
	defer cancel()

	d, err := s.torrents.Get(ctx, infoHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, errors.New("unknown torrent"))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	port, err := strconv.ParseUint(q.Get("port"), 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid or missing port"))
		return
	}
	uploaded, _ := strconv.ParseUint(q.Get("uploaded"), 10, 64)
	downloaded, _ := strconv.ParseUint(q.Get("downloaded"), 10, 64)
	left, _ := strconv.ParseUint(q.Get("left"), 10, 64)

	host, _, _ := splitHostPort(r.RemoteAddr)

	req := trackerstate.AnnounceRequest{
		InfoHash:   q.Get("info_hash"),
		PeerID:     q.Get("peer_id"),
		IP:         q.Get("ip"),
		SourceIP:   host,
		Port:       uint16(port),
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		Event:      trackerstate.Event(q.Get("event")),
	}

	ctx, cancel := s.reqContext(r)
	defer cancel()

	resp, err := s.machine.Announce(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, trackerstate.ErrUnknownTorrent):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, trackerstate.ErrInvalidInfoHash), errors.Is(err, trackerstate.ErrInvalidPeerID):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	infoHash := mux.Vars(r)["info_hash"]
	ctx, cancel := s.reqContext(r)
	defer cancel()

	peers, err := s.store.ListPeers(ctx, infoHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqContext(r)
	defer cancel()

	torrents, err := s.store.ListTorrents(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var seeders, leechers int
	var completed int64
	for _, t := range torrents {
		seeders += t.Seeders
		leechers += t.Leechers
		completed += t.Completed
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"torrents":  len(torrents),
		"seeders":   seeders,
		"leechers":  leechers,
		"completed": completed,
	})
}

func (s *Server) handleCleanupLoopback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqContext(r)
	defer cancel()

	if err := s.machine.CleanupLoopback(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeduplicate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.reqContext(r)
	defer cancel()

	if err := s.machine.Deduplicate(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
