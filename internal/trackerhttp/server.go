// Package trackerhttp exposes trackerstate.Machine and a metainfo
// catalog over HTTP using gorilla/mux.
package trackerhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"go.uber.org/zap"

	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/trackerstate"
)

// Server wires a trackerstate.Machine and a metainfo.Descriptor catalog
// to an http.Handler.
type Server struct {
	machine  *trackerstate.Machine
	store    trackerstate.Store
	torrents metainfoStore
	log      *zap.SugaredLogger
	router   *mux.Router
}

// metainfoStore is the subset of descriptor storage the HTTP layer
// needs: register a descriptor on upload, look one up by info_hash, and
// list every registered descriptor.
type metainfoStore interface {
	Put(ctx context.Context, d *metainfo.Descriptor) error
	Get(ctx context.Context, infoHash string) (*metainfo.Descriptor, error)
	List(ctx context.Context) ([]*metainfo.Descriptor, error)
}

// NewServer builds a Server with all routes registered.
func NewServer(machine *trackerstate.Machine, store trackerstate.Store, torrents metainfoStore, log *zap.SugaredLogger) *Server {
	s := &Server{machine: machine, store: store, torrents: torrents, log: log, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents", s.handleCreateTorrent).Methods(http.MethodPost)
	s.router.HandleFunc("/torrents", s.handleListTorrents).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents/{info_hash}", s.handleGetTorrent).Methods(http.MethodGet)
	s.router.HandleFunc("/torrents/{info_hash}/download", s.handleDownloadDescriptor).Methods(http.MethodGet)
	s.router.HandleFunc("/announce", s.handleAnnounce).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/peers/{info_hash}", s.handleListPeers).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/peers/cleanup", s.handleCleanupLoopback).Methods(http.MethodPost)
	s.router.HandleFunc("/peers/deduplicate", s.handleDeduplicate).Methods(http.MethodPost)
}

// requestTimeout bounds every handler's call into the Machine/Store, so
// a slow backend cannot hang an HTTP worker indefinitely.
const requestTimeout = 5 * time.Second

func (s *Server) reqContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
