// Package download drives a multi-peer piece-by-piece download: one
// goroutine per peer connection, sharing a single piece.Manager and a
// reassembly buffer, with pause/resume/stop controls and progress
// reporting layered on top.
package download

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/piece"
)

// Timeouts bounds every blocking socket operation a peer connection
// performs.
type Timeouts struct {
	Connect    time.Duration
	Message    time.Duration
	Inactivity time.Duration
}

type engineState int32

const (
	stateRunning engineState = iota
	statePaused
	stateStopped
)

// Engine coordinates N peer connections downloading one torrent's pieces
// into a Reassembly buffer.
type Engine struct {
	descriptor *metainfo.Descriptor
	manager    *piece.Manager
	reassembly *Reassembly
	self       metainfo.PeerID
	timeouts   Timeouts
	log        *zap.SugaredLogger

	state    atomic.Int32
	maxPeers int

	mu     sync.Mutex
	cancel context.CancelFunc
	conns  map[*peerConn]struct{}
}

// NewEngine builds an Engine for descriptor, ready to connect to peer
// addresses and download into an in-memory reassembly buffer.
func NewEngine(descriptor *metainfo.Descriptor, self metainfo.PeerID, maxPeers int, timeouts Timeouts, log *zap.SugaredLogger) *Engine {
	e := &Engine{
		descriptor: descriptor,
		manager:    piece.NewManager(descriptor.NumPieces()),
		reassembly: NewReassembly(descriptor),
		self:       self,
		timeouts:   timeouts,
		log:        log,
		maxPeers:   maxPeers,
	}
	e.state.Store(int32(stateRunning))
	return e
}

// Run connects to every address in peers (bounded to e.maxPeers
// concurrent connections) and drives the download until every piece is
// complete, the context is cancelled, or Stop is called.
func (e *Engine) Run(ctx context.Context, peers []string) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.conns = make(map[*peerConn]struct{})
	e.mu.Unlock()
	defer cancel()

	peers = dedupePeerAddrs(peers)

	pieces := make(chan deliveredPiece, e.manager.NumPieces())

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxPeers)

	for _, addr := range peers {
		if e.Stopped() {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(addr string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			e.runPeer(runCtx, addr, pieces)
		}(addr)
	}

	go func() {
		wg.Wait()
		close(pieces)
	}()

	for dp := range pieces {
		if err := e.reassembly.Write(dp.index, dp.data); err != nil {
			e.log.Errorw("writing piece", "index", dp.index, "error", err)
			continue
		}
		e.log.Infow("piece complete", "index", dp.index, "done", e.manager.CompletedCount(), "total", e.manager.NumPieces())
	}

	if !e.manager.IsComplete() {
		return fmt.Errorf("download: incomplete, missing %d pieces", len(e.manager.Missing()))
	}
	return nil
}

func (e *Engine) runPeer(ctx context.Context, addr string, pieces chan<- deliveredPiece) {
	for e.Paused() && !e.Stopped() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	if e.Stopped() {
		return
	}

	pc, err := dialPeer(ctx, addr, e.descriptor, e.self, e.manager, e.timeouts, e.log, e.Paused)
	if err != nil {
		e.log.Warnw("peer connection failed", "addr", addr, "error", err)
		return
	}
	e.addConn(pc)
	defer e.removeConn(pc)
	defer pc.close()

	if err := pc.run(ctx, pieces); err != nil {
		e.log.Infow("peer connection ended", "addr", addr, "error", err)
	}
}

func (e *Engine) addConn(pc *peerConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns != nil {
		e.conns[pc] = struct{}{}
	}
}

func (e *Engine) removeConn(pc *peerConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, pc)
}

// dedupePeerAddrs drops repeated (host, port) pairs, keeping the first
// occurrence's original string so malformed entries still pass through.
func dedupePeerAddrs(peers []string) []string {
	seen := make(map[string]struct{}, len(peers))
	out := make([]string, 0, len(peers))
	for _, addr := range peers {
		key := addr
		if host, port, err := net.SplitHostPort(addr); err == nil {
			key = net.JoinHostPort(host, port)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// Pause halts scheduling of new peer connections and, on every already
// connected peer, halts new REQUEST emission; a piece already in flight is
// finished before the connection idles until Resume.
func (e *Engine) Pause() { e.state.Store(int32(statePaused)) }

// Resume clears a Pause.
func (e *Engine) Resume() { e.state.Store(int32(stateRunning)) }

// Stop halts the engine permanently: it cancels the running context and
// closes every currently connected peer socket, so in-flight REQUESTs and
// blocked reads are interrupted immediately rather than idling out.
func (e *Engine) Stop() {
	e.state.Store(int32(stateStopped))

	e.mu.Lock()
	cancel := e.cancel
	conns := make([]*peerConn, 0, len(e.conns))
	for pc := range e.conns {
		conns = append(conns, pc)
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, pc := range conns {
		pc.close()
	}
}

func (e *Engine) Paused() bool  { return engineState(e.state.Load()) == statePaused }
func (e *Engine) Stopped() bool { return engineState(e.state.Load()) == stateStopped }

// Progress reports pieces completed out of the total.
func (e *Engine) Progress() (done, total int) {
	return e.manager.CompletedCount(), e.manager.NumPieces()
}

// Flush writes every completed piece out to path, in order. Callers
// should only call this once Run has returned without error.
func (e *Engine) Flush(path string) error {
	return e.reassembly.Flush(path)
}
