// Package piece implements a concurrent-safe piece state machine:
// availability tracking, rarest-first selection, and completion
// bookkeeping, shared across every peer connection task of one download.
//
// It is the only cross-task shared mutable datum in the download engine,
// exposed as a single synchronized object with short critical sections
// rather than per-task replicas.
package piece

import (
	"sync"

	"github.com/willf/bitset"
)

// State is a piece's lifecycle state.
type State int

const (
	Missing State = iota
	Requested
	Completed
)

// Manager tracks, for one torrent instance, which pieces are missing,
// in flight, or done, plus how many known peers hold each piece. All
// operations are atomic with respect to each other.
type Manager struct {
	mu           sync.Mutex
	states       []State
	availability []int
	completed    *bitset.BitSet
	numPieces    int
}

// NewManager creates a Manager for a torrent with numPieces pieces, all
// initially Missing.
func NewManager(numPieces int) *Manager {
	return &Manager{
		states:       make([]State, numPieces),
		availability: make([]int, numPieces),
		completed:    bitset.New(uint(numPieces)),
		numPieces:    numPieces,
	}
}

// RecordPeerPieces increments availability for each index a peer is
// known to hold (from a BITFIELD or HAVE message).
func (m *Manager) RecordPeerPieces(indices []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, i := range indices {
		if i >= 0 && i < m.numPieces {
			m.availability[i]++
		}
	}
}

// Eligible is a predicate used by NextToRequest to restrict selection to
// pieces a specific peer actually has.
type Eligible func(index int) bool

// NextToRequest returns an index that is Missing, has availability >= 1,
// eligible(index) is true, and whose availability is minimal among such
// indices (rarest-first), ties broken by lowest index. It has no side
// effect: callers must call MarkRequested themselves.
func (m *Manager) NextToRequest(eligible Eligible) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := -1
	bestAvailability := 0

	for i := 0; i < m.numPieces; i++ {
		if m.states[i] != Missing {
			continue
		}
		if m.availability[i] < 1 {
			continue
		}
		if eligible != nil && !eligible(i) {
			continue
		}
		if best == -1 || m.availability[i] < bestAvailability {
			best = i
			bestAvailability = m.availability[i]
		}
	}

	if best == -1 {
		return 0, false
	}
	return best, true
}

// MarkRequested transitions piece i from Missing to Requested. It is a
// no-op if i is already Completed.
func (m *Manager) MarkRequested(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[i] == Completed {
		return
	}
	m.states[i] = Requested
}

// MarkNotRequested transitions piece i from Requested back to Missing.
// Used when a send fails or a delivered piece fails its hash check.
func (m *Manager) MarkNotRequested(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[i] == Requested {
		m.states[i] = Missing
	}
}

// MarkCompleted transitions piece i to Completed from any state.
func (m *Manager) MarkCompleted(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[i] = Completed
	m.completed.Set(uint(i))
}

// IsComplete reports whether every piece is Completed.
func (m *Manager) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int(m.completed.Count()) == m.numPieces
}

// Missing returns the indices of every piece not yet Completed, for
// recovery/diagnostics.
func (m *Manager) Missing() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int, 0, m.numPieces)
	for i, s := range m.states {
		if s != Completed {
			out = append(out, i)
		}
	}
	return out
}

// CompletedCount returns the number of pieces currently Completed, used
// for progress reporting.
func (m *Manager) CompletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int(m.completed.Count())
}

// NumPieces returns the total piece count this Manager was created with.
func (m *Manager) NumPieces() int {
	return m.numPieces
}

// State returns the current state of piece i.
func (m *Manager) State(i int) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.states[i]
}
