// Package piece implements the picker: the component that decides, for
// every outgoing block request to a remote peer, which piece and which
// intra-piece byte offset to ask for. It tracks per-sub-block state, the
// endgame overlay, and the monotone advancement cursor described by the
// picker state machine.
package piece

import (
	"log/slog"
	"sync"

	"github.com/prxssh/ripple/pkg/availabilitybucket"
	"github.com/prxssh/ripple/pkg/bitfield"
	"github.com/prxssh/ripple/pkg/logging"
)

// Strategy selects the scan order normal-phase pick uses.
type Strategy uint8

const (
	// Sequential scans piece indices in ascending order starting at the
	// cursor. Simple, good locality, the default.
	Sequential Strategy = iota

	// RarestFirst scans pieces ordered by ascending holder count, as
	// reported via PieceAvailable/PieceGone.
	RarestFirst
)

func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case RarestFirst:
		return "rarest-first"
	default:
		return "unknown"
	}
}

// waiter records which peers currently hold an outstanding request for a
// scheduled sub-block.
type waiter[P comparable] map[P]struct{}

// Picker is the request planner for a single torrent. All exported methods
// are safe for concurrent use: each acquires the Picker's own mutex for the
// duration of the call, giving every torrent a single logical owner of its
// scheduling state at a time via exclusive ownership rather than an
// explicit work queue. P is the caller's peer identifier type (e.g.
// netip.AddrPort, or a plain int/string in tests and the swarm simulator).
type Picker[P comparable] struct {
	mu sync.Mutex

	scale       int
	numPieces   int
	totalBlocks int

	// pieces is 1 at sub-block i iff i has been scheduled (in-flight or
	// done) — not iff it is done.
	pieces *bitfield.Field

	waiting      map[int]struct{}
	waitingPeers map[int]waiter[P]

	pieceIdx   int
	endgameCnt int

	strategy Strategy
	avail    *availabilitybucket.Bucket // non-nil only for RarestFirst

	maxDupRequests int

	log *slog.Logger
}

// NewSequential constructs a Picker that scans pieces in ascending index
// order.
func NewSequential[P comparable](numPieces int, pieceLen, totalLen int64, maxDupRequests int) (*Picker[P], error) {
	return newPicker[P](numPieces, pieceLen, totalLen, Sequential, 0, maxDupRequests)
}

// NewRarestFirst constructs a Picker that scans pieces ordered by ascending
// holder count. maxHolders bounds the availability structure's holder-count
// range (typically the maximum number of peers the torrent will ever track
// at once); a holder count is clamped to this bound.
func NewRarestFirst[P comparable](numPieces int, pieceLen, totalLen int64, maxHolders, maxDupRequests int) (*Picker[P], error) {
	return newPicker[P](numPieces, pieceLen, totalLen, RarestFirst, maxHolders, maxDupRequests)
}

func newPicker[P comparable](numPieces int, pieceLen, totalLen int64, strategy Strategy, maxHolders, maxDupRequests int) (*Picker[P], error) {
	scale, _, totalBlocks, err := sizing(numPieces, pieceLen, totalLen)
	if err != nil {
		return nil, err
	}
	if maxDupRequests <= 0 {
		maxDupRequests = 1
	}

	pk := &Picker[P]{
		scale:          scale,
		numPieces:      numPieces,
		totalBlocks:    totalBlocks,
		pieces:         bitfield.New(totalBlocks),
		waiting:        make(map[int]struct{}),
		waitingPeers:   make(map[int]waiter[P]),
		endgameCnt:     totalBlocks,
		strategy:       strategy,
		maxDupRequests: maxDupRequests,
		log:            logging.New("picker"),
	}

	if strategy == RarestFirst {
		if maxHolders <= 0 {
			maxHolders = 1
		}
		pk.avail = availabilitybucket.NewBucket(numPieces, maxHolders)
	}

	return pk, nil
}

// NumPieces returns the torrent's piece count.
func (pk *Picker[P]) NumPieces() int { return pk.numPieces }

// Scale returns the number of sub-blocks per full piece.
func (pk *Picker[P]) Scale() int { return pk.scale }

// TotalBlocks returns the total number of sub-blocks tracked.
func (pk *Picker[P]) TotalBlocks() int { return pk.totalBlocks }

// PieceIdx returns the current advancement cursor: the smallest piece index
// not yet entirely done.
func (pk *Picker[P]) PieceIdx() int {
	pk.mu.Lock()
	defer pk.mu.Unlock()
	return pk.pieceIdx
}

// EndgameCount returns the number of sub-blocks never yet scheduled.
func (pk *Picker[P]) EndgameCount() int {
	pk.mu.Lock()
	defer pk.mu.Unlock()
	return pk.endgameCnt
}

// InEndgame reports whether every sub-block has been scheduled at least
// once.
func (pk *Picker[P]) InEndgame() bool {
	pk.mu.Lock()
	defer pk.mu.Unlock()
	return pk.endgameCnt == 0
}

// Complete reports whether every sub-block the Picker tracks is scheduled
// and no longer waiting — i.e. the whole torrent is done.
func (pk *Picker[P]) Complete() bool {
	pk.mu.Lock()
	defer pk.mu.Unlock()
	return pk.pieces.Complete() && len(pk.waiting) == 0
}
