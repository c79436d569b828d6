// Package swarm is a discrete-tick simulation harness used to measure a
// Picker strategy's convergence efficiency: how many ticks it takes every
// peer in a synthetic swarm to finish downloading from one seeded peer.
// It does not model any wire protocol — peers exchange abstract piece
// indices directly — which is the point: it isolates the picker's own
// scheduling quality from transport concerns entirely out of scope here.
package swarm

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/prxssh/ripple/pkg/bitfield"
	"github.com/prxssh/ripple/pkg/config"
	"github.com/prxssh/ripple/pkg/piece"
)

// TestCfg parameterizes a Simulation: swarm size, connectivity, and
// per-tick request throughput. Strategy and per-sub-block request limits
// come from pkg/config, not from TestCfg, since those are the picker's own
// process-wide tunables rather than swarm-shape parameters.
type TestCfg struct {
	Pieces       int
	Peers        int
	ReqPerTick   int
	ReqQueueLen  int
	UnchokeLimit int
	ConnectLimit int

	// RequestTimeoutTicks, when positive, makes a peer give up on a request
	// that has sat unanswered for this many ticks and call Forget on it
	// rather than wait for the endgame path. Zero disables this entirely.
	RequestTimeoutTicks int

	// ChurnEveryTicks, when positive, disconnects one random connected peer
	// pair every N ticks, reporting each peer's currently-held pieces as
	// gone to the other's picker. Zero disables churn.
	ChurnEveryTicks int
}

// request is a pending upload obligation: peerID has asked the holder of
// this request queue for piece.
type request struct {
	peerID int
	piece  int
}

// Peer is one swarm participant. Each peer owns its own Picker instance
// tracking what IT still needs, using connected peers' advertised bitfields
// to decide what to request next.
type Peer struct {
	id     int
	pieces *bitfield.Field
	picker *piece.Picker[int]

	connected  []int
	unchoked   []int
	unchokedBy []int

	requests       []request
	requestedCount map[int]int

	// overdue tracks when each outstanding request (keyed by piece index,
	// since the simulation always uses one sub-block per piece) was issued,
	// so a stalled one can be handed to picker.Forget instead of waiting
	// for endgame.
	overdue *piece.OverdueTracker

	completedAtTick int // -1 until this peer's pieces.Complete()
}

// Simulation runs a synthetic swarm of cfg.Peers peers sharing cfg.Pieces
// pieces, one of whom starts complete, to convergence or a tick budget.
type Simulation struct {
	cfg   TestCfg
	rng   *rand.Rand
	peers []*Peer
	ticks int
}

const simPieceLen = piece.Block

// NewSimulation builds a swarm per cfg, wiring each peer's connect/unchoke
// sets from rng so callers can reproduce a run by reusing the same source.
// Each peer's Picker is constructed from the current process config
// (config.Load()): DefaultStrategy picks Sequential vs RarestFirst, and
// MaxRequestsPerBlock bounds endgame duplicate requests.
func NewSimulation(cfg TestCfg, rng *rand.Rand) (*Simulation, error) {
	if cfg.Peers < 2 {
		return nil, fmt.Errorf("swarm: need at least 2 peers, got %d", cfg.Peers)
	}
	if cfg.ConnectLimit > cfg.Peers {
		cfg.ConnectLimit = cfg.Peers
	}
	if cfg.UnchokeLimit > cfg.ConnectLimit {
		cfg.UnchokeLimit = cfg.ConnectLimit
	}

	peers := make([]*Peer, cfg.Peers)
	for i := range peers {
		pk, err := newPeerPicker(cfg, i)
		if err != nil {
			return nil, fmt.Errorf("swarm: new picker for peer %d: %w", i, err)
		}

		connected := samplePeers(rng, cfg.Peers, cfg.ConnectLimit, i)
		unchoked := sampleSubset(rng, connected, cfg.UnchokeLimit)

		peers[i] = &Peer{
			id:              i,
			pieces:          bitfield.New(cfg.Pieces),
			picker:          pk,
			connected:       connected,
			unchoked:        unchoked,
			requestedCount:  make(map[int]int),
			overdue:         piece.NewOverdueTracker(),
			completedAtTick: -1,
		}
	}

	return &Simulation{cfg: cfg, rng: rng, peers: peers}, nil
}

func newPeerPicker(cfg TestCfg, id int) (*piece.Picker[int], error) {
	totalLen := int64(simPieceLen) * int64(cfg.Pieces)
	c := config.Load()
	if c.DefaultStrategy == piece.RarestFirst {
		return piece.NewRarestFirst[int](cfg.Pieces, simPieceLen, totalLen, cfg.Peers, c.MaxRequestsPerBlock)
	}
	return piece.NewSequential[int](cfg.Pieces, simPieceLen, totalLen, c.MaxRequestsPerBlock)
}

// samplePeers returns up to limit distinct peer ids in [0, n), excluding
// self, in random order.
func samplePeers(rng *rand.Rand, n, limit, self int) []int {
	pool := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != self {
			pool = append(pool, i)
		}
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if limit > len(pool) {
		limit = len(pool)
	}
	return append([]int(nil), pool[:limit]...)
}

// sampleSubset returns up to limit distinct elements of pool in random
// order.
func sampleSubset(rng *rand.Rand, pool []int, limit int) []int {
	cp := append([]int(nil), pool...)
	rng.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	if limit > len(cp) {
		limit = len(cp)
	}
	return append([]int(nil), cp[:limit]...)
}

// Init seeds peer 0 with the complete torrent and wires the initial
// unchoked-by relationships (the inverse of each peer's unchoked list).
func (s *Simulation) Init() {
	seed := s.peers[0]
	for i := 0; i < s.cfg.Pieces; i++ {
		seed.pieces.Set(i)
	}

	for _, p := range s.peers {
		for _, targetID := range p.unchoked {
			target := s.peers[targetID]
			target.unchokedBy = append(target.unchokedBy, p.id)
		}
	}
}

// contains reports whether id is present in ids.
func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// removeID returns ids with every occurrence of target dropped, reusing the
// backing array.
func removeID(ids []int, target int) []int {
	out := ids[:0]
	for _, v := range ids {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// RunTick advances the simulation by one tick: each peer fulfills up to
// ReqPerTick pending upload requests, broadcasts newly-acquired pieces to
// connected peers, issues new requests to whoever currently unchokes it,
// reclaims any request that has timed out, and — if churn is enabled —
// may drop one connection. It reports whether every peer has now completed.
func (s *Simulation) RunTick() bool {
	for _, uploader := range s.peers {
		for i := 0; i < s.cfg.ReqPerTick && len(uploader.requests) > 0; i++ {
			last := len(uploader.requests) - 1
			req := uploader.requests[last]
			uploader.requests = uploader.requests[:last]

			receiver := s.peers[req.peerID]
			receiver.picker.Completed(req.piece, 0)
			receiver.pieces.Set(req.piece)
			receiver.requestedCount[uploader.id]--

			if receiver.completedAtTick < 0 && receiver.pieces.Complete() {
				receiver.completedAtTick = s.ticks
				for _, p := range s.peers {
					if !p.pieces.Complete() && !contains(p.unchokedBy, uploader.id) {
						p.unchokedBy = append(p.unchokedBy, uploader.id)
					}
				}
			}

			for _, connID := range receiver.connected {
				s.peers[connID].picker.PieceAvailable(req.piece)
			}
		}
	}

	for _, p := range s.peers {
		for _, uploaderID := range p.unchokedBy {
			uploader := s.peers[uploaderID]
			if !p.pieces.Usable(uploader.pieces) {
				continue
			}
			for p.requestedCount[uploader.id] < s.cfg.ReqQueueLen {
				idx, _, ok := p.picker.Pick(uploader.id, uploader.pieces)
				if !ok {
					break
				}
				uploader.requests = append(uploader.requests, request{peerID: p.id, piece: idx})
				p.requestedCount[uploader.id]++
				p.overdue.Track(idx, time.Unix(int64(s.ticks), 0))
			}
		}
	}

	if s.cfg.RequestTimeoutTicks > 0 {
		s.reclaimStalledRequests()
	}

	s.ticks++

	if s.cfg.ChurnEveryTicks > 0 && s.ticks%s.cfg.ChurnEveryTicks == 0 {
		s.churnOnce()
	}

	for _, p := range s.peers {
		if !p.pieces.Complete() {
			return false
		}
	}
	return true
}

// reclaimStalledRequests hands any sub-block whose request has sat for at
// least RequestTimeoutTicks back to its owning Picker via Forget, so it
// becomes pickable again instead of waiting for endgame.
func (s *Simulation) reclaimStalledRequests() {
	for _, p := range s.peers {
		for {
			block, sentAt, ok := p.overdue.Oldest()
			if !ok || s.ticks-int(sentAt.Unix()) < s.cfg.RequestTimeoutTicks {
				break
			}
			p.overdue.PopOldest()
			p.picker.Forget(block, 0)
		}
	}
}

// churnOnce disconnects one random connected peer pair, reporting each
// side's currently-held pieces as gone to the other's Picker (a no-op under
// Sequential; under RarestFirst it decrements the departing peer's holder
// counts).
func (s *Simulation) churnOnce() {
	candidates := make([]int, 0, len(s.peers))
	for _, p := range s.peers {
		if len(p.connected) > 0 {
			candidates = append(candidates, p.id)
		}
	}
	if len(candidates) == 0 {
		return
	}

	a := s.peers[candidates[s.rng.Intn(len(candidates))]]
	b := s.peers[a.connected[s.rng.Intn(len(a.connected))]]

	a.connected = removeID(a.connected, b.id)
	b.connected = removeID(b.connected, a.id)
	a.unchoked = removeID(a.unchoked, b.id)
	b.unchoked = removeID(b.unchoked, a.id)
	a.unchokedBy = removeID(a.unchokedBy, b.id)
	b.unchokedBy = removeID(b.unchokedBy, a.id)

	for i := 0; i < s.cfg.Pieces; i++ {
		if b.pieces.Has(i) {
			a.picker.PieceGone(i)
		}
		if a.pieces.Has(i) {
			b.picker.PieceGone(i)
		}
	}
}

// RunUntilConverged ticks the simulation until every peer completes or
// maxTicks is reached, returning the tick count and the average completion
// tick across all peers but the initial seed.
func (s *Simulation) RunUntilConverged(maxTicks int) (ticks int, avgCompletion float64, err error) {
	for s.ticks < maxTicks {
		if s.RunTick() {
			break
		}
	}
	if s.ticks >= maxTicks {
		return s.ticks, 0, fmt.Errorf("swarm: did not converge within %d ticks", maxTicks)
	}

	var total float64
	for _, p := range s.peers[1:] {
		total += float64(p.completedAtTick)
	}
	return s.ticks, total / float64(len(s.peers)-1), nil
}
