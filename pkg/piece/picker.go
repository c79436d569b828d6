package piece

import (
	"sort"

	"github.com/prxssh/ripple/pkg/bitfield"
)

// Pick chooses the next sub-block to request from the peer identified by
// id, given its advertised piece bitmap peerView (length NumPieces, bit p
// set iff the peer claims piece p). It returns ok=false when nothing is
// currently pickable for this peer — never an error: pick is pure from the
// caller's perspective except for the scheduling side effect described
// below.
func (pk *Picker[P]) Pick(id P, peerView *bitfield.Field) (pieceIndex int, byteOffset int64, ok bool) {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	if pieceIndex, byteOffset, ok = pk.pickNormal(id, peerView); ok {
		return pieceIndex, byteOffset, true
	}
	if pk.endgameCnt == 0 {
		return pk.pickEndgame(id, peerView)
	}
	return 0, 0, false
}

// pickNormal scans candidate pieces in the picker's configured order and
// schedules the first not-yet-scheduled sub-block the peer has.
func (pk *Picker[P]) pickNormal(id P, peerView *bitfield.Field) (int, int64, bool) {
	for _, p := range pk.candidatePieces(peerView) {
		start, end := pieceBlockRange(p, pk.scale, pk.totalBlocks)
		for block := start; block < end; block++ {
			if pk.pieces.Has(block) {
				continue
			}

			pk.pieces.Set(block)
			pk.waiting[block] = struct{}{}
			pk.waitingPeers[block] = waiter[P]{id: struct{}{}}

			if pk.endgameCnt > 0 {
				pk.endgameCnt--
				if pk.endgameCnt == 0 {
					pk.log.Info("endgame entered", "total_blocks", pk.totalBlocks)
				}
			}

			_, offset := blockToPiece(block, pk.scale)
			return p, offset, true
		}
	}
	return 0, 0, false
}

// candidatePieces returns, in scan order, the piece indices the peer
// advertises that are still within the picker's candidate range. Sequential
// scans ascending from the cursor; RarestFirst scans ascending holder-count
// buckets, ties broken by ascending piece index, falling back to a full
// sequential scan when no availability data is configured.
func (pk *Picker[P]) candidatePieces(peerView *bitfield.Field) []int {
	if pk.strategy == RarestFirst && pk.avail != nil {
		return pk.rarestCandidates(peerView)
	}
	return peerView.IterFrom(pk.pieceIdx)
}

// rarestCandidates walks availability buckets from least to most held. A
// bucket's own internal order is randomized by design (to spread load
// rather than hammer the same low-index piece across every peer), so each
// bucket is sorted by index before filtering to honor the picker's
// ascending-index tie-break.
func (pk *Picker[P]) rarestCandidates(peerView *bitfield.Field) []int {
	out := make([]int, 0, pk.numPieces)
	for a := 0; a <= pk.avail.MaxAvail(); a++ {
		bucket := pk.avail.Bucket(a)
		sort.Ints(bucket)
		for _, p := range bucket {
			if p >= pk.pieceIdx && peerView.Has(p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// pickEndgame runs once every sub-block has been scheduled at least once: it
// adds the requesting peer to the waiter set of an in-flight sub-block whose
// piece the peer advertises, without changing the sub-block's state. A
// sub-block already racing maxDupRequests peers is skipped even if id isn't
// among them yet — maxDupRequests bounds how much redundant upload bandwidth
// endgame is allowed to burn per sub-block, configured via
// pkg/config.Config.MaxRequestsPerBlock.
func (pk *Picker[P]) pickEndgame(id P, peerView *bitfield.Field) (int, int64, bool) {
	for block := range pk.waiting {
		pieceIndex, offset := blockToPiece(block, pk.scale)
		if !peerView.Has(pieceIndex) {
			continue
		}

		w := pk.waitingPeers[block]
		if _, already := w[id]; already {
			continue
		}
		if len(w) >= pk.maxDupRequests {
			continue
		}

		w[id] = struct{}{}
		return pieceIndex, offset, true
	}
	return 0, 0, false
}

// Completed marks the sub-block at (pieceIndex, byteOffset) as delivered. It
// reports whether the containing piece is now entirely done and every peer
// that held an outstanding request for it. The set includes the peer whose
// delivery this is (the Picker does not know which one delivered); the wire
// layer sends cancels to the others.
//
// Completed on a sub-block with no outstanding request (already completed by
// another peer, or never picked) is tolerated: it returns (false, nil).
func (pk *Picker[P]) Completed(pieceIndex int, byteOffset int64) (pieceDone bool, duplicatePeers []P) {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	block := pieceToBlock(pieceIndex, byteOffset, pk.scale)

	w, known := pk.waitingPeers[block]
	if !known {
		return false, nil
	}

	delete(pk.waiting, block)
	delete(pk.waitingPeers, block)
	for id := range w {
		duplicatePeers = append(duplicatePeers, id)
	}

	if !pk.pieceFullyDone(pieceIndex) {
		return false, duplicatePeers
	}

	pk.advanceCursor()
	return true, duplicatePeers
}

// pieceFullyDone reports whether every sub-block of p is scheduled and no
// longer waiting.
func (pk *Picker[P]) pieceFullyDone(p int) bool {
	start, end := pieceBlockRange(p, pk.scale, pk.totalBlocks)
	for block := start; block < end; block++ {
		if !pk.pieces.Has(block) {
			return false
		}
		if _, waiting := pk.waiting[block]; waiting {
			return false
		}
	}
	return true
}

// advanceCursor pushes pieceIdx forward while the piece it points at is
// entirely scheduled-and-not-waiting. Called by Completed; InvalidatePiece
// only rewinds the cursor and does not call it.
func (pk *Picker[P]) advanceCursor() {
	for pk.pieceIdx < pk.numPieces && pk.pieceFullyDone(pk.pieceIdx) {
		pk.pieceIdx++
	}
}

// PieceAvailable records that a peer advertised piece p, either via a have
// message or a bitfield at connect time. No-op under Sequential; under
// RarestFirst it increments the piece's holder count.
func (pk *Picker[P]) PieceAvailable(p int) {
	pk.mu.Lock()
	defer pk.mu.Unlock()
	if pk.avail != nil {
		pk.avail.Move(p, +1)
	}
}

// PieceGone records that a peer holding piece p disconnected. Symmetric to
// PieceAvailable; no-op under Sequential.
func (pk *Picker[P]) PieceGone(p int) {
	pk.mu.Lock()
	defer pk.mu.Unlock()
	if pk.avail != nil {
		pk.avail.Move(p, -1)
	}
}

// InvalidatePiece clears every sub-block of p back to fresh — the
// hash-failure recovery hook. A no-op if p is out of range or already
// entirely fresh.
func (pk *Picker[P]) InvalidatePiece(p int) {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	if p < 0 || p >= pk.numPieces {
		return
	}

	start, end := pieceBlockRange(p, pk.scale, pk.totalBlocks)
	cleared := 0
	for block := start; block < end; block++ {
		if pk.pieces.Has(block) {
			pk.pieces.Clear(block)
			cleared++
		}
		delete(pk.waiting, block)
		delete(pk.waitingPeers, block)
	}

	pk.endgameCnt += cleared
	if pk.pieceIdx > p {
		pk.pieceIdx = p
	}
}

// Forget returns a single in-flight sub-block to the fresh pool without
// waiting for the endgame path to re-pick it: a request-engine timeout
// handler can call it instead of leaving a lost normal-phase request to
// languish until endgame_cnt reaches 0.
func (pk *Picker[P]) Forget(pieceIndex int, byteOffset int64) {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	block := pieceToBlock(pieceIndex, byteOffset, pk.scale)
	if !pk.pieces.Has(block) {
		return
	}
	if _, waiting := pk.waiting[block]; !waiting {
		return
	}

	pk.pieces.Clear(block)
	delete(pk.waiting, block)
	delete(pk.waitingPeers, block)
	pk.endgameCnt++

	pk.log.Debug("block forgotten", "piece", pieceIndex, "offset", byteOffset)
}
