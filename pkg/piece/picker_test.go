package piece

import (
	"testing"

	"github.com/prxssh/ripple/pkg/bitfield"
)

func fullView(numPieces int) *bitfield.Field {
	f := bitfield.New(numPieces)
	for i := 0; i < numPieces; i++ {
		f.Set(i)
	}
	return f
}

// A single peer advertising every piece should drive the whole torrent
// through exactly one pick/complete pair per sub-block, every pick served by
// the normal phase. The last fresh pick drains the endgame counter to 0, but
// no pick is ever made from the endgame path, and each completion reports
// only the sole requester.
func TestSinglePeerFullTransferNeverPicksFromEndgame(t *testing.T) {
	pk, err := NewSequential[string](8, 262144, 2_000_000, 2)
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}
	view := fullView(8)

	count := 0
	for {
		endgameBefore := pk.InEndgame()
		p, off, ok := pk.Pick("peer1", view)
		if !ok {
			break
		}
		if endgameBefore {
			t.Fatalf("pick %d was served by the endgame path; a single peer should never need it", count+1)
		}
		count++
		done, dup := pk.Completed(p, off)
		if len(dup) != 1 || dup[0] != "peer1" {
			t.Fatalf("waiter set in single-peer run = %v; want only [peer1]", dup)
		}
		_ = done
	}

	if count != 123 {
		t.Fatalf("pick/complete pairs = %d; want 123", count)
	}
	if pk.PieceIdx() != 8 {
		t.Fatalf("PieceIdx() = %d; want 8", pk.PieceIdx())
	}
	if !pk.Complete() {
		t.Fatalf("Complete() should be true after all sub-blocks delivered")
	}
}

// Two peers each advertise every piece; once the first has been picked for
// every sub-block but completed none, the second peer's pick must still
// succeed via the endgame path, and the resulting completion must report
// both peers as duplicate holders. A second completion for the same
// sub-block is tolerated and reports no further duplicates.
func TestEndgameOverlapAssignsBothPeersAndFlagsDuplicate(t *testing.T) {
	pk, err := NewSequential[string](8, 262144, 2_000_000, 2)
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}
	view := fullView(8)

	// Peer1 exhausts the normal phase entirely.
	var picks int
	for {
		if _, _, ok := pk.Pick("peer1", view); !ok {
			break
		}
		picks++
	}
	if picks != 123 {
		t.Fatalf("peer1 normal-phase picks = %d; want 123", picks)
	}
	if !pk.InEndgame() {
		t.Fatalf("expected endgame after peer1 exhausted the normal phase")
	}

	// Peer2 must still get sub-blocks via the endgame path.
	p, off, ok := pk.Pick("peer2", view)
	if !ok {
		t.Fatalf("peer2 pick in endgame should succeed")
	}

	_, dup := pk.Completed(p, off)
	found := map[string]bool{}
	for _, id := range dup {
		found[id] = true
	}
	if !found["peer1"] || !found["peer2"] {
		t.Fatalf("Completed duplicate set = %v; want both peer1 and peer2", dup)
	}

	// The second Completed call for the same sub-block is tolerated and
	// reports no duplicates.
	done2, dup2 := pk.Completed(p, off)
	if done2 {
		t.Fatalf("second Completed for an already-completed sub-block should return false")
	}
	if len(dup2) != 0 {
		t.Fatalf("second Completed should return no duplicates, got %v", dup2)
	}
}

// Invalidating an already-completed piece (the hash-failure recovery path)
// must rewind the cursor to that piece, restore its sub-blocks to the
// endgame-eligible pool, and allow them to be rescheduled.
func TestInvalidatePieceReschedulesAfterHashFailure(t *testing.T) {
	pk, err := NewSequential[string](8, 262144, 2_000_000, 2)
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}
	view := fullView(8)

	// Drive pieces 0..3 to completion.
	for pk.PieceIdx() <= 3 {
		p, off, ok := pk.Pick("peer1", view)
		if !ok {
			t.Fatalf("unexpected exhaustion before piece 3 completed")
		}
		pk.Completed(p, off)
	}
	if pk.PieceIdx() < 4 {
		t.Fatalf("expected piece_idx >= 4 after piece 3 completed, got %d", pk.PieceIdx())
	}

	before := pk.EndgameCount()
	pk.InvalidatePiece(3)

	if pk.PieceIdx() > 3 {
		t.Fatalf("PieceIdx() = %d; want <= 3 after invalidating piece 3", pk.PieceIdx())
	}
	if got, want := pk.EndgameCount(), before+pk.scale; got != want {
		t.Fatalf("EndgameCount() = %d; want %d (before=%d + scale=%d)", got, want, before, pk.scale)
	}

	// Re-picking and completing piece 3's sub-blocks restores it to done.
	rescheduled := 0
	for {
		p, off, ok := pk.Pick("peer1", view)
		if !ok || p != 3 {
			if ok {
				pk.Completed(p, off)
			}
			break
		}
		pk.Completed(p, off)
		rescheduled++
	}
	if rescheduled != pk.scale {
		t.Fatalf("rescheduled %d sub-blocks for piece 3; want %d", rescheduled, pk.scale)
	}
}

func TestInvalidateUnknownPieceIsNoop(t *testing.T) {
	pk, _ := NewSequential[string](8, 262144, 2_000_000, 2)
	before := pk.EndgameCount()
	pk.InvalidatePiece(999)
	if pk.EndgameCount() != before {
		t.Fatalf("invalidating an out-of-range piece must be a no-op")
	}
}

// No-duplicates-pre-endgame: while endgame_cnt > 0, pick either returns a
// fresh sub-block or nothing.
func TestNoDuplicatesPreEndgame(t *testing.T) {
	pk, _ := NewSequential[string](2, 4*Block, 8*Block, 2)
	view := fullView(2)

	seen := map[int]bool{}
	for !pk.InEndgame() {
		p, off, ok := pk.Pick("peer1", view)
		if !ok {
			break
		}
		block := pieceToBlock(p, off, pk.scale)
		if seen[block] {
			t.Fatalf("pre-endgame pick returned already-scheduled sub-block %d", block)
		}
		seen[block] = true
	}
}

func TestPickNoneWhenPeerHasNothing(t *testing.T) {
	pk, _ := NewSequential[string](4, 4*Block, 16*Block, 2)
	empty := bitfield.New(4)

	if _, _, ok := pk.Pick("peer1", empty); ok {
		t.Fatalf("pick should return nothing for a peer advertising no pieces")
	}
}

func TestRarestFirstPrefersLowestHolderCount(t *testing.T) {
	pk, err := NewRarestFirst[string](4, 4*Block, 16*Block, 8, 2)
	if err != nil {
		t.Fatalf("NewRarestFirst: %v", err)
	}
	view := fullView(4)

	// Every piece has at least one known holder (as if advertised by some
	// peer in the swarm); piece 2 has the fewest.
	for i := 0; i < 5; i++ {
		pk.PieceAvailable(0)
	}
	for i := 0; i < 3; i++ {
		pk.PieceAvailable(1)
		pk.PieceAvailable(3)
	}
	pk.PieceAvailable(2)

	p, _, ok := pk.Pick("peer1", view)
	if !ok {
		t.Fatalf("pick should succeed")
	}
	if p != 2 {
		t.Fatalf("rarest-first pick = piece %d; want piece 2 (rarest)", p)
	}
}
