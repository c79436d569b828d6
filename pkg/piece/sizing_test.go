package piece

import "testing"

// A known 2MB/8-piece/256KB layout should land on hand-checked block counts.
func TestSizingMatchesKnownPieceLayout(t *testing.T) {
	scale, lastPieceBlocks, totalBlocks, err := sizing(8, 262144, 2_000_000)
	if err != nil {
		t.Fatalf("sizing: %v", err)
	}
	if scale != 16 {
		t.Fatalf("scale = %d; want 16", scale)
	}
	if lastPieceBlocks != 11 {
		t.Fatalf("lastPieceBlocks = %d; want 11", lastPieceBlocks)
	}
	if totalBlocks != 123 {
		t.Fatalf("totalBlocks = %d; want 123", totalBlocks)
	}
}

func TestSizingExactDivision(t *testing.T) {
	// piece_len exactly divides total_len: last_piece_blocks = scale.
	scale, lastPieceBlocks, totalBlocks, err := sizing(4, Block*4, Block*4*4)
	if err != nil {
		t.Fatalf("sizing: %v", err)
	}
	if lastPieceBlocks != scale {
		t.Fatalf("lastPieceBlocks = %d; want scale = %d", lastPieceBlocks, scale)
	}
	if totalBlocks != scale*4 {
		t.Fatalf("totalBlocks = %d; want %d", totalBlocks, scale*4)
	}
}

func TestSizingSinglePiece(t *testing.T) {
	scale, lastPieceBlocks, totalBlocks, err := sizing(1, Block*4, Block*3+100)
	if err != nil {
		t.Fatalf("sizing: %v", err)
	}
	if totalBlocks != lastPieceBlocks {
		t.Fatalf("num_pieces=1: totalBlocks = %d; want lastPieceBlocks = %d", totalBlocks, lastPieceBlocks)
	}
	if lastPieceBlocks != 4 {
		t.Fatalf("lastPieceBlocks = %d; want 4", lastPieceBlocks)
	}
	_ = scale
}

func TestSizingRejectsBadInput(t *testing.T) {
	if _, _, _, err := sizing(0, Block, Block); err == nil {
		t.Fatalf("expected error for numPieces=0")
	}
	if _, _, _, err := sizing(1, Block+1, Block+1); err == nil {
		t.Fatalf("expected error for piece_len not a multiple of Block")
	}
}
