package statetree

import "testing"

func TestUpdateLeafAndRoot(t *testing.T) {
	tr := New(4)
	if tr.GetLeaf(0) != ZeroHash {
		t.Fatalf("expected empty leaf at 0")
	}

	root0 := tr.Root()
	old, siblings := tr.UpdateLeaf(7, "deadbeef")
	if old != ZeroHash {
		t.Fatalf("expected zero hash before update, got %q", old)
	}
	if len(siblings) != 4 {
		t.Fatalf("expected %d siblings, got %d", 4, len(siblings))
	}
	if tr.GetLeaf(7) != "deadbeef" {
		t.Fatalf("leaf not updated")
	}
	if tr.Root() == root0 {
		t.Fatalf("root should change after update")
	}
}

func TestIdempotentReapply(t *testing.T) {
	tr := New(4)
	tr.UpdateLeaf(3, "abc")
	root1 := tr.Root()
	tr.UpdateLeaf(3, "abc")
	if tr.Root() != root1 {
		t.Fatalf("reapplying the same (index,hash) must be idempotent")
	}
}

func TestFirstZeroIndex(t *testing.T) {
	tr := New(4)
	if idx := tr.FirstZeroIndex(); idx != 0 {
		t.Fatalf("expected 0, got %d", idx)
	}
	tr.UpdateLeaf(0, "a")
	tr.UpdateLeaf(1, "b")
	tr.UpdateLeaf(2, "c")
	if idx := tr.FirstZeroIndex(); idx != 3 {
		t.Fatalf("expected 3, got %d", idx)
	}
	tr.UpdateLeaf(1, ZeroHash)
	if idx := tr.FirstZeroIndex(); idx != 1 {
		t.Fatalf("expected 1 after freeing leaf 1, got %d", idx)
	}
}

func TestBatchTransitionDeterministicOrder(t *testing.T) {
	tr := New(4)
	updates := map[uint64]string{5: "e5", 1: "e1", 9: "e9"}
	transcript := tr.BatchTransition(updates)
	if len(transcript) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(transcript))
	}
	for i := 1; i < len(transcript); i++ {
		if transcript[i-1].Index >= transcript[i].Index {
			t.Fatalf("transcript must be in ascending index order, got %v", transcript)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	tr := New(4)
	tr.UpdateLeaf(2, "aa")
	tr.UpdateLeaf(5, "bb")
	root := tr.Root()

	snap := tr.ToSnapshot()
	restored, err := FromSnapshot(snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restored.Root() != root {
		t.Fatalf("root mismatch after round trip: got %s want %s", restored.Root(), root)
	}
	if restored.GetLeaf(2) != "aa" || restored.GetLeaf(5) != "bb" {
		t.Fatalf("leaf mismatch after round trip")
	}
}

func TestCloneIndependence(t *testing.T) {
	tr := New(4)
	tr.UpdateLeaf(1, "x")
	clone := tr.Clone()
	tr.UpdateLeaf(1, "y")
	if clone.GetLeaf(1) != "x" {
		t.Fatalf("clone should not observe mutations on the original")
	}
}
