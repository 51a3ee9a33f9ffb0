package rollback

import (
	"testing"

	"github.com/cmatc13/stathera/internal/statetree"
)

func TestAbortRestoresTreeAndTrackers(t *testing.T) {
	tree := statetree.New(4)
	tree.UpdateLeaf(1, "orig")

	sg := New()
	const worker WorkerID = 1
	sg.Begin(worker)

	old, _ := tree.UpdateLeaf(1, "mutated")
	sg.RecordLeaf(worker, SpotTree, 1, old)
	sg.RecordTrackerKey(worker, 42)
	sg.RecordBlockedID(worker, 42)

	deleted := false
	unblocked := false
	sg.Abort(worker, tree, tree, Trackers{
		DeleteTrackerKey: func(orderID uint64) {
			if orderID == 42 {
				deleted = true
			}
		},
		Unblock: func(orderID uint64) {
			if orderID == 42 {
				unblocked = true
			}
		},
	})

	if tree.GetLeaf(1) != "orig" {
		t.Fatalf("expected leaf restored to 'orig', got %q", tree.GetLeaf(1))
	}
	if !deleted || !unblocked {
		t.Fatalf("expected tracker cleanup and unblock to run")
	}
}

func TestCommitDropsJournal(t *testing.T) {
	sg := New()
	const worker WorkerID = 7
	sg.Begin(worker)
	sg.RecordTrackerKey(worker, 1)
	sg.Commit(worker)

	// Aborting after commit should be a silent no-op.
	tree := statetree.New(4)
	sg.Abort(worker, tree, tree, Trackers{})
}

func TestConcurrentWorkersIsolated(t *testing.T) {
	tree := statetree.New(4)
	sg := New()

	sg.Begin(WorkerID(1))
	sg.Begin(WorkerID(2))

	old1, _ := tree.UpdateLeaf(10, "a")
	sg.RecordLeaf(1, SpotTree, 10, old1)
	old2, _ := tree.UpdateLeaf(20, "b")
	sg.RecordLeaf(2, SpotTree, 20, old2)

	sg.Abort(WorkerID(1), tree, tree, Trackers{})

	if tree.GetLeaf(10) != statetree.ZeroHash {
		t.Fatalf("worker 1's mutation should have rolled back")
	}
	if tree.GetLeaf(20) != "b" {
		t.Fatalf("worker 2's mutation must survive worker 1's abort")
	}
}
