// Package statetree implements the sparse authenticated map shared by the
// spot and perpetual state trees (spec §4.A). It keeps only touched leaves
// and internal nodes in memory ("superficial" mode) and can reconstruct the
// full node set from a persisted snapshot when a batch finalizes.
package statetree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
)

// ZeroHash is the fixed hash occupying every unoccupied leaf.
const ZeroHash = ""

// LeafUpdate is one entry of a batch_transition's preimage transcript: the
// old and new value of a leaf plus the sibling chain needed to recompute the
// root at the moment of that leaf's update.
type LeafUpdate struct {
	Index    uint64   `json:"index"`
	OldHash  string   `json:"old_hash"`
	NewHash  string   `json:"new_hash"`
	Siblings []string `json:"siblings"` // bottom-up, length == tree depth
}

// Tree is a sparse authenticated map from a 64-bit index to a hex-encoded
// hash, with a fixed depth. Node i's hash is combined with its sibling at
// every level to form the root, exactly like a binary Merkle tree, except
// that any node never explicitly written is assumed to hold the canonical
// zero-hash for its level.
type Tree struct {
	mu         sync.RWMutex
	depth      uint32
	nodes      []map[uint64]string // nodes[level][index] -> hash; nodes[0] is the leaf layer
	zeroAtLvl  []string            // zeroAtLvl[level] is the hash of an all-zero subtree rooted at that level
	zeroIdxHnt uint64              // not read by FirstZeroIndex, which scans the leaf layer
}

// New creates an empty tree of the given depth (2^depth leaves).
func New(depth uint32) *Tree {
	t := &Tree{
		depth: depth,
		nodes: make([]map[uint64]string, depth+1),
	}
	for i := range t.nodes {
		t.nodes[i] = make(map[uint64]string)
	}
	t.zeroAtLvl = computeZeroHashes(depth)
	return t
}

func computeZeroHashes(depth uint32) []string {
	zeros := make([]string, depth+1)
	zeros[0] = ZeroHash
	for lvl := uint32(1); lvl <= depth; lvl++ {
		zeros[lvl] = hashPair(zeros[lvl-1], zeros[lvl-1])
	}
	return zeros
}

func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}

// Depth returns the tree's fixed depth.
func (t *Tree) Depth() uint32 {
	return t.depth
}

func (t *Tree) nodeAt(level int, index uint64) string {
	if h, ok := t.nodes[level][index]; ok {
		return h
	}
	return t.zeroAtLvl[level]
}

// GetLeaf returns the hash currently stored at index.
func (t *Tree) GetLeaf(index uint64) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodeAt(0, index)
}

// Root returns the tree's current root hash.
func (t *Tree) Root() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodeAt(int(t.depth), 0)
}

// UpdateLeaf overwrites the leaf at index, recomputing the internal path up
// to the root. It returns the leaf's previous value and its sibling chain
// (bottom-up) at the moment of the update, for use by the Rollback
// Safeguard and the preimage transcript.
func (t *Tree) UpdateLeaf(index uint64, newHash string) (oldHash string, siblings []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLeafLocked(index, newHash)
}

func (t *Tree) updateLeafLocked(index uint64, newHash string) (string, []string) {
	oldHash := t.nodeAt(0, index)
	siblings := make([]string, 0, t.depth)

	cur := index
	curHash := newHash
	for lvl := uint32(0); lvl < t.depth; lvl++ {
		siblingIdx := cur ^ 1
		sibling := t.nodeAt(int(lvl), siblingIdx)
		siblings = append(siblings, sibling)

		setNode(t.nodes[lvl], cur, curHash, t.zeroAtLvl[lvl])

		var left, right string
		if cur%2 == 0 {
			left, right = curHash, sibling
		} else {
			left, right = sibling, curHash
		}
		curHash = hashPair(left, right)
		cur /= 2
	}
	setNode(t.nodes[t.depth], 0, curHash, t.zeroAtLvl[t.depth])

	return oldHash, siblings
}

// setNode stores a node's hash, pruning the entry when it reverts to the
// level's zero hash so the sparse maps never grow for untouched subtrees.
func setNode(m map[uint64]string, index uint64, hash, zero string) {
	if hash == zero {
		delete(m, index)
		return
	}
	m[index] = hash
}

// FirstZeroIndex returns the smallest index currently holding the zero hash.
// It scans the known non-zero leaves to find the first gap; since the
// in-memory leaf set is sparse this is linear in the number of touched
// leaves, not in 2^depth.
func (t *Tree) FirstZeroIndex() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	occupied := make([]uint64, 0, len(t.nodes[0]))
	for idx := range t.nodes[0] {
		occupied = append(occupied, idx)
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i] < occupied[j] })

	var candidate uint64
	for _, idx := range occupied {
		if idx != candidate {
			break
		}
		candidate++
	}
	return candidate
}

// BatchTransition applies every update in updates (ascending index order,
// the deterministic order the prover requires) and returns the resulting
// preimage transcript.
func (t *Tree) BatchTransition(updates map[uint64]string) []LeafUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	indexes := make([]uint64, 0, len(updates))
	for idx := range updates {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	transcript := make([]LeafUpdate, 0, len(indexes))
	for _, idx := range indexes {
		newHash := updates[idx]
		oldHash, siblings := t.updateLeafLocked(idx, newHash)
		transcript = append(transcript, LeafUpdate{
			Index:    idx,
			OldHash:  oldHash,
			NewHash:  newHash,
			Siblings: siblings,
		})
	}
	return transcript
}

// Snapshot is the serializable form of a Tree, used for disk persistence.
type Snapshot struct {
	Depth  uint32            `json:"depth"`
	Leaves map[uint64]string `json:"leaves"`
}

// ToSnapshot captures the tree's leaf layer for persistence. Internal nodes
// above the leaf layer are always recomputable from the leaves and the fixed
// zero-hash chain, so only the leaves are persisted.
func (t *Tree) ToSnapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaves := make(map[uint64]string, len(t.nodes[0]))
	for idx, hash := range t.nodes[0] {
		leaves[idx] = hash
	}
	return Snapshot{Depth: t.depth, Leaves: leaves}
}

// FromSnapshot rebuilds a tree (the "Full Tree") from a persisted snapshot,
// recomputing every internal node along the way.
func FromSnapshot(snap Snapshot) (*Tree, error) {
	t := New(snap.Depth)
	for idx, hash := range snap.Leaves {
		if idx >= uint64(1)<<snap.Depth {
			return nil, fmt.Errorf("statetree: leaf index %d exceeds depth %d", idx, snap.Depth)
		}
		t.updateLeafLocked(idx, hash)
	}
	return t, nil
}

// Clone returns a deep copy of the tree, used when a worker needs its own
// consistent read of a tree under the rollback safeguard's bookkeeping.
func (t *Tree) Clone() *Tree {
	t.mu.RLock()
	defer t.mu.RUnlock()

	clone := &Tree{
		depth:     t.depth,
		nodes:     make([]map[uint64]string, len(t.nodes)),
		zeroAtLvl: t.zeroAtLvl,
	}
	for i, m := range t.nodes {
		cm := make(map[uint64]string, len(m))
		for k, v := range m {
			cm[k] = v
		}
		clone.nodes[i] = cm
	}
	return clone
}
