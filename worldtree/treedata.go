package worldtree

import (
	"fmt"
	"sync"

	"github.com/wuggen/world-tree/merkletree"
)

// InclusionProof is the result of a successful GetInclusionProof call: the
// root the proof resolves against, and the sibling path itself. The wire
// format's message field is not part of this type; api.Handler adds it to
// the response, always null.
type InclusionProof struct {
	Root  merkletree.Hash
	Proof merkletree.Proof
}

// TreeData owns the live tree plus a bounded history of past roots, and is
// the only thing in this service allowed to mutate the tree. It is safe for
// concurrent use: one writer (the chain follower's applier task) calls
// InsertManyAt/DeleteMany; any number of readers call GetInclusionProof
// concurrently with that writer and with each other.
//
// The current tree and the history deque are guarded by independent
// RWMutexes. A reader acquires the current-tree lock, checks the root, and
// releases it before (on a miss) acquiring the history lock — it never holds
// both at once. A writer holds both for the whole duration of one batch, so
// from the writer's perspective the snapshot-then-mutate sequence is atomic.
// This means a reader can observe the tree having already moved on by the
// time it checks history; GetInclusionProof tolerates that miss rather than
// trying to eliminate it, exactly as spec.md §5 describes.
type TreeData struct {
	currentMu sync.RWMutex
	current   *merkletree.Tree
	index     *leafIndex

	historyMu   sync.RWMutex
	history     []*merkletree.Tree // front (index 0) is newest
	historySize int
}

// NewTreeData builds a TreeData around an initial tree. historySize is the
// number of past roots to retain; 0 disables history entirely.
func NewTreeData(tree *merkletree.Tree, historySize int) (*TreeData, error) {
	if tree == nil {
		return nil, fmt.Errorf("worldtree: tree must not be nil")
	}
	if historySize < 0 {
		return nil, fmt.Errorf("worldtree: history size must be non-negative, got %d", historySize)
	}
	return &TreeData{
		current:     tree,
		index:       newLeafIndex(),
		historySize: historySize,
	}, nil
}

// cacheHistory snapshots the current tree into history. A snapshot is O(1):
// it shares the entire tree value with the live version and only diverges
// as later updates touch individual subtrees.
func (td *TreeData) cacheHistory() {
	if td.historySize == 0 {
		return
	}
	snapshot := td.current
	if len(td.history) == td.historySize {
		td.history = td.history[:len(td.history)-1]
	}
	td.history = append([]*merkletree.Tree{snapshot}, td.history...)
}

// InsertManyAt writes commitments into consecutive leaves starting at
// startIndex, snapshotting the pre-batch tree into history first. The whole
// batch is applied under one write-lock acquisition.
func (td *TreeData) InsertManyAt(startIndex uint64, commitments []merkletree.Hash) error {
	td.currentMu.Lock()
	defer td.currentMu.Unlock()
	td.historyMu.Lock()
	defer td.historyMu.Unlock()

	td.cacheHistory()

	tree := td.current
	for i, c := range commitments {
		idx := startIndex + uint64(i)
		old, err := tree.Leaf(idx)
		if err != nil {
			return fmt.Errorf("worldtree: insert at %d: %w", idx, err)
		}
		tree, err = tree.Update(idx, c)
		if err != nil {
			return fmt.Errorf("worldtree: insert at %d: %w", idx, err)
		}
		td.index.set(int(idx), old, c)
	}
	td.current = tree
	return nil
}

// DeleteMany clears the leaves at the given indices to the zero hash,
// snapshotting the pre-batch tree into history first.
func (td *TreeData) DeleteMany(indices []uint64) error {
	td.currentMu.Lock()
	defer td.currentMu.Unlock()
	td.historyMu.Lock()
	defer td.historyMu.Unlock()

	td.cacheHistory()

	tree := td.current
	for _, idx := range indices {
		old, err := tree.Leaf(idx)
		if err != nil {
			return fmt.Errorf("worldtree: delete at %d: %w", idx, err)
		}
		tree, err = tree.Update(idx, merkletree.Hash{})
		if err != nil {
			return fmt.Errorf("worldtree: delete at %d: %w", idx, err)
		}
		td.index.set(int(idx), old, merkletree.Hash{})
	}
	td.current = tree
	return nil
}

// GetInclusionProof resolves identity against the current tree when root is
// nil or equal to the current root, otherwise against the bounded history.
// It returns (nil, nil) when identity has no matching leaf, or when root
// names a value neither current nor in the retained history window — the
// caller (the HTTP handler) maps that uniformly to 404, since a
// since-evicted root and a root that never existed are indistinguishable
// from here without retaining every root ever seen.
func (td *TreeData) GetInclusionProof(identity merkletree.Hash, root *merkletree.Hash) (*InclusionProof, error) {
	if identity.IsZero() {
		return nil, nil
	}

	td.currentMu.RLock()
	tree := td.current
	curRoot := tree.Root()
	if root == nil || *root == curRoot {
		idx, found := td.index.lowest(identity)
		td.currentMu.RUnlock()
		if !found {
			return nil, nil
		}
		proof, err := tree.Proof(uint64(idx))
		if err != nil {
			return nil, fmt.Errorf("worldtree: proof for index %d: %w", idx, err)
		}
		return &InclusionProof{Root: curRoot, Proof: proof}, nil
	}
	td.currentMu.RUnlock()

	want := *root
	td.historyMu.RLock()
	defer td.historyMu.RUnlock()
	for _, snap := range td.history {
		if snap.Root() != want {
			continue
		}
		idx, found := lowestLeafIndex(snap, identity)
		if !found {
			return nil, nil
		}
		proof, err := snap.Proof(idx)
		if err != nil {
			return nil, fmt.Errorf("worldtree: historical proof for index %d: %w", idx, err)
		}
		return &InclusionProof{Root: want, Proof: proof}, nil
	}
	return nil, nil
}

// lowestLeafIndex scans snap's leaves in order for the first occurrence of
// identity. Historical snapshots do not carry their own side index (building
// one for every retained snapshot would defeat the point of an O(1)
// snapshot), so this is the same linear scan the original implementation
// always used, now reserved for the rarer historical-root path.
func lowestLeafIndex(snap *merkletree.Tree, identity merkletree.Hash) (uint64, bool) {
	it := snap.Leaves()
	var i uint64
	for {
		h, ok := it.Next()
		if !ok {
			return 0, false
		}
		if h == identity {
			return i, true
		}
		i++
	}
}
