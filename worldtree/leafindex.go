package worldtree

import (
	"sort"

	"github.com/wuggen/world-tree/merkletree"
)

// leafIndex maintains, for every non-zero leaf value currently present in
// the live tree, the sorted set of indices holding it. The zero hash is
// deliberately never indexed: it is the shared sentinel for "unpopulated or
// deleted," and spec.md treats a query for it as "absent" rather than as a
// match against every empty slot.
//
// This is the "side Hash -> index map" the design notes call out as a
// correctness-preserving addition over the source's linear scan; it only
// tracks the current, mutable tree. Historical snapshots fall back to a
// linear scan (see treedata.go), which is what the original implementation
// always did.
type leafIndex struct {
	byHash map[merkletree.Hash][]int
}

func newLeafIndex() *leafIndex {
	return &leafIndex{byHash: make(map[merkletree.Hash][]int)}
}

// set records that the leaf at i changed from oldValue to newValue.
func (li *leafIndex) set(i int, oldValue, newValue merkletree.Hash) {
	if !oldValue.IsZero() {
		li.remove(oldValue, i)
	}
	if !newValue.IsZero() {
		li.insert(newValue, i)
	}
}

func (li *leafIndex) insert(h merkletree.Hash, i int) {
	s := li.byHash[h]
	pos := sort.SearchInts(s, i)
	if pos < len(s) && s[pos] == i {
		return
	}
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = i
	li.byHash[h] = s
}

func (li *leafIndex) remove(h merkletree.Hash, i int) {
	s, ok := li.byHash[h]
	if !ok {
		return
	}
	pos := sort.SearchInts(s, i)
	if pos >= len(s) || s[pos] != i {
		return
	}
	s = append(s[:pos], s[pos+1:]...)
	if len(s) == 0 {
		delete(li.byHash, h)
	} else {
		li.byHash[h] = s
	}
}

// lowest returns the smallest index currently holding h, and whether one
// exists.
func (li *leafIndex) lowest(h merkletree.Hash) (int, bool) {
	s, ok := li.byHash[h]
	if !ok || len(s) == 0 {
		return 0, false
	}
	return s[0], true
}
