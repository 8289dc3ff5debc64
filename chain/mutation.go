package chain

import "github.com/wuggen/world-tree/merkletree"

// MutationKind distinguishes the two shapes of tree change the identity
// manager contract can emit.
type MutationKind int

const (
	Insert MutationKind = iota
	Delete
)

func (k MutationKind) String() string {
	if k == Insert {
		return "insert"
	}
	return "delete"
}

// Mutation is a single decoded change to the tree, ready to be applied by
// worldtree.TreeData. Exactly one of Commitments (Insert) or Indices
// (Delete) is populated, depending on Kind.
type Mutation struct {
	Kind    MutationKind
	Cursor  Cursor
	PreRoot merkletree.Hash

	// StartIndex and Commitments are set for Kind == Insert.
	StartIndex  uint64
	Commitments []merkletree.Hash

	// Indices is set for Kind == Delete.
	Indices []uint64
}
