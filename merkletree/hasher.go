package merkletree

import "golang.org/x/crypto/sha3"

// Keccak256Hasher is the default Hasher: the parent hash is the Keccak-256
// digest of its two children concatenated. It is not Poseidon. The
// world-tree-availability command always builds its tree with this hasher;
// it has no option to select another one.
func Keccak256Hasher(left, right Hash) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
