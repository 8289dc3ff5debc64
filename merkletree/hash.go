// Package merkletree implements the fixed-depth, persistent Merkle tree that
// backs the World Tree: a dense array for the top levels and a lazily
// allocated, structurally-shared sparse representation for the rest.
package merkletree

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Hash is a field element: a fixed-width value interpreted modulo a prime.
// Its zero value is the sentinel used for both uninitialized and deleted
// leaves; the tree makes no distinction between the two.
type Hash [32]byte

// ZeroHash is the empty-leaf / deletion-marker sentinel.
var ZeroHash = Hash{}

// IsZero reports whether h is the sentinel value.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Hex returns the 0x-prefixed, lowercase hex encoding of h.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// HashFromHex parses a 0x-prefixed, up-to-32-byte hex string into a Hash.
// Shorter values are left-padded with zeros, matching the big-endian
// encoding of a field element smaller than 2^256.
func HashFromHex(s string) (Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("merkletree: invalid hex hash %q: %w", s, err)
	}
	if len(b) > 32 {
		return Hash{}, fmt.Errorf("merkletree: hash %q exceeds 32 bytes", s)
	}
	var h Hash
	copy(h[32-len(b):], b)
	return h, nil
}

// HashFromBigInt encodes a non-negative big.Int as a big-endian Hash.
func HashFromBigInt(v *big.Int) (Hash, error) {
	if v == nil || v.Sign() < 0 {
		return Hash{}, fmt.Errorf("merkletree: commitment must be non-negative")
	}
	b := v.Bytes()
	if len(b) > 32 {
		return Hash{}, fmt.Errorf("merkletree: commitment exceeds 32 bytes")
	}
	var h Hash
	copy(h[32-len(b):], b)
	return h, nil
}

// BigInt returns h interpreted as a big-endian unsigned integer.
func (h Hash) BigInt() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// Hasher combines two child hashes into their parent's hash. This package
// includes no Poseidon implementation; the world-tree-availability command
// and the tests use Keccak256Hasher.
type Hasher func(left, right Hash) Hash
