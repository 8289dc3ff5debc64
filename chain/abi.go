package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// These ABI fragments describe the identity-manager contract's mutating
// functions and the event it emits on every successful tree change. Field
// names and types follow spec.md §4.3's description of the calldata shapes
// (start index plus zero-padded commitment vector for inserts, packed
// sentinel-terminated index vector for deletes); the concrete widths are an
// implementation choice, not a guess at the deployed contract's exact
// selector bytes.
const registerIdentitiesABI = `[{
	"name": "registerIdentities",
	"type": "function",
	"inputs": [
		{"name": "insertionProof", "type": "uint256[8]"},
		{"name": "preRoot", "type": "uint256"},
		{"name": "startIndex", "type": "uint32"},
		{"name": "identityCommitments", "type": "uint256[]"},
		{"name": "postRoot", "type": "uint256"}
	]
}]`

const deleteIdentitiesABI = `[{
	"name": "deleteIdentities",
	"type": "function",
	"inputs": [
		{"name": "deletionProof", "type": "uint256[8]"},
		{"name": "packedDeletionIndices", "type": "bytes"},
		{"name": "preRoot", "type": "uint256"},
		{"name": "postRoot", "type": "uint256"}
	]
}]`

const treeChangedEventABI = `[{
	"name": "TreeChanged",
	"type": "event",
	"anonymous": false,
	"inputs": [
		{"name": "preRoot", "type": "uint256", "indexed": false},
		{"name": "kind", "type": "uint8", "indexed": false},
		{"name": "postRoot", "type": "uint256", "indexed": false}
	]
}]`

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid embedded ABI definition: " + err.Error())
	}
	return parsed
}
