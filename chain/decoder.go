package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/wuggen/world-tree/merkletree"
)

// deletionIndexWidth is the byte width of one packed deletion index.
const deletionIndexWidth = 4

// deletionSentinel marks an unused slot in a packed deletion index vector.
const deletionSentinel = uint32(0xFFFFFFFF)

// Decoder turns a TreeChanged log plus its transaction's calldata into a
// Mutation. It is a pure function of its inputs: it holds no chain state of
// its own and performs no I/O, matching spec.md §4.3.
type Decoder struct {
	registerIdentities abi.Method
	deleteIdentities   abi.Method
	treeChanged        abi.Event
}

// NewDecoder parses the contract's ABI fragments once and returns a reusable
// Decoder.
func NewDecoder() (*Decoder, error) {
	registerABI := mustParseABI(registerIdentitiesABI)
	deleteABI := mustParseABI(deleteIdentitiesABI)
	eventABI := mustParseABI(treeChangedEventABI)

	register, ok := registerABI.Methods["registerIdentities"]
	if !ok {
		return nil, fmt.Errorf("chain: registerIdentities missing from embedded ABI")
	}
	del, ok := deleteABI.Methods["deleteIdentities"]
	if !ok {
		return nil, fmt.Errorf("chain: deleteIdentities missing from embedded ABI")
	}
	event, ok := eventABI.Events["TreeChanged"]
	if !ok {
		return nil, fmt.Errorf("chain: TreeChanged missing from embedded ABI")
	}

	return &Decoder{
		registerIdentities: register,
		deleteIdentities:   del,
		treeChanged:        event,
	}, nil
}

// EventID returns the topic0 signature of the TreeChanged event this
// decoder recognizes, for building a chain log filter.
func (d *Decoder) EventID() common.Hash {
	return d.treeChanged.ID
}

// Decode decodes a single TreeChanged log using the calldata of the
// transaction that emitted it.
func (d *Decoder) Decode(log types.Log, txInput []byte) (*Mutation, error) {
	if len(log.Topics) == 0 || log.Topics[0] != d.treeChanged.ID {
		return nil, ErrUnknownEvent
	}
	if len(txInput) < 4 {
		return nil, ErrMalformedCalldata
	}

	cursor := Cursor{Block: log.BlockNumber, TxIndex: uint(log.TxIndex), LogIndex: uint(log.Index)}
	selector := txInput[:4]
	args := txInput[4:]

	switch {
	case bytes.Equal(selector, d.registerIdentities.ID):
		return d.decodeRegister(args, cursor)
	case bytes.Equal(selector, d.deleteIdentities.ID):
		return d.decodeDelete(args, cursor)
	default:
		return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, selector)
	}
}

func (d *Decoder) decodeRegister(args []byte, cursor Cursor) (*Mutation, error) {
	values, err := d.registerIdentities.Inputs.Unpack(args)
	if err != nil {
		return nil, fmt.Errorf("chain: unpacking registerIdentities calldata: %w", err)
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("chain: registerIdentities decoded %d fields, want 5", len(values))
	}

	preRoot, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: registerIdentities preRoot has unexpected type %T", values[1])
	}
	startIndex, ok := values[2].(uint32)
	if !ok {
		return nil, fmt.Errorf("chain: registerIdentities startIndex has unexpected type %T", values[2])
	}
	rawCommitments, ok := values[3].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: registerIdentities identityCommitments has unexpected type %T", values[3])
	}

	// Trim only a contiguous run of zero-valued entries at the tail; a zero
	// in the interior is a real (deleted/never-set) leaf being written and
	// must be kept.
	end := len(rawCommitments)
	for end > 0 && rawCommitments[end-1].Sign() == 0 {
		end--
	}
	rawCommitments = rawCommitments[:end]

	commitments := make([]merkletree.Hash, len(rawCommitments))
	for i, c := range rawCommitments {
		h, err := merkletree.HashFromBigInt(c)
		if err != nil {
			return nil, fmt.Errorf("chain: commitment %d: %w", i, err)
		}
		commitments[i] = h
	}

	preRootHash, err := merkletree.HashFromBigInt(preRoot)
	if err != nil {
		return nil, fmt.Errorf("chain: preRoot: %w", err)
	}

	return &Mutation{
		Kind:        Insert,
		Cursor:      cursor,
		PreRoot:     preRootHash,
		StartIndex:  uint64(startIndex),
		Commitments: commitments,
	}, nil
}

func (d *Decoder) decodeDelete(args []byte, cursor Cursor) (*Mutation, error) {
	values, err := d.deleteIdentities.Inputs.Unpack(args)
	if err != nil {
		return nil, fmt.Errorf("chain: unpacking deleteIdentities calldata: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("chain: deleteIdentities decoded %d fields, want 4", len(values))
	}

	packed, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("chain: deleteIdentities packedDeletionIndices has unexpected type %T", values[1])
	}
	preRoot, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: deleteIdentities preRoot has unexpected type %T", values[2])
	}

	indices, err := unpackDeletionIndices(packed)
	if err != nil {
		return nil, err
	}

	preRootHash, err := merkletree.HashFromBigInt(preRoot)
	if err != nil {
		return nil, fmt.Errorf("chain: preRoot: %w", err)
	}

	return &Mutation{
		Kind:    Delete,
		Cursor:  cursor,
		PreRoot: preRootHash,
		Indices: indices,
	}, nil
}

// unpackDeletionIndices expands a packed vector of fixed-width leaf indices,
// dropping every slot equal to the sentinel wherever it occurs (unlike the
// insert vector's trailing-only padding rule: a delete batch can have unused
// slots anywhere, not just at the end).
func unpackDeletionIndices(packed []byte) ([]uint64, error) {
	if len(packed)%deletionIndexWidth != 0 {
		return nil, fmt.Errorf("chain: packed deletion indices length %d is not a multiple of %d", len(packed), deletionIndexWidth)
	}
	count := len(packed) / deletionIndexWidth
	indices := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		v := binary.BigEndian.Uint32(packed[i*deletionIndexWidth : (i+1)*deletionIndexWidth])
		if v == deletionSentinel {
			continue
		}
		indices = append(indices, uint64(v))
	}
	return indices, nil
}
