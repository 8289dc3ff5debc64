package worldtree

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wuggen/world-tree/chain"
	"github.com/wuggen/world-tree/merkletree"
)

// Test fixtures below re-derive the contract's ABI locally rather than
// reaching into chain's unexported fields; this mirrors how an external
// integration test would have to build real calldata.

const testRegisterABI = `[{"name":"registerIdentities","type":"function","inputs":[
	{"name":"insertionProof","type":"uint256[8]"},
	{"name":"preRoot","type":"uint256"},
	{"name":"startIndex","type":"uint32"},
	{"name":"identityCommitments","type":"uint256[]"},
	{"name":"postRoot","type":"uint256"}
]}]`

var testEventID = func() common.Hash {
	def, err := abi.JSON(strings.NewReader(`[{"name":"TreeChanged","type":"event","anonymous":false,"inputs":[
		{"name":"preRoot","type":"uint256","indexed":false},
		{"name":"kind","type":"uint8","indexed":false},
		{"name":"postRoot","type":"uint256","indexed":false}
	]}]`))
	if err != nil {
		panic(err)
	}
	return def.Events["TreeChanged"].ID
}()

func buildRegisterCalldata(t *testing.T, startIndex uint32, commitments []*big.Int) []byte {
	t.Helper()
	def, err := abi.JSON(strings.NewReader(testRegisterABI))
	if err != nil {
		t.Fatalf("parsing test ABI: %v", err)
	}
	method := def.Methods["registerIdentities"]
	var proof [8]*big.Int
	for i := range proof {
		proof[i] = big.NewInt(0)
	}
	packed, err := method.Inputs.Pack(proof, big.NewInt(0), startIndex, commitments, big.NewInt(0))
	if err != nil {
		t.Fatalf("packing calldata: %v", err)
	}
	return append(append([]byte{}, method.ID...), packed...)
}

// fakeLogSource is an in-memory LogSource: FilterLogs and TransactionByHash
// are served from a fixed table, SubscribeFilterLogs from a channel of logs
// fed by the test.
type fakeLogSource struct {
	mu     sync.Mutex
	head   uint64
	logs   []types.Log
	txData map[common.Hash][]byte
	live   chan types.Log
}

func newFakeLogSource() *fakeLogSource {
	return &fakeLogSource{txData: make(map[common.Hash][]byte), live: make(chan types.Log, 16)}
}

func (f *fakeLogSource) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head)}, nil
}

func (f *fakeLogSource) FilterLogs(ctx context.Context, q gethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Log{}, f.logs...), nil
}

func (f *fakeLogSource) SubscribeFilterLogs(ctx context.Context, q gethereum.FilterQuery, ch chan<- types.Log) (gethereum.Subscription, error) {
	sub := &fakeSubscription{errCh: make(chan error, 1), done: make(chan struct{})}
	go func() {
		for {
			select {
			case l, ok := <-f.live:
				if !ok {
					return
				}
				select {
				case ch <- l:
				case <-sub.done:
					return
				}
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

func (f *fakeLogSource) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.txData[hash]
	if !ok {
		return nil, false, errors.New("fakeLogSource: unknown transaction")
	}
	return types.NewTransaction(0, common.Address{}, big.NewInt(0), 0, big.NewInt(0), data), false, nil
}

func (f *fakeLogSource) addLog(l types.Log, calldata []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	f.txData[l.TxHash] = calldata
}

type fakeSubscription struct {
	errCh chan error
	done  chan struct{}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }
func (s *fakeSubscription) Unsubscribe()      { close(s.done) }

func newTestTreeData(t *testing.T) *TreeData {
	t.Helper()
	tree, err := merkletree.New(8, 3, merkletree.Hash{}, merkletree.Keccak256Hasher)
	if err != nil {
		t.Fatalf("merkletree.New: %v", err)
	}
	td, err := NewTreeData(tree, 4)
	if err != nil {
		t.Fatalf("NewTreeData: %v", err)
	}
	return td
}

func TestFollowerCatchUpAppliesInOrder(t *testing.T) {
	decoder, err := chain.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	source := newFakeLogSource()
	source.head = 10

	txA := common.Hash{0xaa}
	txB := common.Hash{0xbb}
	calldataA := buildRegisterCalldata(t, 0, []*big.Int{big.NewInt(111)})
	calldataB := buildRegisterCalldata(t, 1, []*big.Int{big.NewInt(222)})

	// Feed out of order; CatchUp must sort by (block, txIndex, logIndex).
	source.addLog(types.Log{Topics: []common.Hash{testEventID}, BlockNumber: 5, TxIndex: 0, Index: 0, TxHash: txB}, calldataB)
	source.addLog(types.Log{Topics: []common.Hash{testEventID}, BlockNumber: 3, TxIndex: 0, Index: 0, TxHash: txA}, calldataA)

	td := newTestTreeData(t)
	f := NewFollower(source, decoder, td, testEventID, FollowerConfig{ContractAddress: common.Address{0x01}, CreationBlock: 0})

	if err := f.CatchUp(context.Background()); err != nil {
		t.Fatalf("CatchUp: %v", err)
	}

	leaf0, err := td.current.Leaf(0)
	if err != nil {
		t.Fatalf("Leaf(0): %v", err)
	}
	leaf1, err := td.current.Leaf(1)
	if err != nil {
		t.Fatalf("Leaf(1): %v", err)
	}
	if leaf0.BigInt().Int64() != 111 {
		t.Fatalf("leaf 0 = %v, want 111", leaf0.BigInt())
	}
	if leaf1.BigInt().Int64() != 222 {
		t.Fatalf("leaf 1 = %v, want 222", leaf1.BigInt())
	}
}

func TestFollowerSkipsStaleLog(t *testing.T) {
	decoder, err := chain.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	source := newFakeLogSource()
	td := newTestTreeData(t)
	f := NewFollower(source, decoder, td, testEventID, FollowerConfig{ContractAddress: common.Address{0x01}, CreationBlock: 0})

	txHash := common.Hash{0x01}
	calldata := buildRegisterCalldata(t, 0, []*big.Int{big.NewInt(1)})
	source.txData[txHash] = calldata

	// The stale log writes a different value to the same leaf, so applying
	// it would be visible.
	staleTxHash := common.Hash{0x02}
	source.txData[staleTxHash] = buildRegisterCalldata(t, 0, []*big.Int{big.NewInt(2)})

	newer := types.Log{Topics: []common.Hash{testEventID}, BlockNumber: 10, TxIndex: 0, Index: 0, TxHash: txHash}
	older := types.Log{Topics: []common.Hash{testEventID}, BlockNumber: 5, TxIndex: 0, Index: 0, TxHash: staleTxHash}

	if err := f.applyLog(context.Background(), newer); err != nil {
		t.Fatalf("applyLog(newer): %v", err)
	}
	leafAfterFirst, _ := td.current.Leaf(0)

	if err := f.applyLog(context.Background(), older); err != nil {
		t.Fatalf("applyLog(older) should not error, just skip: %v", err)
	}
	leafAfterSecond, _ := td.current.Leaf(0)

	if leafAfterFirst != leafAfterSecond {
		t.Fatalf("stale log was applied, tree changed")
	}
}

func TestFollowerSubscribeApplyPipeline(t *testing.T) {
	decoder, err := chain.NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	source := newFakeLogSource()
	td := newTestTreeData(t)
	f := NewFollower(source, decoder, td, testEventID, FollowerConfig{ContractAddress: common.Address{0x01}, CreationBlock: 0, LogChannelSize: 4})

	txHash := common.Hash{0x42}
	calldata := buildRegisterCalldata(t, 2, []*big.Int{big.NewInt(999)})
	source.txData[txHash] = calldata

	ctx, cancel := context.WithCancel(context.Background())
	logCh := make(chan types.Log, 4)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.Subscribe(ctx, logCh)
	}()
	go func() {
		defer wg.Done()
		f.Apply(ctx, logCh)
	}()

	source.live <- types.Log{Topics: []common.Hash{testEventID}, BlockNumber: 1, TxIndex: 0, Index: 0, TxHash: txHash}

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
applied:
	for {
		select {
		case <-tick.C:
			td.currentMu.RLock()
			v, err := td.current.Leaf(2)
			td.currentMu.RUnlock()
			if err == nil && v.BigInt().Int64() == 999 {
				break applied
			}
		case <-deadline:
			t.Fatalf("pipeline did not apply the live log in time")
		}
	}

	cancel()
	wg.Wait()
}
