package worldtree

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wuggen/world-tree/chain"
)

// LogSource is the subset of ethclient.Client the follower needs: enough to
// run a historical catch-up scan and a live subscription. Production code
// wires in a real *ethclient.Client; tests substitute a fake.
type LogSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

var _ LogSource = (*ethclient.Client)(nil)

// FollowerConfig configures where and from when the follower reads the
// identity-manager contract's logs.
type FollowerConfig struct {
	ContractAddress common.Address
	CreationBlock   uint64
	LogChannelSize  int
}

// Follower drives TreeData from an EVM chain: a one-shot catch-up scan from
// CreationBlock to the current head, followed by a live subscription. It
// never applies a log inline inside the subscription callback; CatchUp
// applies directly, while Subscribe and Apply run as two independent tasks
// connected by a bounded channel, matching the three-task model described in
// spec.md §5 and the `listen_for_updates`/separate-consumer-task structure
// from the source this was distilled from.
type Follower struct {
	client  LogSource
	decoder *chain.Decoder
	tree    *TreeData
	cfg     FollowerConfig
	eventID common.Hash

	cursorMu sync.Mutex
	cursor   chain.Cursor
}

// NewFollower builds a Follower. eventID is the topic0 used to build the
// on-chain log filter; callers normally pass decoder.EventID().
func NewFollower(client LogSource, decoder *chain.Decoder, tree *TreeData, eventID common.Hash, cfg FollowerConfig) *Follower {
	if cfg.LogChannelSize <= 0 {
		cfg.LogChannelSize = 256
	}
	return &Follower{
		client:  client,
		decoder: decoder,
		tree:    tree,
		cfg:     cfg,
		eventID: eventID,
	}
}

func (f *Follower) filterQuery(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{f.cfg.ContractAddress},
		Topics:    [][]common.Hash{{f.eventID}},
	}
}

// CatchUp scans every TreeChanged log from CreationBlock through the current
// head, in order, and applies each one. It must complete before Subscribe or
// Apply are started; a failure here is always fatal, never retried.
func (f *Follower) CatchUp(ctx context.Context) error {
	head, err := f.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: fetching head header: %v", ErrTransport, err)
	}

	q := f.filterQuery(new(big.Int).SetUint64(f.cfg.CreationBlock), head.Number)
	logs, err := f.client.FilterLogs(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: catch-up filter: %v", ErrTransport, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		return logCursor(logs[i]).Less(logCursor(logs[j]))
	})

	for _, l := range logs {
		if err := f.applyLog(ctx, l); err != nil {
			return err
		}
	}
	log.Printf("[Chain] catch-up complete: %d log(s) applied, head block %d", len(logs), head.Number.Uint64())
	return nil
}

// Subscribe runs the live-subscription task: it re-subscribes with
// exponential backoff on transport errors and pushes every received log onto
// out. It returns only when ctx is cancelled or a non-transport error
// occurs.
func (f *Follower) Subscribe(ctx context.Context, out chan<- types.Log) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := f.subscribeOnce(ctx, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !errors.Is(err, ErrTransport) {
			return err
		}
		log.Printf("[Chain] subscription error, retrying in %s: %v", backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (f *Follower) subscribeOnce(ctx context.Context, out chan<- types.Log) error {
	ch := make(chan types.Log, f.cfg.LogChannelSize)
	q := f.filterQuery(nil, nil)
	sub, err := f.client.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return fmt.Errorf("%w: subscribing: %v", ErrTransport, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("%w: subscription: %v", ErrTransport, err)
		case l := <-ch:
			select {
			case out <- l:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Apply runs the tree-applier task: it reads logs from in, in the order
// Subscribe delivered them, and applies each one sequentially. This is the
// single serialized writer the concurrency model in spec.md §5 requires —
// no two mutations are ever applied concurrently. A transport error while
// applying a log is retried with exponential backoff; any other error is
// returned.
func (f *Follower) Apply(ctx context.Context, in <-chan types.Log) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-in:
			if !ok {
				return nil
			}
			for backoff := time.Second; ; backoff = min(2*backoff, 30*time.Second) {
				err := f.applyLog(ctx, l)
				if err == nil {
					break
				}
				if !errors.Is(err, ErrTransport) {
					return err
				}
				log.Printf("[Chain] transport error applying log, retrying in %s: %v", backoff, err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
			}
		}
	}
}

func (f *Follower) applyLog(ctx context.Context, l types.Log) error {
	cur := logCursor(l)

	f.cursorMu.Lock()
	stale := !f.cursor.IsZero() && cur.Compare(f.cursor) <= 0
	f.cursorMu.Unlock()
	if stale {
		log.Printf("[Chain] skipping out-of-order or duplicate log at %+v (cursor already at %+v)", cur, f.cursor)
		return nil
	}

	tx, _, err := f.client.TransactionByHash(ctx, l.TxHash)
	if err != nil {
		return fmt.Errorf("%w: fetching transaction %s: %v", ErrTransport, l.TxHash, err)
	}

	mutation, err := f.decoder.Decode(l, tx.Data())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if err := f.applyMutation(mutation); err != nil {
		return fmt.Errorf("%w: %v", ErrApplication, err)
	}

	f.cursorMu.Lock()
	f.cursor = cur
	f.cursorMu.Unlock()
	return nil
}

func (f *Follower) applyMutation(m *chain.Mutation) error {
	switch m.Kind {
	case chain.Insert:
		return f.tree.InsertManyAt(m.StartIndex, m.Commitments)
	case chain.Delete:
		return f.tree.DeleteMany(m.Indices)
	default:
		return fmt.Errorf("worldtree: unknown mutation kind %v", m.Kind)
	}
}

func logCursor(l types.Log) chain.Cursor {
	return chain.Cursor{Block: l.BlockNumber, TxIndex: uint(l.TxIndex), LogIndex: uint(l.Index)}
}
