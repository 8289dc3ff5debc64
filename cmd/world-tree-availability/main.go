// Command world-tree-availability serves Merkle inclusion proofs for
// identities registered in an on-chain identity-manager contract, keeping a
// local copy of the tree in sync by following the contract's TreeChanged
// events.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/wuggen/world-tree/api"
	"github.com/wuggen/world-tree/chain"
	"github.com/wuggen/world-tree/merkletree"
	"github.com/wuggen/world-tree/worldtree"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		log.Printf("[WorldTree] %v", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := ethclient.DialContext(ctx, cfg.rpcEndpoint)
	if err != nil {
		log.Fatalf("[WorldTree] connecting to %s: %v", cfg.rpcEndpoint, err)
	}
	defer client.Close()

	decoder, err := chain.NewDecoder()
	if err != nil {
		log.Fatalf("[WorldTree] building chain decoder: %v", err)
	}

	tree, err := merkletree.New(cfg.treeDepth, cfg.densePrefixDepth, merkletree.Hash{}, merkletree.Keccak256Hasher)
	if err != nil {
		log.Fatalf("[WorldTree] building tree: %v", err)
	}

	treeData, err := worldtree.NewTreeData(tree, cfg.treeHistorySize)
	if err != nil {
		log.Fatalf("[WorldTree] building tree data: %v", err)
	}

	follower := worldtree.NewFollower(client, decoder, treeData, decoder.EventID(), worldtree.FollowerConfig{
		ContractAddress: cfg.contractAddress,
		CreationBlock:   cfg.creationBlock,
	})

	log.Printf("[WorldTree] scanning from block %d for contract %s", cfg.creationBlock, cfg.contractAddress)
	if err := follower.CatchUp(ctx); err != nil {
		log.Fatalf("[WorldTree] catch-up scan failed: %v", err)
	}
	log.Printf("[WorldTree] caught up to chain head, starting live follower and HTTP server on :%d", cfg.port)

	router := mux.NewRouter()
	api.NewHandler(treeData).RegisterRoutes(router)
	server := &http.Server{
		Addr:         formatAddr(cfg.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	logCh := make(chan types.Log, 256)

	g.Go(func() error {
		return follower.Subscribe(gctx, logCh)
	})
	g.Go(func() error {
		return follower.Apply(gctx, logCh)
	})
	g.Go(func() error {
		return serveUntilCancelled(gctx, server)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[WorldTree] exiting: %v", err)
		return 1
	}
	log.Printf("[WorldTree] shut down cleanly")
	return 0
}

func serveUntilCancelled(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func formatAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
