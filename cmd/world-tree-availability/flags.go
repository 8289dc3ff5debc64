package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// uint64Value implements flag.Value for flags the standard flag package has
// no native constructor for (it only ships Uint64Var on *int64/etc aliases
// in newer toolchains; this keeps the module portable to older ones and
// matches the wrapper style used for custom flag kinds elsewhere).
type uint64Value uint64

func (v *uint64Value) String() string {
	if v == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func (v *uint64Value) Set(s string) error {
	parsed, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uint64 value %q: %w", s, err)
	}
	*v = uint64Value(parsed)
	return nil
}

// addressValue implements flag.Value for an Ethereum address flag.
type addressValue common.Address

func (v *addressValue) String() string {
	if v == nil {
		return ""
	}
	return common.Address(*v).Hex()
}

func (v *addressValue) Set(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("invalid address %q", s)
	}
	*v = addressValue(common.HexToAddress(s))
	return nil
}

// config holds the fully-parsed command-line configuration, mirroring the
// `Opts` struct of the source this service's CLI surface was derived from.
type config struct {
	treeDepth        int
	treeHistorySize  int
	densePrefixDepth int
	contractAddress  common.Address
	creationBlock    uint64
	rpcEndpoint      string
	port             int
}

// parseFlags parses args into a config. It returns flag.ErrHelp when -h/-help
// was requested, matching the standard library's own convention so callers
// can tell "help was printed" apart from "a real parse error occurred."
func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("world-tree-availability", flag.ContinueOnError)

	treeDepth := fs.Int("tree-depth", 0, "depth of the Merkle tree, in levels")
	treeHistorySize := fs.Int("tree-history-size", 0, "number of historical roots to retain for inclusion proofs")
	densePrefixDepth := fs.Int("dense-prefix-depth", 0, "number of levels (from the root) stored as a dense, fully materialized array")

	var address addressValue
	fs.Var(&address, "address", "address of the identity-manager contract to follow")

	var creationBlock uint64Value
	fs.Var(&creationBlock, "creation-block", "block number at which the contract was deployed; catch-up scanning starts here")

	rpcEndpoint := fs.String("rpc-endpoint", "", "HTTP(S) JSON-RPC endpoint of an EVM node to read logs from")
	port := fs.Int("port", 8080, "port the inclusion-proof HTTP server listens on")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		treeDepth:        *treeDepth,
		treeHistorySize:  *treeHistorySize,
		densePrefixDepth: *densePrefixDepth,
		contractAddress:  common.Address(address),
		creationBlock:    uint64(creationBlock),
		rpcEndpoint:      *rpcEndpoint,
		port:             *port,
	}

	if cfg.treeDepth <= 0 {
		return config{}, fmt.Errorf("-tree-depth must be positive")
	}
	if cfg.densePrefixDepth < 0 || cfg.densePrefixDepth > cfg.treeDepth {
		return config{}, fmt.Errorf("-dense-prefix-depth must be in [0, tree-depth]")
	}
	if cfg.treeHistorySize < 0 {
		return config{}, fmt.Errorf("-tree-history-size must be non-negative")
	}
	if cfg.rpcEndpoint == "" {
		return config{}, fmt.Errorf("-rpc-endpoint is required")
	}
	if cfg.contractAddress == (common.Address{}) {
		return config{}, fmt.Errorf("-address is required")
	}

	return cfg, nil
}
