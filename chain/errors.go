package chain

import "errors"

var (
	// ErrUnknownEvent is returned when a log's topic0 does not match the
	// TreeChanged event signature the decoder was built for.
	ErrUnknownEvent = errors.New("chain: log is not a TreeChanged event")

	// ErrMalformedCalldata is returned when the transaction's input data is
	// too short to contain a 4-byte function selector.
	ErrMalformedCalldata = errors.New("chain: transaction calldata is malformed")

	// ErrUnknownSelector is returned when the calldata's selector matches
	// neither registerIdentities nor deleteIdentities.
	ErrUnknownSelector = errors.New("chain: unrecognized function selector")
)
