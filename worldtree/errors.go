package worldtree

import "errors"

var (
	// ErrTransport is returned when a LogSource call (subscribe, filter,
	// fetch a transaction) fails. The follower retries these with backoff
	// while it is in the live-subscription phase, and fails fast with it
	// during the one-shot catch-up scan.
	ErrTransport = errors.New("worldtree: chain transport error")

	// ErrDecode is returned when a log's calldata cannot be decoded into a
	// Mutation. This is never retried: a malformed log will not become
	// well-formed on a later attempt.
	ErrDecode = errors.New("worldtree: log decode error")

	// ErrApplication is returned when a decoded Mutation cannot be applied
	// to the tree (e.g. an index out of range). Also never retried.
	ErrApplication = errors.New("worldtree: mutation application error")
)
