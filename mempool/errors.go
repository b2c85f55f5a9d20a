package mempool

import "errors"

var (
	// ErrEntryExists is returned when adding a transaction whose hash is
	// already tracked by the pool.
	ErrEntryExists = errors.New("entry already exists in pool")

	// ErrEntryNotFound is returned when an operation names a transaction
	// the pool does not hold.
	ErrEntryNotFound = errors.New("entry not found in pool")

	// ErrOrphanEntry is returned when a transaction spends an output that
	// is neither held by the pool nor reported confirmed by the caller.
	// Orphan management is the storage layer's job; this engine only
	// accepts fully connected entries.
	ErrOrphanEntry = errors.New("entry references unknown input")

	// ErrNoCandidates is returned by GetMostWorthless when no valid
	// eviction candidate exists. With a non-empty pool this indicates the
	// tracker and the graph have diverged, which is a caller-side bug and
	// not recoverable.
	ErrNoCandidates = errors.New("no eviction candidates available")

	// ErrNotGrouped is returned when a group operation names a
	// transaction that is not a member of any group.
	ErrNotGrouped = errors.New("entry is not a group member")

	// ErrInvalidGroup is returned by FormGroup when the supplied member
	// list does not describe a valid child-pays-for-parent chain.
	ErrInvalidGroup = errors.New("invalid group member set")
)
