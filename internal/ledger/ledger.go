// Package ledger owns the authoritative unit counters for every sale item.
// All mutation goes through single atomic operations; no caller ever holds a
// read-modify-write window over the available count.
package ledger

import "context"

type Result int

const (
	Reserved Result = iota + 1
	Exhausted
)

// Snapshot is a consistent view of one item's bookkeeping.
// Available + Holds + Sold == Total holds whenever Frozen is false.
type Snapshot struct {
	Total     int
	Available int
	Holds     int
	Sold      int
	Frozen    bool
}

// SoldOutFunc is invoked at most once per item, when its available count
// first reaches zero.
type SoldOutFunc func(itemID string)

type Ledger interface {
	// Register creates the entry for an item with its total unit count.
	// Registering an already known item is a no-op.
	Register(ctx context.Context, itemID string, totalUnits int) error

	// TryReserve atomically tests available > 0 and decrements by one.
	// Returns Exhausted without mutating anything once the count is zero.
	TryReserve(ctx context.Context, itemID string) (Result, error)

	// Release puts one held unit back. Used only for compensation or hold
	// expiry. Releasing past the total is an invariant violation: the entry
	// freezes and the error is returned.
	Release(ctx context.Context, itemID string) error

	// CommitSale marks one held unit as permanently sold. Bookkeeping only;
	// the available count was already decremented by TryReserve.
	CommitSale(ctx context.Context, itemID string) error

	Snapshot(ctx context.Context, itemID string) (Snapshot, error)
}
