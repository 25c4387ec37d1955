package ledger

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
)

// Memory is the in-process ledger. Available and outstanding-hold counts are
// packed into one uint64 so a reservation is a single compare-and-swap: the
// only serialization point on the purchase hot path.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	soldOut SoldOutFunc
}

type entry struct {
	total int64
	// state packs available (high 32 bits) and outstanding holds (low 32).
	state   atomic.Uint64
	sold    atomic.Int64
	frozen  atomic.Bool
	latched atomic.Bool
	once    sync.Once
	// cold guards Release/CommitSale/Snapshot so conservation is exact at
	// every observable instant; TryReserve stays lock-free.
	cold sync.Mutex
}

func pack(avail, holds uint32) uint64  { return uint64(avail)<<32 | uint64(holds) }
func unpack(v uint64) (uint32, uint32) { return uint32(v >> 32), uint32(v) }

func NewMemory(onSoldOut SoldOutFunc) *Memory {
	return &Memory{entries: map[string]*entry{}, soldOut: onSoldOut}
}

func (m *Memory) Register(ctx context.Context, itemID string, totalUnits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[itemID]; ok {
		return nil
	}
	e := &entry{total: int64(totalUnits)}
	e.state.Store(pack(uint32(totalUnits), 0))
	m.entries[itemID] = e
	return nil
}

func (m *Memory) get(itemID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[itemID]
	m.mu.RUnlock()
	if !ok {
		return nil, flashsale.ErrSaleNotFound
	}
	return e, nil
}

func (m *Memory) TryReserve(ctx context.Context, itemID string) (Result, error) {
	e, err := m.get(itemID)
	if err != nil {
		return 0, err
	}
	if e.frozen.Load() {
		return 0, flashsale.ErrItemFrozen
	}
	// Once sold out the hot path stops contending on the counter entirely.
	if e.latched.Load() {
		return Exhausted, nil
	}
	for {
		cur := e.state.Load()
		avail, holds := unpack(cur)
		if avail == 0 {
			m.latch(itemID, e)
			return Exhausted, nil
		}
		if e.state.CompareAndSwap(cur, pack(avail-1, holds+1)) {
			if avail-1 == 0 {
				m.latch(itemID, e)
			}
			return Reserved, nil
		}
	}
}

func (m *Memory) latch(itemID string, e *entry) {
	e.latched.Store(true)
	e.once.Do(func() {
		if m.soldOut != nil {
			m.soldOut(itemID)
		}
	})
}

func (m *Memory) Release(ctx context.Context, itemID string) error {
	e, err := m.get(itemID)
	if err != nil {
		return err
	}
	if e.frozen.Load() {
		return flashsale.ErrItemFrozen
	}
	e.cold.Lock()
	defer e.cold.Unlock()
	for {
		cur := e.state.Load()
		avail, holds := unpack(cur)
		if holds == 0 || int64(avail)+int64(holds)+e.sold.Load() != e.total {
			return m.freeze(itemID, e, "release")
		}
		if e.state.CompareAndSwap(cur, pack(avail+1, holds-1)) {
			return nil
		}
	}
}

func (m *Memory) CommitSale(ctx context.Context, itemID string) error {
	e, err := m.get(itemID)
	if err != nil {
		return err
	}
	if e.frozen.Load() {
		return flashsale.ErrItemFrozen
	}
	e.cold.Lock()
	defer e.cold.Unlock()
	for {
		cur := e.state.Load()
		avail, holds := unpack(cur)
		if holds == 0 {
			return m.freeze(itemID, e, "commit")
		}
		if e.state.CompareAndSwap(cur, pack(avail, holds-1)) {
			e.sold.Add(1)
			return nil
		}
	}
}

// freeze halts all further mutation on the item. The count mismatch means
// inventory accounting is corrupt; correcting it silently would hide a defect.
func (m *Memory) freeze(itemID string, e *entry, op string) error {
	e.frozen.Store(true)
	log.Printf("CRITICAL ledger invariant violation item=%s op=%s: entry frozen", itemID, op)
	return flashsale.ErrInvariantViolation
}

func (m *Memory) Snapshot(ctx context.Context, itemID string) (Snapshot, error) {
	e, err := m.get(itemID)
	if err != nil {
		return Snapshot{}, err
	}
	e.cold.Lock()
	defer e.cold.Unlock()
	avail, holds := unpack(e.state.Load())
	return Snapshot{
		Total:     int(e.total),
		Available: int(avail),
		Holds:     int(holds),
		Sold:      int(e.sold.Load()),
		Frozen:    e.frozen.Load(),
	}, nil
}
