package flashsale

import (
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
)

// Catalog is the in-process registry of sale items. Status transitions are
// driven by the clock (Scheduled -> Active -> Ended) and by the ledger's
// sold-out signal (Active -> SoldOut). Once Ended an item never changes.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]*SaleItem
	clk   clock.Clock
}

func NewCatalog(clk clock.Clock) *Catalog {
	return &Catalog{items: map[string]*SaleItem{}, clk: clk}
}

// Put registers or replaces a sale item. Items already Ended are immutable.
func (c *Catalog) Put(item SaleItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.items[item.ID]; ok && cur.Status == SaleEnded {
		return
	}
	if item.Status == "" {
		item.Status = SaleScheduled
	}
	cp := item
	c.advance(&cp, c.clk.Now())
	c.items[item.ID] = &cp
}

func (c *Catalog) Get(id string) (SaleItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return SaleItem{}, false
	}
	return *it, true
}

func (c *Catalog) List() []SaleItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SaleItem, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkSoldOut is wired as the ledger's sold-out callback.
func (c *Catalog) MarkSoldOut(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	if !ok || it.Status == SaleEnded {
		return
	}
	it.Status = SaleSoldOut
	it.UpdatedAt = c.clk.Now()
}

// Refresh advances every item's status against the current time. Called from
// a background ticker; also invoked lazily by Status.
func (c *Catalog) Refresh() {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items {
		c.advance(it, now)
	}
}

// Status returns the item's status as of now.
func (c *Catalog) Status(id string) (SaleStatus, error) {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[id]
	if !ok {
		return "", ErrSaleNotFound
	}
	c.advance(it, now)
	return it.Status, nil
}

// advance applies time-driven transitions. Caller holds the lock.
func (c *Catalog) advance(it *SaleItem, now time.Time) {
	switch it.Status {
	case SaleScheduled:
		if !now.Before(it.StartsAt) {
			it.Status = SaleActive
			it.UpdatedAt = now
		}
		if !now.Before(it.EndsAt) {
			it.Status = SaleEnded
			it.UpdatedAt = now
		}
	case SaleActive, SaleSoldOut:
		if !now.Before(it.EndsAt) {
			it.Status = SaleEnded
			it.UpdatedAt = now
		}
	}
}
