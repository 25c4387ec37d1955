// Package reservation turns admitted purchase attempts into ledger holds and
// reclaims stock from abandoned ones.
package reservation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	"github.com/ariefcatur/go-flash-sale.git/internal/ledger"
)

// ExpireFunc tells the attempt owner that its hold timed out.
type ExpireFunc func(attemptID, reason string)

type Coordinator struct {
	ledger   ledger.Ledger
	ttl      time.Duration
	clk      clock.Clock
	onExpire ExpireFunc

	mu    sync.Mutex
	holds map[string]*flashsale.Reservation // by attempt id
}

func NewCoordinator(led ledger.Ledger, ttl time.Duration, clk clock.Clock, onExpire ExpireFunc) *Coordinator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Coordinator{
		ledger:   led,
		ttl:      ttl,
		clk:      clk,
		onExpire: onExpire,
		holds:    map[string]*flashsale.Reservation{},
	}
}

// Reserve takes one unit for the attempt. Idempotent: a second call for the
// same attempt returns the existing hold without touching the ledger again.
func (c *Coordinator) Reserve(ctx context.Context, attemptID, userID, itemID string) (flashsale.Reservation, error) {
	c.mu.Lock()
	if h, ok := c.holds[attemptID]; ok {
		res := *h
		c.mu.Unlock()
		if res.State == flashsale.HoldReleased {
			return flashsale.Reservation{}, flashsale.ErrReservationNotFound
		}
		return res, nil
	}
	c.mu.Unlock()

	result, err := c.ledger.TryReserve(ctx, itemID)
	if err != nil {
		return flashsale.Reservation{}, err
	}
	if result == ledger.Exhausted {
		return flashsale.Reservation{}, flashsale.ErrExhausted
	}

	now := c.clk.Now()
	h := &flashsale.Reservation{
		ID:         uuid.NewString(),
		AttemptID:  attemptID,
		SaleItemID: itemID,
		UserID:     userID,
		Qty:        1,
		State:      flashsale.HoldHeld,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}

	c.mu.Lock()
	if existing, ok := c.holds[attemptID]; ok {
		// Lost a race with a concurrent retry of the same attempt; give the
		// extra unit back.
		res := *existing
		c.mu.Unlock()
		if err := c.ledger.Release(ctx, itemID); err != nil {
			log.Printf("reservation: release after duplicate reserve attempt=%s: %v", attemptID, err)
		}
		return res, nil
	}
	c.holds[attemptID] = h
	c.mu.Unlock()
	return *h, nil
}

func (c *Coordinator) Get(attemptID string) (flashsale.Reservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.holds[attemptID]
	if !ok {
		return flashsale.Reservation{}, false
	}
	return *h, true
}

// Commit marks the attempt's hold as permanently sold. Idempotent.
func (c *Coordinator) Commit(ctx context.Context, attemptID string) error {
	c.mu.Lock()
	h, ok := c.holds[attemptID]
	if !ok {
		c.mu.Unlock()
		return flashsale.ErrReservationNotFound
	}
	switch h.State {
	case flashsale.HoldCommitted:
		c.mu.Unlock()
		return nil
	case flashsale.HoldReleased:
		c.mu.Unlock()
		return flashsale.ErrReservationNotFound
	}
	h.State = flashsale.HoldCommitted
	itemID := h.SaleItemID
	c.mu.Unlock()

	return c.ledger.CommitSale(ctx, itemID)
}

// ReleaseHold puts the attempt's unit back. Exactly one ledger release per
// hold: the state transition under the lock picks the single winner.
func (c *Coordinator) ReleaseHold(ctx context.Context, attemptID string) error {
	c.mu.Lock()
	h, ok := c.holds[attemptID]
	if !ok {
		c.mu.Unlock()
		return flashsale.ErrReservationNotFound
	}
	if h.State != flashsale.HoldHeld {
		c.mu.Unlock()
		return nil
	}
	h.State = flashsale.HoldReleased
	itemID := h.SaleItemID
	c.mu.Unlock()

	return c.ledger.Release(ctx, itemID)
}

// ExpireSweep releases every hold past its expiry and fails its owning
// attempt. Returns the number of holds reclaimed.
func (c *Coordinator) ExpireSweep(ctx context.Context) int {
	now := c.clk.Now()

	c.mu.Lock()
	var due []*flashsale.Reservation
	for _, h := range c.holds {
		if h.State == flashsale.HoldHeld && now.After(h.ExpiresAt) {
			h.State = flashsale.HoldReleased
			due = append(due, h)
		}
	}
	c.mu.Unlock()

	for _, h := range due {
		if err := c.ledger.Release(ctx, h.SaleItemID); err != nil {
			log.Printf("sweep: release item=%s attempt=%s: %v", h.SaleItemID, h.AttemptID, err)
		}
		if c.onExpire != nil {
			c.onExpire(h.AttemptID, "reservation-timeout")
		}
	}
	return len(due)
}

// RunSweeper runs ExpireSweep on a ticker until ctx is done. This is the
// safety net that bounds how long an abandoned attempt can sit on a unit.
func (c *Coordinator) RunSweeper(ctx context.Context, every time.Duration) error {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if n := c.ExpireSweep(ctx); n > 0 {
				log.Printf("sweep: reclaimed %d expired holds", n)
			}
		}
	}
}
