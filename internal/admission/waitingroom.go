package admission

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
)

// AdmitFunc receives tickets released from the waiting room, in FIFO order.
type AdmitFunc func(ctx context.Context, ticket flashsale.AdmissionTicket)

// WaitingRoom holds tickets issued over the global rate cap and drips them
// into the purchase path at a fixed rate. Arrival order is the fairness
// guarantee; a ticket not released within its TTL expires and frees its slot.
type WaitingRoom struct {
	mu       sync.Mutex
	queue    []*flashsale.AdmissionTicket
	capacity int
	ttl      time.Duration
	every    time.Duration
	clk      clock.Clock
	admit    AdmitFunc
}

func NewWaitingRoom(capacity int, ttl, dripEvery time.Duration, clk clock.Clock, admit AdmitFunc) *WaitingRoom {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &WaitingRoom{capacity: capacity, ttl: ttl, every: dripEvery, clk: clk, admit: admit}
}

// Enqueue appends the ticket and returns its 1-based position. Returns false
// when the room is full after pruning expired tickets.
func (r *WaitingRoom) Enqueue(t *flashsale.AdmissionTicket) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune()
	if len(r.queue) >= r.capacity {
		return 0, false
	}
	t.ExpiresAt = r.clk.Now().Add(r.ttl)
	r.queue = append(r.queue, t)
	return len(r.queue), true
}

// Lookup serves status polls for queued tickets.
func (r *WaitingRoom) Lookup(ticketID string) (flashsale.AdmissionTicket, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.queue {
		if t.ID == ticketID {
			return *t, i + 1, true
		}
	}
	return flashsale.AdmissionTicket{}, 0, false
}

func (r *WaitingRoom) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// prune drops expired tickets from the head positions. Caller holds the lock.
func (r *WaitingRoom) prune() {
	now := r.clk.Now()
	live := r.queue[:0]
	for _, t := range r.queue {
		if now.Before(t.ExpiresAt) {
			live = append(live, t)
		}
	}
	r.queue = live
}

// ReleaseOne pops the oldest live ticket and hands it to the admit callback.
// Returns false when the queue held nothing releasable.
func (r *WaitingRoom) ReleaseOne(ctx context.Context) bool {
	r.mu.Lock()
	var head *flashsale.AdmissionTicket
	now := r.clk.Now()
	for len(r.queue) > 0 {
		t := r.queue[0]
		r.queue = r.queue[1:]
		if now.Before(t.ExpiresAt) {
			head = t
			break
		}
		log.Printf("waiting room: ticket %s expired unserved", t.ID)
	}
	r.mu.Unlock()
	if head == nil {
		return false
	}
	r.admit(ctx, *head)
	return true
}

// Run drips tickets until ctx is done.
func (r *WaitingRoom) Run(ctx context.Context) error {
	tick := time.NewTicker(r.every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			r.ReleaseOne(ctx)
		}
	}
}
