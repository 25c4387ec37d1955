// Package admission throttles and queues purchase requests before they ever
// touch the ledger: the ledger must never see more contention than the gate
// lets through.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
)

type DecisionKind int

const (
	Admitted DecisionKind = iota + 1
	Throttled
	Queued
	Rejected
)

type Decision struct {
	Kind     DecisionKind
	Ticket   flashsale.AdmissionTicket
	Position int    // set when Queued
	Reason   string // set when Rejected
}

// Policy is an advisory pre-admission hook (deny lists, fraud flags). A nil
// policy admits everyone; a non-nil error maps to Rejected.
type Policy func(userID, saleItemID string) error

type Limits struct {
	// GlobalPerWindow caps accepted attempts per item per Window. Requests
	// over the cap are queued (or throttled if the room is full or absent).
	GlobalPerWindow int64
	Window          time.Duration
	// UserCooldown is the minimum interval between attempts by one user for
	// one item.
	UserCooldown time.Duration
}

type Gate struct {
	counters CounterStore
	room     *WaitingRoom // optional
	limits   Limits
	policy   Policy
	clk      clock.Clock
}

func NewGate(counters CounterStore, room *WaitingRoom, limits Limits, policy Policy, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Gate{counters: counters, room: room, limits: limits, policy: policy, clk: clk}
}

const (
	keyUserCooldown = "adm:user:%s:%s" // item, user
	keyGlobalWindow = "adm:global:%s"  // item
)

// Submit decides what happens to one purchase request. It has no side effect
// on the ledger in any branch. paymentToken may be empty (charge on file).
func (g *Gate) Submit(ctx context.Context, userID, saleItemID, paymentToken string) (Decision, error) {
	if g.policy != nil {
		if err := g.policy(userID, saleItemID); err != nil {
			return Decision{Kind: Rejected, Reason: err.Error()}, nil
		}
	}

	ok, err := g.counters.SetNX(ctx, fmt.Sprintf(keyUserCooldown, saleItemID, userID), g.limits.UserCooldown)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Kind: Throttled}, nil
	}

	n, err := g.counters.IncrWindow(ctx, fmt.Sprintf(keyGlobalWindow, saleItemID), g.limits.Window)
	if err != nil {
		return Decision{}, err
	}

	ticket := flashsale.AdmissionTicket{
		ID:           uuid.NewString(),
		UserID:       userID,
		SaleItemID:   saleItemID,
		PaymentToken: paymentToken,
		IssuedAt:     g.clk.Now(),
	}

	if n > g.limits.GlobalPerWindow {
		if g.room == nil {
			return Decision{Kind: Throttled}, nil
		}
		pos, ok := g.room.Enqueue(&ticket)
		if !ok {
			return Decision{Kind: Throttled}, nil
		}
		ticket.Position = pos
		return Decision{Kind: Queued, Ticket: ticket, Position: pos}, nil
	}

	return Decision{Kind: Admitted, Ticket: ticket}, nil
}
