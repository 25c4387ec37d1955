package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
)

// StatusCache mirrors each attempt's current step so GETs stay off the
// authoritative store during the burst.
type StatusCache struct{ RDB *redis.Client }

type cachedStatus struct {
	Step    string `json:"step"`
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (c *StatusCache) SetStatus(ctx context.Context, a flashsale.PurchaseAttempt) error {
	b, err := json.Marshal(cachedStatus{Step: string(a.Step), OrderID: a.OrderID, Reason: a.FailReason})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyAttemptStatus, a.ID), b, TTLStatusCache).Err()
}

// GetStatus serves polls for attempts owned by another instance (or a
// previous process). Returns ErrAttemptNotFound when the mirror has no entry.
func (c *StatusCache) GetStatus(ctx context.Context, id string) (flashsale.PurchaseAttempt, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyAttemptStatus, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return flashsale.PurchaseAttempt{}, flashsale.ErrAttemptNotFound
	}
	if err != nil {
		return flashsale.PurchaseAttempt{}, err
	}
	var cs cachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return flashsale.PurchaseAttempt{}, err
	}
	return flashsale.PurchaseAttempt{
		ID:         id,
		Step:       flashsale.Step(cs.Step),
		OrderID:    cs.OrderID,
		FailReason: cs.Reason,
	}, nil
}
