package ledger

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
)

// Redis implements the ledger on a single hash per item, mutated only through
// Lua scripts so the test-and-decrement is one indivisible server-side
// operation across all API instances.
type Redis struct {
	rdb     *redis.Client
	soldOut SoldOutFunc
	latched sync.Map // itemID -> struct{}; local once-per-process latch
}

const keyLedger = "ledger:%s"

const (
	rcExhausted = -1
	rcFrozen    = -2
	rcMissing   = -3
	rcViolation = -4
)

var registerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'total', ARGV[1], 'avail', ARGV[1], 'holds', 0, 'sold', 0, 'frozen', 0)
return 1
`)

var reserveScript = redis.NewScript(`
local k = KEYS[1]
if redis.call('HGET', k, 'frozen') == '1' then return -2 end
local avail = tonumber(redis.call('HGET', k, 'avail'))
if avail == nil then return -3 end
if avail <= 0 then return -1 end
redis.call('HINCRBY', k, 'avail', -1)
redis.call('HINCRBY', k, 'holds', 1)
return avail - 1
`)

var releaseScript = redis.NewScript(`
local k = KEYS[1]
if redis.call('HGET', k, 'frozen') == '1' then return -2 end
local holds = tonumber(redis.call('HGET', k, 'holds'))
if holds == nil then return -3 end
local avail = tonumber(redis.call('HGET', k, 'avail'))
local sold = tonumber(redis.call('HGET', k, 'sold'))
local total = tonumber(redis.call('HGET', k, 'total'))
if holds <= 0 or avail + holds + sold ~= total then
	redis.call('HSET', k, 'frozen', '1')
	return -4
end
redis.call('HINCRBY', k, 'avail', 1)
redis.call('HINCRBY', k, 'holds', -1)
return 0
`)

var commitScript = redis.NewScript(`
local k = KEYS[1]
if redis.call('HGET', k, 'frozen') == '1' then return -2 end
local holds = tonumber(redis.call('HGET', k, 'holds'))
if holds == nil then return -3 end
if holds <= 0 then
	redis.call('HSET', k, 'frozen', '1')
	return -4
end
redis.call('HINCRBY', k, 'holds', -1)
redis.call('HINCRBY', k, 'sold', 1)
return 0
`)

func NewRedis(rdb *redis.Client, onSoldOut SoldOutFunc) *Redis {
	return &Redis{rdb: rdb, soldOut: onSoldOut}
}

func (r *Redis) key(itemID string) string { return fmt.Sprintf(keyLedger, itemID) }

func (r *Redis) Register(ctx context.Context, itemID string, totalUnits int) error {
	return registerScript.Run(ctx, r.rdb, []string{r.key(itemID)}, totalUnits).Err()
}

func (r *Redis) TryReserve(ctx context.Context, itemID string) (Result, error) {
	n, err := reserveScript.Run(ctx, r.rdb, []string{r.key(itemID)}).Int64()
	if err != nil {
		return 0, err
	}
	switch {
	case n == rcFrozen:
		return 0, flashsale.ErrItemFrozen
	case n == rcMissing:
		return 0, flashsale.ErrSaleNotFound
	case n == rcExhausted:
		r.latch(itemID)
		return Exhausted, nil
	case n == 0:
		r.latch(itemID)
		return Reserved, nil
	default:
		return Reserved, nil
	}
}

func (r *Redis) latch(itemID string) {
	if _, loaded := r.latched.LoadOrStore(itemID, struct{}{}); !loaded && r.soldOut != nil {
		r.soldOut(itemID)
	}
}

func (r *Redis) Release(ctx context.Context, itemID string) error {
	n, err := releaseScript.Run(ctx, r.rdb, []string{r.key(itemID)}).Int64()
	if err != nil {
		return err
	}
	return r.mapCode(itemID, "release", n)
}

func (r *Redis) CommitSale(ctx context.Context, itemID string) error {
	n, err := commitScript.Run(ctx, r.rdb, []string{r.key(itemID)}).Int64()
	if err != nil {
		return err
	}
	return r.mapCode(itemID, "commit", n)
}

func (r *Redis) mapCode(itemID, op string, n int64) error {
	switch n {
	case rcFrozen:
		return flashsale.ErrItemFrozen
	case rcMissing:
		return flashsale.ErrSaleNotFound
	case rcViolation:
		log.Printf("CRITICAL ledger invariant violation item=%s op=%s: entry frozen", itemID, op)
		return flashsale.ErrInvariantViolation
	default:
		return nil
	}
}

func (r *Redis) Snapshot(ctx context.Context, itemID string) (Snapshot, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key(itemID)).Result()
	if err != nil {
		return Snapshot{}, err
	}
	if len(vals) == 0 {
		return Snapshot{}, flashsale.ErrSaleNotFound
	}
	atoi := func(k string) int {
		n, _ := strconv.Atoi(vals[k])
		return n
	}
	return Snapshot{
		Total:     atoi("total"),
		Available: atoi("avail"),
		Holds:     atoi("holds"),
		Sold:      atoi("sold"),
		Frozen:    vals["frozen"] == "1",
	}, nil
}
