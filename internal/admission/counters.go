package admission

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
)

// CounterStore backs the gate's rate accounting. The Redis implementation
// lives in redisx; MemoryCounters serves single-node deployments and tests.
type CounterStore interface {
	// IncrWindow increments key inside a fixed window and returns the new
	// count. The window starts when the key is first incremented.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)

	// SetNX sets key with a TTL if absent; returns false when already set.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type MemoryCounters struct {
	mu   sync.Mutex
	clk  clock.Clock
	data map[string]memEntry
}

type memEntry struct {
	n       int64
	expires time.Time
}

func NewMemoryCounters(clk clock.Clock) *MemoryCounters {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &MemoryCounters{clk: clk, data: map[string]memEntry{}}
}

func (m *MemoryCounters) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	e, ok := m.data[key]
	if !ok || now.After(e.expires) {
		e = memEntry{expires: now.Add(window)}
	}
	e.n++
	m.data[key] = e
	return e.n, nil
}

func (m *MemoryCounters) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	if e, ok := m.data[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	m.data[key] = memEntry{n: 1, expires: now.Add(ttl)}
	return true, nil
}
