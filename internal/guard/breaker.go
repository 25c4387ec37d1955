// Package guard wraps calls to external capabilities with retry policies and
// circuit breakers. Retries run first; only an exhausted retry sequence counts
// as one failure toward the breaker.
package guard

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
)

var ErrBreakerOpen = errors.New("circuit breaker open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker opens after Threshold consecutive failures inside Window, rejects
// calls for Cooldown, then half-opens to let a single probe through.
type Breaker struct {
	name      string
	threshold int
	window    time.Duration
	cooldown  time.Duration
	clk       clock.Clock

	mu          sync.Mutex
	state       State
	failures    int
	firstFailAt time.Time
	openedAt    time.Time
	probing     bool
}

func NewBreaker(name string, threshold int, window, cooldown time.Duration, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Breaker{name: name, threshold: threshold, window: window, cooldown: cooldown, clk: clk}
}

// Allow reports whether a call may proceed right now. In half-open state only
// one in-flight probe is admitted at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.clk.Now().Sub(b.openedAt) < b.cooldown {
			return fmt.Errorf("%s: %w", b.name, ErrBreakerOpen)
		}
		b.state = HalfOpen
		b.probing = true
		log.Printf("breaker %s: half-open, probing", b.name)
		return nil
	case HalfOpen:
		if b.probing {
			return fmt.Errorf("%s: %w", b.name, ErrBreakerOpen)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		log.Printf("breaker %s: closed after successful probe", b.name)
	}
	b.state = Closed
	b.failures = 0
	b.probing = false
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clk.Now()

	if b.state == HalfOpen {
		b.trip(now)
		return
	}

	// Failure streak resets once the rolling window has elapsed.
	if b.failures == 0 || now.Sub(b.firstFailAt) > b.window {
		b.failures = 0
		b.firstFailAt = now
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.failures = 0
	b.probing = false
	log.Printf("breaker %s: open for %s", b.name, b.cooldown)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
