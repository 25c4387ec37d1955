package saga

import (
	"sync"

	"github.com/ariefcatur/go-flash-sale.git/internal/clock"
	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
)

// Store holds in-flight purchase attempts. It is the single owner of attempt
// step transitions; every change goes through Transition so the step machine
// cannot be bypassed.
type Store struct {
	mu  sync.RWMutex
	m   map[string]*flashsale.PurchaseAttempt
	clk clock.Clock
}

func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{m: map[string]*flashsale.PurchaseAttempt{}, clk: clk}
}

func (s *Store) Create(a flashsale.PurchaseAttempt) (flashsale.PurchaseAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[a.ID]; ok {
		return *existing, nil
	}
	now := s.clk.Now()
	a.Step = flashsale.StepAdmitted
	a.CreatedAt = now
	a.UpdatedAt = now
	s.m[a.ID] = &a
	return a, nil
}

func (s *Store) Get(id string) (flashsale.PurchaseAttempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.m[id]
	if !ok {
		return flashsale.PurchaseAttempt{}, false
	}
	return *a, true
}

// Transition moves the attempt to the next step, validating against the step
// machine. reason is recorded when non-empty.
func (s *Store) Transition(id string, to flashsale.Step, reason string) (flashsale.PurchaseAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[id]
	if !ok {
		return flashsale.PurchaseAttempt{}, flashsale.ErrAttemptNotFound
	}
	if !flashsale.CanTransition(a.Step, to) {
		if a.Step.Terminal() {
			return *a, flashsale.ErrAttemptTerminal
		}
		return *a, flashsale.ErrInvalidTransition
	}
	a.Step = to
	if reason != "" {
		a.FailReason = reason
	}
	a.UpdatedAt = s.clk.Now()
	return *a, nil
}

// Update applies fn to the attempt under the lock, for fields outside the
// step machine (payment id, order id).
func (s *Store) Update(id string, fn func(a *flashsale.PurchaseAttempt)) (flashsale.PurchaseAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[id]
	if !ok {
		return flashsale.PurchaseAttempt{}, flashsale.ErrAttemptNotFound
	}
	fn(a)
	a.UpdatedAt = s.clk.Now()
	return *a, nil
}
