package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Stub is an in-memory provider for local runs and tests. Failure modes are
// scripted through the function hooks; charges are idempotent per attempt id.
type Stub struct {
	mu       sync.Mutex
	byIdem   map[string]string   // attemptID -> paymentID
	refunded map[string]int      // paymentID -> refund call count
	charges  map[string]struct{} // paymentIDs that exist

	ChargeErr func(attemptID string) error // consulted before charging
	RefundErr func(paymentID string) error

	ChargeCalls int
	RefundCalls int
}

func NewStub() *Stub {
	return &Stub{
		byIdem:   map[string]string{},
		refunded: map[string]int{},
		charges:  map[string]struct{}{},
	}
}

func (s *Stub) Charge(ctx context.Context, attemptID string, amountCents int, paymentToken string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ChargeCalls++
	if id, ok := s.byIdem[attemptID]; ok {
		return id, nil
	}
	if s.ChargeErr != nil {
		if err := s.ChargeErr(attemptID); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	s.byIdem[attemptID] = id
	s.charges[id] = struct{}{}
	return id, nil
}

func (s *Stub) Refund(ctx context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RefundCalls++
	if s.RefundErr != nil {
		if err := s.RefundErr(paymentID); err != nil {
			return err
		}
	}
	s.refunded[paymentID]++
	return nil
}

// Refunds reports how many refund calls succeeded for a payment id.
func (s *Stub) Refunds(paymentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunded[paymentID]
}

// PaymentIDFor exposes the id minted for an attempt, for assertions.
func (s *Stub) PaymentIDFor(attemptID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdem[attemptID]
	return id, ok
}
