// Package payment is the boundary to the external payment capability. The
// provider protocol is out of scope here; both operations are idempotent
// keyed by the attempt id.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrDeclined is a definitive provider refusal; retrying cannot help.
	ErrDeclined    = errors.New("payment declined")
	ErrUnavailable = errors.New("payment provider unavailable")
)

type Client interface {
	// Charge debits amountCents for the attempt and returns the provider's
	// payment id. Repeating a Charge with the same attemptID returns the
	// original payment id without charging again.
	Charge(ctx context.Context, attemptID string, amountCents int, paymentToken string) (string, error)

	// Refund reverses a previous charge. Idempotent per paymentID.
	Refund(ctx context.Context, paymentID string) error
}
