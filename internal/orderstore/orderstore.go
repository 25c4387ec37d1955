// Package orderstore is the boundary to the order-creation capability: the
// durable order record written once a purchase is paid.
package orderstore

import "context"

type Creator interface {
	// CreateOrder persists the order and returns its id. Idempotent keyed by
	// attemptID: repeating the call returns the id created the first time.
	CreateOrder(ctx context.Context, attemptID, userID, itemID string, priceCents int, paymentID string) (string, error)
}
