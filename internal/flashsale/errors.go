package flashsale

import "errors"

var (
	ErrExhausted           = errors.New("inventory exhausted")
	ErrSaleNotFound        = errors.New("sale item not found")
	ErrSaleNotActive       = errors.New("sale not active")
	ErrAttemptNotFound     = errors.New("purchase attempt not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidTransition   = errors.New("invalid step transition")
	ErrAttemptTerminal     = errors.New("purchase attempt already terminal")

	// ErrInvariantViolation means the ledger bookkeeping no longer adds up.
	// It is a consistency defect: the item is frozen and never auto-corrected.
	ErrInvariantViolation = errors.New("ledger invariant violation")
	ErrItemFrozen         = errors.New("ledger entry frozen pending investigation")
)
