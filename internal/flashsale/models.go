package flashsale

import "time"

type SaleStatus string

const (
	SaleScheduled SaleStatus = "SCHEDULED"
	SaleActive    SaleStatus = "ACTIVE"
	SaleSoldOut   SaleStatus = "SOLD_OUT"
	SaleEnded     SaleStatus = "ENDED"
)

// SaleItem is one flash-sale offer: a fixed number of units sold at a fixed
// price inside a fixed time window.
type SaleItem struct {
	ID         string
	Name       string
	TotalUnits int
	PriceCents int
	StartsAt   time.Time
	EndsAt     time.Time
	Status     SaleStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type HoldState string

const (
	HoldHeld      HoldState = "HELD"
	HoldCommitted HoldState = "COMMITTED"
	HoldReleased  HoldState = "RELEASED"
)

// Reservation is one unit tentatively set aside for one purchase attempt.
// Policy fixes quantity at one unit per attempt.
type Reservation struct {
	ID         string
	AttemptID  string
	SaleItemID string
	UserID     string
	Qty        int
	State      HoldState
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// PurchaseAttempt is the saga instance tracked end to end. Its ID doubles as
// the externally visible tracking id.
type PurchaseAttempt struct {
	ID           string
	UserID       string
	SaleItemID   string
	Step         Step
	FailReason   string
	PaymentID    string
	OrderID      string
	PaymentToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AdmissionTicket is a position in the waiting room. Its ID becomes the
// attempt id once the holder is admitted into the purchase path.
type AdmissionTicket struct {
	ID           string
	UserID       string
	SaleItemID   string
	PaymentToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Position     int
}
