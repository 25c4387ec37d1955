package flashsale

import (
	"encoding/json"
	"time"
)

const (
	EventSaleScheduled         = "SaleScheduled"
	EventOrderConfirmed        = "OrderConfirmed"
	EventPurchaseFailed        = "PurchaseFailed"
	EventCompensationEscalated = "CompensationEscalated"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually attempt_id
	Payload       json.RawMessage `json:"payload"`
}

type SaleScheduledPayload struct {
	ItemID     string    `json:"item_id"`
	Name       string    `json:"name"`
	TotalUnits int       `json:"total_units"`
	PriceCents int       `json:"price_cents"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
}

type OrderConfirmedPayload struct {
	AttemptID string `json:"attempt_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	OrderID   string `json:"order_id"`
}

type PurchaseFailedPayload struct {
	AttemptID string `json:"attempt_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	Reason    string `json:"reason"` // e.g. EXHAUSTED, PAYMENT_FAILED, RESERVATION_TIMEOUT
}

type CompensationEscalatedPayload struct {
	AttemptID string `json:"attempt_id"`
	Action    string `json:"action"` // refund | release
	Cause     string `json:"cause"`
}
