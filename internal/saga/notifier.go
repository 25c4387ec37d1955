package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-flash-sale.git/internal/flashsale"
	kafkax "github.com/ariefcatur/go-flash-sale.git/internal/kafka"
)

// KafkaNotifier publishes the downstream notification events. One producer
// per topic, all fire-and-forget.
type KafkaNotifier struct {
	Confirmed *kafkax.Producer
	Failed    *kafkax.Producer
	Escalated *kafkax.Producer
	Service   string
}

func (n *KafkaNotifier) publish(p *kafkax.Producer, eventType, attemptID string, payload any) {
	ev := flashsale.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: attemptID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(flashsale.PartitionKey(attemptID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, a flashsale.PurchaseAttempt) {
	n.publish(n.Confirmed, flashsale.EventOrderConfirmed, a.ID, flashsale.OrderConfirmedPayload{
		AttemptID: a.ID,
		UserID:    a.UserID,
		ItemID:    a.SaleItemID,
		OrderID:   a.OrderID,
	})
}

func (n *KafkaNotifier) PurchaseFailed(ctx context.Context, a flashsale.PurchaseAttempt) {
	n.publish(n.Failed, flashsale.EventPurchaseFailed, a.ID, flashsale.PurchaseFailedPayload{
		AttemptID: a.ID,
		UserID:    a.UserID,
		ItemID:    a.SaleItemID,
		Reason:    a.FailReason,
	})
}

func (n *KafkaNotifier) CompensationEscalated(ctx context.Context, a flashsale.PurchaseAttempt, action, cause string) {
	n.publish(n.Escalated, flashsale.EventCompensationEscalated, a.ID, flashsale.CompensationEscalatedPayload{
		AttemptID: a.ID,
		Action:    action,
		Cause:     cause,
	})
}
