package flashsale

const (
	TopicSaleScheduled     = "sale.scheduled"
	TopicPurchaseConfirmed = "purchase.confirmed"
	TopicPurchaseFailed    = "purchase.failed"
	TopicPurchaseEscalated = "purchase.escalated"
)

// Partition key = attempt_id so every event of one purchase keeps its order.
func PartitionKey(attemptID string) []byte { return []byte(attemptID) }
