package redisx

import "time"

const (
	// Attempt status mirror for fast polling: attempt:status:{attempt_id}
	KeyAttemptStatus = "attempt:status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
