package redisx

import "time"

const (
	// Guest capability token: guest:token:{secret} -> order_id
	KeyGuestToken = "guest:token:%s"

	// Reverse lookup so a replayed guest create gets its original secret back:
	// guest:order:{order_id} -> secret
	KeyGuestOrder = "guest:order:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLGuestToken = 3 * time.Hour
	TTLDedup      = 48 * time.Hour
)
