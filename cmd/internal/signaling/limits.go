package signaling

import "time"

const (
	// Max bytes accepted for one POST /call/signal body. Session descriptions with
	// many codecs are a few KiB; video offers stay well below this.
	defaultMaxBodyBytes = 64 << 10 // 64 KiB

	// Per-caller signal rate (events per window). A call setup sends one offer or
	// answer plus a burst of candidates.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// Idle limiter entries are dropped after this long.
	limiterIdleTTL = 5 * time.Minute
)
