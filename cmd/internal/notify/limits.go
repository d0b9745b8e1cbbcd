package notify

import "time"

const (
	// Per-subscriber queue. A subscriber whose queue is full is evicted.
	defaultQueueSize = 64
	minQueueSize     = 8

	// Heartbeat defaults (SSE comment lines, WebSocket pings).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	wsWriteTimeout    = 5 * time.Second
	wsMaxPingFailures = 3
	wsReadLimit       = 4 << 10 // clients never send payloads on the stream
)
