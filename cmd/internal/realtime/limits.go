package realtime

import "time"

const (
	// Max bytes per inbound websocket frame. Subscribers only send control chatter.
	maxFrameBytes = 4 << 10 // 4 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limit (frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
