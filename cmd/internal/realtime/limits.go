package realtime

import "time"

// Gateway defaults. Each can be overridden through GatewayConfig.
const (
	// Max bytes per websocket frame read (hard limit).
	defaultMaxFrameBytes = 64 << 10 // 64 KiB

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout   = 5 * time.Second
	defaultReadIdle       = 2 * time.Minute
	defaultPersistTimeout = 5 * time.Second

	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second

	closeGrace      = 1 * time.Second
	maxPingFailures = 3

	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)
