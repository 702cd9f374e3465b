package realtime

import (
	"strings"
	"time"
)

// GatewayConfig holds the websocket gateway knobs. Zero values fall back to
// the package defaults.
type GatewayConfig struct {
	// DevInsecure disables the websocket library's origin verification. Dev only.
	DevInsecure bool

	// Origin policy: Origin is required by default and only localhost is allowed.
	OriginRequired bool
	AllowedOrigins []string

	// RequireAuth rejects upgrades without a valid bearer token. When false,
	// anonymous sessions may send and the inbound sender_id is trusted.
	RequireAuth bool

	SendQueueSize     int
	WriteTimeout      time.Duration
	ReadIdleTimeout   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxFrameBytes     int64
	PersistTimeout    time.Duration
}

// DefaultGatewayConfig returns the secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    SplitOrigins(defaultAllowedOrigins),
		RequireAuth:       true,
		SendQueueSize:     defaultSendQueueSize,
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		HeartbeatInterval: defaultHeartbeatInterval,
		HeartbeatTimeout:  defaultHeartbeatTimeout,
		MaxFrameBytes:     defaultMaxFrameBytes,
		PersistTimeout:    defaultPersistTimeout,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdle
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = defaultPersistTimeout
	}
	return c
}

// SplitOrigins parses a comma separated origin allowlist.
func SplitOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
