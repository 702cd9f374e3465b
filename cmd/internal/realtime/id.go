package realtime

import (
	"time"

	"github.com/google/uuid"

	"parley/cmd/identity/ids"
)

// NewSessionID returns a random UUID used as websocket session id.
func NewSessionID() string {
	return uuid.NewString()
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		// crypto/rand failure; a UUID still keeps ids unique.
		return uuid.NewString()
	}
	return id
}
