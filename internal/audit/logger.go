// Package audit records secret lifecycle events. Payload bytes and
// passphrases must NEVER be passed here, only metadata.
package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog"
)

// Event names emitted by the engine.
const (
	EventCreated          = "created"
	EventRevealed         = "revealed"
	EventReplayed         = "replayed"
	EventConfirmed        = "confirmed"
	EventBurned           = "burned"
	EventPassphraseFailed = "passphrase_failed"
)

// Recorder writes structured lifecycle events.
type Recorder struct {
	log zerolog.Logger
}

// NewRecorder creates a Recorder writing to the given logger.
func NewRecorder(log zerolog.Logger) *Recorder {
	return &Recorder{log: log}
}

// Event records one lifecycle event for a secret. Identifiers are
// credentials, so only a short digest of the share identifier is logged.
func (r *Recorder) Event(event, shareID string) {
	r.log.Info().
		Str("event", event).
		Str("secret", Tag(shareID)).
		Msg("secret lifecycle")
}

// Tag returns a short non-reversible reference for an identifier,
// usable in logs without exposing the credential itself.
func Tag(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}
