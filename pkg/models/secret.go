package models

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a secret record.
type State string

const (
	StateNew      State = "new"
	StateViewed   State = "viewed"
	StateReceived State = "received"
	StateBurned   State = "burned"
)

// Terminal reports whether no further transition may leave the state.
func (s State) Terminal() bool {
	return s == StateReceived || s == StateBurned
}

// transitions is the closed set of legal forward edges. There are no
// backward edges: consumption and destruction are irreversible.
var transitions = map[State][]State{
	StateNew:    {StateViewed, StateBurned},
	StateViewed: {StateReceived, StateBurned},
}

// CanTransition reports whether from → to is a legal state change.
// Every backend routes state changes through this single check.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StampField returns the serialized record field written when entering
// the given state.
func StampField(to State) (string, error) {
	switch to {
	case StateViewed:
		return "viewed_at", nil
	case StateReceived:
		return "received_at", nil
	case StateBurned:
		return "burned_at", nil
	}
	return "", fmt.Errorf("state %q has no entry timestamp", to)
}

// RecordKind distinguishes the two halves of a secret pair. The kinds
// live in distinct key namespaces so knowing one identifier never
// exposes the other record.
type RecordKind string

const (
	KindShare RecordKind = "share"
	KindAdmin RecordKind = "admin"
)

// Record is one half of a secret pair. The share record carries the
// payload and is keyed by the recipient-facing identifier; the admin
// record carries only lifecycle/audit state for the creator and outlives
// the share record (2× TTL).
//
// The field set is fixed; storage backends reject unknown fields when
// decoding.
type Record struct {
	ID     string     `json:"id"`
	PairID string     `json:"pair_id"` // identifier of the counterpart record
	Kind   RecordKind `json:"kind"`
	State  State      `json:"state"`

	// Payload is cleartext when Encrypted is false, AES-256-GCM
	// ciphertext otherwise. Wiped on entering a terminal state.
	Payload   []byte `json:"payload,omitempty"`
	Encrypted bool   `json:"encrypted"`
	Nonce     []byte `json:"nonce,omitempty"`
	KeySalt   []byte `json:"key_salt,omitempty"`

	// PassphraseDigest verifies a passphrase attempt. It is derived with
	// an independent salt so it is never sufficient to reach the payload
	// key. Immutable after creation.
	PassphraseDigest []byte `json:"passphrase_digest,omitempty"`
	DigestSalt       []byte `json:"digest_salt,omitempty"`

	OriginalSize int  `json:"original_size"`
	Truncated    bool `json:"truncated"`

	OwnerFingerprint string `json:"owner_fingerprint,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	TTLSeconds int64      `json:"ttl_seconds"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ViewedAt   *time.Time `json:"viewed_at,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	BurnedAt   *time.Time `json:"burned_at,omitempty"`
}

// PassphraseProtected reports whether a passphrase is required to reveal.
func (r *Record) PassphraseProtected() bool {
	return len(r.PassphraseDigest) > 0
}

// TTL returns the share time-to-live the record was created with.
func (r *Record) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

// Stamp records the entry timestamp for the given state.
func (r *Record) Stamp(to State, at time.Time) {
	switch to {
	case StateViewed:
		r.ViewedAt = &at
	case StateReceived:
		r.ReceivedAt = &at
	case StateBurned:
		r.BurnedAt = &at
	}
}

// Clone returns a deep copy so callers never alias stored byte slices.
func (r *Record) Clone() *Record {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	c.Nonce = append([]byte(nil), r.Nonce...)
	c.KeySalt = append([]byte(nil), r.KeySalt...)
	c.PassphraseDigest = append([]byte(nil), r.PassphraseDigest...)
	c.DigestSalt = append([]byte(nil), r.DigestSalt...)
	if r.ViewedAt != nil {
		t := *r.ViewedAt
		c.ViewedAt = &t
	}
	if r.ReceivedAt != nil {
		t := *r.ReceivedAt
		c.ReceivedAt = &t
	}
	if r.BurnedAt != nil {
		t := *r.BurnedAt
		c.BurnedAt = &t
	}
	return &c
}
