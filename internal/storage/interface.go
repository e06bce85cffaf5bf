package storage

import (
	"context"
	"errors"
	"time"

	"github.com/burnbox/burnbox/pkg/models"
)

// ErrNotFound is returned when a record is absent or past expiry.
// The two cases are indistinguishable at this interface.
var ErrNotFound = errors.New("not found")

// ErrStateConflict is returned by Transition when the record is not in
// the expected state. The losing side of a concurrent reveal/burn race
// observes this.
var ErrStateConflict = errors.New("state conflict")

// Backend is the persistence interface for secret pairs. Expiry is the
// backend's responsibility: a read of an expired record must behave
// exactly like a read of a record that never existed.
type Backend interface {
	// PutPair persists both halves of a new secret pair with their TTLs
	// armed (share at ExpiresAt, admin at 2× share TTL).
	PutPair(ctx context.Context, share, admin *models.Record) error

	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, kind models.RecordKind, id string) (*models.Record, error)

	// Transition atomically moves the record from → to, stamping the
	// entry timestamp and irreversibly wiping the payload when to is
	// terminal. It is a compare-and-set: if the current state differs
	// from the expected one it fails with ErrStateConflict and changes
	// nothing. The record's remaining TTL is preserved.
	Transition(ctx context.Context, kind models.RecordKind, id string, from, to models.State, at time.Time) error

	// MirrorAdmin copies a share-side lifecycle change onto the admin
	// record so audit state survives share expiry. Missing admin records
	// (already past their own 2×TTL) are not an error.
	MirrorAdmin(ctx context.Context, id string, state models.State, at time.Time) error

	Close()
}
