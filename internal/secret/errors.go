package secret

import "errors"

// Typed outcomes of store operations. All of these are expected results
// the web layer maps to user-facing responses; only storage connectivity
// failures surface as plain wrapped errors.
var (
	// ErrNotFound covers both "never existed" and "expired"; callers must
	// not be able to tell the two apart.
	ErrNotFound = errors.New("secret not found")

	// ErrAlreadyConsumed means the one-shot reveal contract would be
	// violated: the record is in a terminal state, or the caller lost a
	// concurrent transition race.
	ErrAlreadyConsumed = errors.New("secret already consumed")

	// ErrInvalidPassphrase is retryable; the record state is unchanged.
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrContentTooLarge means the content exceeds the absolute hard cap,
	// past which even truncation is refused.
	ErrContentTooLarge = errors.New("content exceeds maximum size")

	// ErrInvalidTTL means the requested ttl is outside configured bounds.
	ErrInvalidTTL = errors.New("ttl outside allowed bounds")

	// ErrRateLimited means the owner fingerprint exceeded its quota.
	ErrRateLimited = errors.New("rate limited")
)
