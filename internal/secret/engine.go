// Package secret implements the one-time secret lifecycle engine:
// paired share/admin records, passphrase-derived encryption, single
// reveal consumption, creator-initiated burn, and TTL expiry.
package secret

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/burnbox/burnbox/internal/audit"
	"github.com/burnbox/burnbox/internal/crypto"
	"github.com/burnbox/burnbox/internal/ratelimit"
	"github.com/burnbox/burnbox/internal/storage"
	"github.com/burnbox/burnbox/pkg/models"
)

// Identifier namespaces. Distinct prefixes keep share and admin tokens
// in separate key namespaces end to end.
const (
	SharePrefix = "bxs_"
	AdminPrefix = "bxa_"
)

// Config carries the injected bounds and the site-wide key-derivation
// secret. The site secret is explicit constructor input, never a
// process-wide singleton, so derivation is testable with fixtures.
type Config struct {
	SiteSecret []byte

	MinTTL     time.Duration
	MaxTTL     time.Duration
	DefaultTTL time.Duration

	// SoftLimit is the byte size past which content is truncated;
	// HardLimit is the absolute cap past which creation is refused.
	SoftLimit int
	HardLimit int

	// BandFraction perturbs the truncation point (e.g. 0.2 = stored
	// length uniform in [0.8·SoftLimit, SoftLimit]) so stored size does
	// not reveal the exact cutoff.
	BandFraction float64
}

// Engine owns the full lifecycle of secret pairs on top of a storage
// backend. All state changes go through the backend's atomic
// compare-and-set transition; the engine never does read-then-write on
// state.
type Engine struct {
	store    storage.Backend
	cfg      Config
	creates  ratelimit.Limiter
	attempts ratelimit.Limiter
	rec      *audit.Recorder

	now func() time.Time
}

// NewEngine wires an Engine. creates guards the creation quota per owner
// fingerprint; attempts bounds passphrase retries per share identifier.
func NewEngine(store storage.Backend, cfg Config, creates, attempts ratelimit.Limiter, rec *audit.Recorder) *Engine {
	return &Engine{
		store:    store,
		cfg:      cfg,
		creates:  creates,
		attempts: attempts,
		rec:      rec,
		now:      time.Now,
	}
}

// SetNow overrides the clock. Test hook only.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// CreateRequest is the input to Create.
type CreateRequest struct {
	Content          []byte
	Passphrase       string
	TTL              time.Duration // 0 means the configured default
	OwnerFingerprint string
}

// Receipt is returned to the creator. Only ShareID is ever handed to the
// recipient; AdminID stays with the creator.
type Receipt struct {
	ShareID      string
	AdminID      string
	ExpiresAt    time.Time
	AdminExpires time.Time
	OriginalSize int
	StoredSize   int
	Truncated    bool
}

// Create persists a new secret pair and arms both expiry timers.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Receipt, error) {
	ttl := req.TTL
	if ttl == 0 {
		ttl = e.cfg.DefaultTTL
	}
	if ttl < e.cfg.MinTTL || ttl > e.cfg.MaxTTL {
		return nil, ErrInvalidTTL
	}
	if len(req.Content) > e.cfg.HardLimit {
		return nil, ErrContentTooLarge
	}
	if !e.creates.Allow(ctx, req.OwnerFingerprint) {
		return nil, ErrRateLimited
	}

	originalSize := len(req.Content)
	payload := req.Content
	truncated := false
	if originalSize > e.cfg.SoftLimit {
		n, err := e.truncationLength()
		if err != nil {
			return nil, err
		}
		payload = payload[:n]
		truncated = true
	}

	shareID, err := crypto.NewToken(SharePrefix)
	if err != nil {
		return nil, err
	}
	adminID, err := crypto.NewToken(AdminPrefix)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	share := &models.Record{
		ID:               shareID,
		PairID:           adminID,
		Kind:             models.KindShare,
		State:            models.StateNew,
		OriginalSize:     originalSize,
		Truncated:        truncated,
		OwnerFingerprint: req.OwnerFingerprint,
		CreatedAt:        now,
		TTLSeconds:       int64(ttl.Seconds()),
		ExpiresAt:        now.Add(ttl),
	}

	if req.Passphrase != "" {
		if err := e.encrypt(share, payload, req.Passphrase); err != nil {
			return nil, err
		}
	} else {
		share.Payload = append([]byte(nil), payload...)
	}

	// The admin record carries audit state only, never the payload.
	admin := &models.Record{
		ID:               adminID,
		PairID:           shareID,
		Kind:             models.KindAdmin,
		State:            models.StateNew,
		OriginalSize:     originalSize,
		Truncated:        truncated,
		OwnerFingerprint: req.OwnerFingerprint,
		CreatedAt:        now,
		TTLSeconds:       int64(ttl.Seconds()),
		ExpiresAt:        now.Add(2 * ttl),
	}

	if err := e.store.PutPair(ctx, share, admin); err != nil {
		return nil, fmt.Errorf("persisting secret pair: %w", err)
	}
	e.rec.Event(audit.EventCreated, shareID)

	return &Receipt{
		ShareID:      shareID,
		AdminID:      adminID,
		ExpiresAt:    share.ExpiresAt,
		AdminExpires: admin.ExpiresAt,
		OriginalSize: originalSize,
		StoredSize:   len(payload),
		Truncated:    truncated,
	}, nil
}

// RevealResult is the decrypted payload plus the audit flags the caller
// displays alongside it.
type RevealResult struct {
	Content      []byte
	OriginalSize int
	Truncated    bool

	// Replayable is true after the first (viewed) serve: the caller
	// should Confirm once the client has rendered the content.
	Replayable bool
}

// Reveal serves the payload at most twice: the winner of the atomic
// new → viewed transition and, only if that caller never confirmed,
// a single bonus replay that doubles as the terminal viewed → received
// transition. Everyone else gets ErrAlreadyConsumed.
func (e *Engine) Reveal(ctx context.Context, shareID, passphraseAttempt string) (*RevealResult, error) {
	rec, err := e.store.Get(ctx, models.KindShare, shareID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.State.Terminal() {
		return nil, ErrAlreadyConsumed
	}

	if rec.PassphraseProtected() {
		if !e.attempts.Allow(ctx, shareID) {
			return nil, ErrRateLimited
		}
		if !crypto.VerifyPassphrase([]byte(passphraseAttempt), rec.DigestSalt, rec.PassphraseDigest) {
			e.rec.Event(audit.EventPassphraseFailed, shareID)
			return nil, ErrInvalidPassphrase
		}
	}

	now := e.now().UTC()
	switch rec.State {
	case models.StateNew:
		if err := e.transition(ctx, shareID, models.StateNew, models.StateViewed, now); err != nil {
			return nil, err
		}
		content, err := e.decode(rec, passphraseAttempt)
		if err != nil {
			return nil, err
		}
		if err := e.store.MirrorAdmin(ctx, rec.PairID, models.StateViewed, now); err != nil {
			return nil, fmt.Errorf("updating admin record: %w", err)
		}
		e.rec.Event(audit.EventRevealed, shareID)
		return &RevealResult{
			Content:      content,
			OriginalSize: rec.OriginalSize,
			Truncated:    rec.Truncated,
			Replayable:   true,
		}, nil

	case models.StateViewed:
		// The bonus replay is itself the terminal transition, so it can
		// never happen twice; the backend wipes the payload in the same
		// atomic step.
		if err := e.transition(ctx, shareID, models.StateViewed, models.StateReceived, now); err != nil {
			return nil, err
		}
		content, err := e.decode(rec, passphraseAttempt)
		if err != nil {
			return nil, err
		}
		if err := e.store.MirrorAdmin(ctx, rec.PairID, models.StateReceived, now); err != nil {
			return nil, fmt.Errorf("updating admin record: %w", err)
		}
		e.rec.Event(audit.EventReplayed, shareID)
		return &RevealResult{
			Content:      content,
			OriginalSize: rec.OriginalSize,
			Truncated:    rec.Truncated,
		}, nil
	}
	return nil, ErrAlreadyConsumed
}

// Confirm acknowledges that the client rendered the revealed content,
// completing viewed → received and wiping the payload.
func (e *Engine) Confirm(ctx context.Context, shareID string) error {
	now := e.now().UTC()
	if err := e.transition(ctx, shareID, models.StateViewed, models.StateReceived, now); err != nil {
		return err
	}
	rec, err := e.store.Get(ctx, models.KindShare, shareID)
	if err == nil {
		if err := e.store.MirrorAdmin(ctx, rec.PairID, models.StateReceived, now); err != nil {
			return fmt.Errorf("updating admin record: %w", err)
		}
	}
	e.rec.Event(audit.EventConfirmed, shareID)
	return nil
}

// Burn is creator-initiated early destruction, callable only via the
// admin identifier. It destroys the payload immediately, whether or not
// the secret was ever viewed.
func (e *Engine) Burn(ctx context.Context, adminID string) error {
	admin, err := e.store.Get(ctx, models.KindAdmin, adminID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if admin.State.Terminal() {
		return ErrAlreadyConsumed
	}

	now := e.now().UTC()
	shareID := admin.PairID
	err = e.store.Transition(ctx, models.KindShare, shareID, models.StateNew, models.StateBurned, now)
	if errors.Is(err, storage.ErrStateConflict) {
		err = e.store.Transition(ctx, models.KindShare, shareID, models.StateViewed, models.StateBurned, now)
	}
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		// Share already expired naturally; nothing left to destroy.
		return ErrNotFound
	case errors.Is(err, storage.ErrStateConflict):
		return ErrAlreadyConsumed
	default:
		return err
	}

	if err := e.store.MirrorAdmin(ctx, adminID, models.StateBurned, now); err != nil {
		return fmt.Errorf("updating admin record: %w", err)
	}
	e.rec.Event(audit.EventBurned, shareID)
	return nil
}

// StatusView is the creator-facing audit state. It never carries payload
// bytes; it stays queryable until the admin record's 2×TTL elapses, even
// after the share record is gone.
type StatusView struct {
	State        models.State
	OriginalSize int
	Truncated    bool
	Protected    bool
	CreatedAt    time.Time
	ShareExpires time.Time
	AdminExpires time.Time
	ViewedAt     *time.Time
	ReceivedAt   *time.Time
	BurnedAt     *time.Time
}

// Status returns the lifecycle/audit view for the creator.
func (e *Engine) Status(ctx context.Context, adminID string) (*StatusView, error) {
	admin, err := e.store.Get(ctx, models.KindAdmin, adminID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &StatusView{
		State:        admin.State,
		OriginalSize: admin.OriginalSize,
		Truncated:    admin.Truncated,
		Protected:    admin.PassphraseProtected(),
		CreatedAt:    admin.CreatedAt,
		ShareExpires: admin.CreatedAt.Add(admin.TTL()),
		AdminExpires: admin.ExpiresAt,
		ViewedAt:     admin.ViewedAt,
		ReceivedAt:   admin.ReceivedAt,
		BurnedAt:     admin.BurnedAt,
	}, nil
}

// transition maps backend CAS failures onto the engine's error taxonomy.
// Losers of a race fail fast; there is no retry or queuing.
func (e *Engine) transition(ctx context.Context, shareID string, from, to models.State, at time.Time) error {
	err := e.store.Transition(ctx, models.KindShare, shareID, from, to, at)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrStateConflict):
		return ErrAlreadyConsumed
	}
	return err
}

// encrypt seals the payload under a key derived from the site secret,
// a per-secret salt, and the passphrase, and stores the verification
// digest on an independent one-way path.
func (e *Engine) encrypt(share *models.Record, payload []byte, passphrase string) error {
	keySalt, err := crypto.RandBytes(crypto.SaltSize)
	if err != nil {
		return err
	}
	digestSalt, err := crypto.RandBytes(crypto.SaltSize)
	if err != nil {
		return err
	}

	key, err := crypto.DeriveKey(e.cfg.SiteSecret, []byte(passphrase), keySalt)
	if err != nil {
		return err
	}
	defer crypto.Zero(key)

	ciphertext, nonce, err := crypto.Seal(payload, key)
	if err != nil {
		return fmt.Errorf("encrypting payload: %w", err)
	}

	share.Payload = ciphertext
	share.Encrypted = true
	share.Nonce = nonce
	share.KeySalt = keySalt
	share.PassphraseDigest = crypto.DigestPassphrase([]byte(passphrase), digestSalt)
	share.DigestSalt = digestSalt
	return nil
}

// decode returns the plaintext payload of a fetched share record.
func (e *Engine) decode(rec *models.Record, passphrase string) ([]byte, error) {
	if !rec.Encrypted {
		return rec.Payload, nil
	}
	key, err := crypto.DeriveKey(e.cfg.SiteSecret, []byte(passphrase), rec.KeySalt)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)
	plaintext, err := crypto.Open(rec.Payload, rec.Nonce, key)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	return plaintext, nil
}

// truncationLength picks the truncation point uniformly within the band
// below the soft limit, so stored size does not leak the exact cutoff.
func (e *Engine) truncationLength() (int, error) {
	band := int(e.cfg.BandFraction * float64(e.cfg.SoftLimit))
	if band <= 0 {
		return e.cfg.SoftLimit, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(band+1)))
	if err != nil {
		return 0, fmt.Errorf("picking truncation point: %w", err)
	}
	return e.cfg.SoftLimit - int(n.Int64()), nil
}
