package secret

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/burnbox/burnbox/internal/audit"
	"github.com/burnbox/burnbox/internal/ratelimit"
	"github.com/burnbox/burnbox/internal/storage"
	"github.com/burnbox/burnbox/pkg/models"
)

func testConfig() Config {
	return Config{
		SiteSecret:   bytes.Repeat([]byte{0xAB}, 32),
		MinTTL:       time.Second,
		MaxTTL:       7 * 24 * time.Hour,
		DefaultTTL:   24 * time.Hour,
		SoftLimit:    1000,
		HardLimit:    10000,
		BandFraction: 0.2,
	}
}

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryBackend) {
	t.Helper()
	store := storage.NewMemoryBackend(0)
	rec := audit.NewRecorder(zerolog.Nop())
	e := NewEngine(store, testConfig(), ratelimit.Unlimited{}, ratelimit.Unlimited{}, rec)
	return e, store
}

func TestCreateDefaults(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, err := e.Create(ctx, CreateRequest{Content: []byte("hello")})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if receipt.ShareID == receipt.AdminID {
		t.Error("share and admin identifiers must differ")
	}
	if len(receipt.ShareID) < 10 || receipt.ShareID[:4] != SharePrefix {
		t.Errorf("share id %q missing namespace prefix", receipt.ShareID)
	}
	if receipt.AdminID[:4] != AdminPrefix {
		t.Errorf("admin id %q missing namespace prefix", receipt.AdminID)
	}
	if receipt.OriginalSize != 5 || receipt.StoredSize != 5 || receipt.Truncated {
		t.Errorf("unexpected sizes: %+v", receipt)
	}
	// Admin record outlives the share by the same TTL again
	if got, want := receipt.AdminExpires.Sub(receipt.ExpiresAt), 24*time.Hour; got != want {
		t.Errorf("admin expiry headroom = %v, want %v", got, want)
	}
}

func TestCreateTTLBounds(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Create(ctx, CreateRequest{Content: []byte("x"), TTL: 100 * time.Millisecond}); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("TTL below minimum: got %v, want ErrInvalidTTL", err)
	}
	if _, err := e.Create(ctx, CreateRequest{Content: []byte("x"), TTL: 30 * 24 * time.Hour}); !errors.Is(err, ErrInvalidTTL) {
		t.Errorf("TTL above maximum: got %v, want ErrInvalidTTL", err)
	}
	if _, err := e.Create(ctx, CreateRequest{Content: []byte("x"), TTL: time.Minute}); err != nil {
		t.Errorf("TTL within bounds should succeed: %v", err)
	}
}

func TestCreateHardLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), CreateRequest{Content: make([]byte, 10001)})
	if !errors.Is(err, ErrContentTooLarge) {
		t.Errorf("got %v, want ErrContentTooLarge", err)
	}
}

func TestCreateTruncation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	content := bytes.Repeat([]byte("a"), 2000)
	receipt, err := e.Create(ctx, CreateRequest{Content: content})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !receipt.Truncated {
		t.Error("content above the soft limit must be marked truncated")
	}
	if receipt.OriginalSize != 2000 {
		t.Errorf("original size = %d, want 2000", receipt.OriginalSize)
	}
	// Stored length falls in the band [soft - 0.2*soft, soft]
	if receipt.StoredSize < 800 || receipt.StoredSize > 1000 {
		t.Errorf("stored size %d outside truncation band [800, 1000]", receipt.StoredSize)
	}

	result, err := e.Reveal(ctx, receipt.ShareID, "")
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if len(result.Content) != receipt.StoredSize {
		t.Errorf("revealed %d bytes, receipt said %d", len(result.Content), receipt.StoredSize)
	}
	if !result.Truncated || result.OriginalSize != 2000 {
		t.Error("reveal must report the truncation flags")
	}
	if !bytes.Equal(result.Content, content[:len(result.Content)]) {
		t.Error("truncation must keep a prefix of the original content")
	}
}

func TestCreateRateLimited(t *testing.T) {
	store := storage.NewMemoryBackend(0)
	rec := audit.NewRecorder(zerolog.Nop())
	creates := ratelimit.NewTokenBucket(0, 1)
	e := NewEngine(store, testConfig(), creates, ratelimit.Unlimited{}, rec)
	ctx := context.Background()

	if _, err := e.Create(ctx, CreateRequest{Content: []byte("x"), OwnerFingerprint: "fp"}); err != nil {
		t.Fatalf("first create should pass: %v", err)
	}
	_, err := e.Create(ctx, CreateRequest{Content: []byte("x"), OwnerFingerprint: "fp"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
	// Quota is per owner fingerprint
	if _, err := e.Create(ctx, CreateRequest{Content: []byte("x"), OwnerFingerprint: "other"}); err != nil {
		t.Errorf("different owner should have its own quota: %v", err)
	}
}

func TestRevealConfirmLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, err := e.Create(ctx, CreateRequest{Content: []byte("hello"), TTL: time.Minute})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := e.Reveal(ctx, receipt.ShareID, "")
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if string(result.Content) != "hello" {
		t.Errorf("content = %q", result.Content)
	}
	if !result.Replayable {
		t.Error("first reveal should be replayable until confirmed")
	}

	if err := e.Confirm(ctx, receipt.ShareID); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	// Consumed for good
	if _, err := e.Reveal(ctx, receipt.ShareID, ""); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("reveal after confirm: got %v, want ErrAlreadyConsumed", err)
	}
	if err := e.Confirm(ctx, receipt.ShareID); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("double confirm: got %v, want ErrAlreadyConsumed", err)
	}

	view, err := e.Status(ctx, receipt.AdminID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.State != models.StateReceived {
		t.Errorf("state = %s, want received", view.State)
	}
	if view.ViewedAt == nil || view.ReceivedAt == nil {
		t.Error("viewed_at and received_at should be stamped")
	}
}

func TestRevealBonusReplay(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, _ := e.Create(ctx, CreateRequest{Content: []byte("hello"), TTL: time.Minute})

	first, err := e.Reveal(ctx, receipt.ShareID, "")
	if err != nil {
		t.Fatalf("first reveal failed: %v", err)
	}
	if !first.Replayable {
		t.Error("first reveal should be replayable")
	}

	// The viewer never confirmed; one bonus replay is allowed
	second, err := e.Reveal(ctx, receipt.ShareID, "")
	if err != nil {
		t.Fatalf("bonus replay failed: %v", err)
	}
	if string(second.Content) != "hello" {
		t.Errorf("replayed content = %q", second.Content)
	}
	if second.Replayable {
		t.Error("the replay is terminal, never replayable again")
	}

	// The replay consumed the secret
	if _, err := e.Reveal(ctx, receipt.ShareID, ""); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("third reveal: got %v, want ErrAlreadyConsumed", err)
	}

	view, _ := e.Status(ctx, receipt.AdminID)
	if view.State != models.StateReceived {
		t.Errorf("state = %s, want received", view.State)
	}
}

func TestRevealUnknownShare(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Reveal(context.Background(), "bxs_nope", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestRevealPassphrase(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, err := e.Create(ctx, CreateRequest{
		Content:    []byte("classified"),
		Passphrase: "hunter2",
		TTL:        time.Minute,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A wrong attempt does not consume the secret
	if _, err := e.Reveal(ctx, receipt.ShareID, "wrong"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Fatalf("wrong passphrase: got %v, want ErrInvalidPassphrase", err)
	}
	view, _ := e.Status(ctx, receipt.AdminID)
	if view.State != models.StateNew {
		t.Errorf("failed attempt must leave state new, got %s", view.State)
	}
	if !view.Protected {
		t.Error("status should report passphrase protection")
	}

	result, err := e.Reveal(ctx, receipt.ShareID, "hunter2")
	if err != nil {
		t.Fatalf("correct passphrase failed: %v", err)
	}
	if string(result.Content) != "classified" {
		t.Errorf("content = %q", result.Content)
	}

	// The replay needs the passphrase too
	if _, err := e.Reveal(ctx, receipt.ShareID, "wrong"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("replay with wrong passphrase: got %v", err)
	}
	if _, err := e.Reveal(ctx, receipt.ShareID, "hunter2"); err != nil {
		t.Errorf("replay with correct passphrase failed: %v", err)
	}
}

func TestRevealAttemptsRateLimited(t *testing.T) {
	store := storage.NewMemoryBackend(0)
	rec := audit.NewRecorder(zerolog.Nop())
	attempts := ratelimit.NewTokenBucket(0, 2)
	e := NewEngine(store, testConfig(), ratelimit.Unlimited{}, attempts, rec)
	ctx := context.Background()

	receipt, _ := e.Create(ctx, CreateRequest{Content: []byte("x"), Passphrase: "pw", TTL: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := e.Reveal(ctx, receipt.ShareID, "wrong"); !errors.Is(err, ErrInvalidPassphrase) {
			t.Fatalf("attempt %d: got %v, want ErrInvalidPassphrase", i, err)
		}
	}
	if _, err := e.Reveal(ctx, receipt.ShareID, "pw"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited once attempts are exhausted", err)
	}
}

func TestBurn(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, _ := e.Create(ctx, CreateRequest{Content: []byte("hello"), TTL: time.Minute})

	if err := e.Burn(ctx, receipt.AdminID); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}

	// Burned reads the same as consumed
	if _, err := e.Reveal(ctx, receipt.ShareID, ""); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("reveal after burn: got %v, want ErrAlreadyConsumed", err)
	}
	if err := e.Burn(ctx, receipt.AdminID); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("double burn: got %v, want ErrAlreadyConsumed", err)
	}

	view, _ := e.Status(ctx, receipt.AdminID)
	if view.State != models.StateBurned {
		t.Errorf("state = %s, want burned", view.State)
	}
	if view.BurnedAt == nil {
		t.Error("burned_at should be stamped")
	}
}

func TestBurnAfterView(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, _ := e.Create(ctx, CreateRequest{Content: []byte("hello"), TTL: time.Minute})
	if _, err := e.Reveal(ctx, receipt.ShareID, ""); err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}

	// Burning a viewed secret closes the replay window
	if err := e.Burn(ctx, receipt.AdminID); err != nil {
		t.Fatalf("burn after view failed: %v", err)
	}
	if _, err := e.Reveal(ctx, receipt.ShareID, ""); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("replay after burn: got %v, want ErrAlreadyConsumed", err)
	}
}

func TestBurnAfterReceived(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, _ := e.Create(ctx, CreateRequest{Content: []byte("hello"), TTL: time.Minute})
	e.Reveal(ctx, receipt.ShareID, "")
	e.Confirm(ctx, receipt.ShareID)

	if err := e.Burn(ctx, receipt.AdminID); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("burn after receipt: got %v, want ErrAlreadyConsumed", err)
	}
}

func TestBurnUnknownAdmin(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Burn(context.Background(), "bxa_nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestExpiry(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	now := time.Now().UTC()
	e.SetNow(func() time.Time { return now })
	store.SetNow(func() time.Time { return now })

	receipt, _ := e.Create(ctx, CreateRequest{Content: []byte("hello"), TTL: time.Minute})

	// Past the share TTL: the share is gone, the admin view survives
	now = now.Add(time.Minute + time.Second)
	if _, err := e.Reveal(ctx, receipt.ShareID, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("reveal of expired share: got %v, want ErrNotFound", err)
	}
	view, err := e.Status(ctx, receipt.AdminID)
	if err != nil {
		t.Fatalf("status should outlive the share: %v", err)
	}
	if view.State != models.StateNew {
		t.Errorf("expired-unviewed secret reads as %s", view.State)
	}
	if err := e.Burn(ctx, receipt.AdminID); !errors.Is(err, ErrNotFound) {
		t.Errorf("burn of expired share: got %v, want ErrNotFound", err)
	}

	// Past the admin expiry the pair is fully gone
	now = now.Add(time.Minute + time.Second)
	if _, err := e.Status(ctx, receipt.AdminID); !errors.Is(err, ErrNotFound) {
		t.Errorf("status after admin expiry: got %v, want ErrNotFound", err)
	}
}

func TestConcurrentReveals(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	receipt, _ := e.Create(ctx, CreateRequest{Content: []byte("hello"), TTL: time.Minute})

	const n = 16
	var wg sync.WaitGroup
	results := make([]error, n)
	replayable := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Reveal(ctx, receipt.ShareID, "")
			results[i] = err
			if err == nil {
				replayable[i] = res.Replayable
			}
		}(i)
	}
	wg.Wait()

	successes, firstServes := 0, 0
	for i, err := range results {
		switch {
		case err == nil:
			successes++
			if replayable[i] {
				firstServes++
			}
		case errors.Is(err, ErrAlreadyConsumed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	// Exactly one caller wins the first serve; at most one more gets the
	// bonus replay. Everyone else must lose cleanly.
	if firstServes != 1 {
		t.Errorf("first serves = %d, want exactly 1", firstServes)
	}
	if successes > 2 {
		t.Errorf("successes = %d, the payload may be served at most twice", successes)
	}
}
