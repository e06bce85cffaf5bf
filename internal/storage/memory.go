package storage

import (
	"context"
	"sync"
	"time"

	"github.com/burnbox/burnbox/pkg/models"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps records in a mutex-guarded map. Used by tests and
// single-process dev mode; expiry is enforced lazily on read plus a
// background sweep for reclamation.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*models.Record

	cancel context.CancelFunc

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryBackend creates a MemoryBackend. A non-zero sweepInterval
// starts a background reaper; correctness never depends on it.
func NewMemoryBackend(sweepInterval time.Duration) *MemoryBackend {
	b := &MemoryBackend{
		records: make(map[string]*models.Record),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		go b.sweepLoop(ctx, sweepInterval)
	}
	return b
}

// SetNow overrides the clock. Test hook only.
func (b *MemoryBackend) SetNow(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func memKey(kind models.RecordKind, id string) string {
	return string(kind) + ":" + id
}

func (b *MemoryBackend) PutPair(ctx context.Context, share, admin *models.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[memKey(share.Kind, share.ID)] = share.Clone()
	b.records[memKey(admin.Kind, admin.ID)] = admin.Clone()
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, kind models.RecordKind, id string) (*models.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.live(kind, id)
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (b *MemoryBackend) Transition(ctx context.Context, kind models.RecordKind, id string, from, to models.State, at time.Time) error {
	if !models.CanTransition(from, to) {
		return ErrStateConflict
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.live(kind, id)
	if rec == nil {
		return ErrNotFound
	}
	if rec.State != from {
		return ErrStateConflict
	}
	rec.State = to
	rec.Stamp(to, at)
	if to.Terminal() {
		for i := range rec.Payload {
			rec.Payload[i] = 0
		}
		rec.Payload = nil
	}
	return nil
}

func (b *MemoryBackend) MirrorAdmin(ctx context.Context, id string, state models.State, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.live(models.KindAdmin, id)
	if rec == nil {
		return nil
	}
	rec.State = state
	rec.Stamp(state, at)
	return nil
}

func (b *MemoryBackend) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
}

// live returns the stored record if it has not expired, dropping it
// otherwise. Callers hold b.mu.
func (b *MemoryBackend) live(kind models.RecordKind, id string) *models.Record {
	key := memKey(kind, id)
	rec, ok := b.records[key]
	if !ok {
		return nil
	}
	if b.now().After(rec.ExpiresAt) {
		delete(b.records, key)
		return nil
	}
	return rec
}

func (b *MemoryBackend) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *MemoryBackend) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for key, rec := range b.records {
		if now.After(rec.ExpiresAt) {
			delete(b.records, key)
		}
	}
}
