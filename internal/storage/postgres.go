package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/burnbox/burnbox/pkg/models"
)

var _ Backend = (*PostgresBackend)(nil)

// PostgresBackend is a Backend backed by PostgreSQL. Postgres has no
// native key TTL, so every read filters on expires_at and a background
// reaper hard-deletes expired rows for reclamation.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	cancel context.CancelFunc
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.pool.Close()
}

func (p *PostgresBackend) PutPair(ctx context.Context, share, admin *models.Record) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, rec := range []*models.Record{share, admin} {
		_, err = tx.Exec(ctx,
			`INSERT INTO records (kind, id, pair_id, state, payload, encrypted, nonce, key_salt,
			                      passphrase_digest, digest_salt, original_size, truncated,
			                      owner_fingerprint, created_at, ttl_seconds, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			rec.Kind, rec.ID, rec.PairID, rec.State, rec.Payload, rec.Encrypted, rec.Nonce, rec.KeySalt,
			rec.PassphraseDigest, rec.DigestSalt, rec.OriginalSize, rec.Truncated,
			rec.OwnerFingerprint, rec.CreatedAt, rec.TTLSeconds, rec.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("inserting %s record: %w", rec.Kind, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) Get(ctx context.Context, kind models.RecordKind, id string) (*models.Record, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT kind, id, pair_id, state, payload, encrypted, nonce, key_salt,
		        passphrase_digest, digest_salt, original_size, truncated,
		        owner_fingerprint, created_at, ttl_seconds, expires_at,
		        viewed_at, received_at, burned_at
		 FROM records
		 WHERE kind = $1 AND id = $2 AND expires_at > now()`,
		kind, id,
	)
	var rec models.Record
	err := row.Scan(&rec.Kind, &rec.ID, &rec.PairID, &rec.State, &rec.Payload, &rec.Encrypted,
		&rec.Nonce, &rec.KeySalt, &rec.PassphraseDigest, &rec.DigestSalt,
		&rec.OriginalSize, &rec.Truncated, &rec.OwnerFingerprint,
		&rec.CreatedAt, &rec.TTLSeconds, &rec.ExpiresAt,
		&rec.ViewedAt, &rec.ReceivedAt, &rec.BurnedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresBackend) Transition(ctx context.Context, kind models.RecordKind, id string, from, to models.State, at time.Time) error {
	if !models.CanTransition(from, to) {
		return ErrStateConflict
	}
	// The WHERE clause on the expected state makes this a compare-and-set;
	// concurrent callers cannot both pass it.
	tag, err := p.pool.Exec(ctx,
		`UPDATE records
		 SET state = $4,
		     viewed_at   = CASE WHEN $4 = 'viewed'   THEN $5 ELSE viewed_at END,
		     received_at = CASE WHEN $4 = 'received' THEN $5 ELSE received_at END,
		     burned_at   = CASE WHEN $4 = 'burned'   THEN $5 ELSE burned_at END,
		     payload     = CASE WHEN $6 THEN NULL ELSE payload END
		 WHERE kind = $1 AND id = $2 AND state = $3 AND expires_at > now()`,
		kind, id, from, to, at.UTC(), to.Terminal(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish gone from lost race for internal error codes.
	var current models.State
	err = p.pool.QueryRow(ctx,
		`SELECT state FROM records WHERE kind = $1 AND id = $2 AND expires_at > now()`,
		kind, id,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStateConflict
}

func (p *PostgresBackend) MirrorAdmin(ctx context.Context, id string, state models.State, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE records
		 SET state = $2,
		     viewed_at   = CASE WHEN $2 = 'viewed'   THEN $3 ELSE viewed_at END,
		     received_at = CASE WHEN $2 = 'received' THEN $3 ELSE received_at END,
		     burned_at   = CASE WHEN $2 = 'burned'   THEN $3 ELSE burned_at END
		 WHERE kind = 'admin' AND id = $1 AND expires_at > now()`,
		id, state, at.UTC(),
	)
	return err
}

// StartReaper periodically hard-deletes expired rows. Reclamation only;
// reads already treat expired rows as absent.
func (p *PostgresBackend) StartReaper(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tag, err := p.pool.Exec(ctx, `DELETE FROM records WHERE expires_at <= now()`)
				if err != nil {
					log.Warn().Err(err).Msg("reaping expired records")
					continue
				}
				if n := tag.RowsAffected(); n > 0 {
					log.Debug().Int64("rows", n).Msg("reaped expired records")
				}
			}
		}
	}()
}
