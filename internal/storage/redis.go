package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/burnbox/burnbox/pkg/models"
)

var _ Backend = (*RedisBackend)(nil)

// RedisBackend stores each record as a JSON blob under a kind-prefixed
// key and relies on Redis' native TTL for hard deletion on expiry.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects and verifies the connection.
func NewRedisBackend(opts *redis.Options) (*RedisBackend, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func redisKey(kind models.RecordKind, id string) string {
	return string(kind) + ":" + id
}

func (r *RedisBackend) PutPair(ctx context.Context, share, admin *models.Record) error {
	shareTTL := time.Until(share.ExpiresAt)
	adminTTL := time.Until(admin.ExpiresAt)
	if shareTTL <= 0 || adminTTL <= 0 {
		return errors.New("record already expired at write time")
	}

	shareData, err := encodeRecord(share)
	if err != nil {
		return err
	}
	adminData, err := encodeRecord(admin)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKey(share.Kind, share.ID), shareData, shareTTL)
		pipe.Set(ctx, redisKey(admin.Kind, admin.ID), adminData, adminTTL)
		return nil
	})
	return err
}

func (r *RedisBackend) Get(ctx context.Context, kind models.RecordKind, id string) (*models.Record, error) {
	data, err := r.client.Get(ctx, redisKey(kind, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(data)
}

// transitionScript performs the compare-and-set state change server-side
// so concurrent reveal/burn attempts are serialized by Redis itself.
// Returns 1 on success, -1 when the key is gone, -2 on a state mismatch.
var transitionScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return -1
end
local rec = cjson.decode(data)
if rec.state ~= ARGV[1] then
	return -2
end
rec.state = ARGV[2]
rec[ARGV[3]] = ARGV[4]
if ARGV[5] == '1' then
	rec.payload = nil
end
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')
return 1
`)

func (r *RedisBackend) Transition(ctx context.Context, kind models.RecordKind, id string, from, to models.State, at time.Time) error {
	if !models.CanTransition(from, to) {
		return ErrStateConflict
	}
	field, err := models.StampField(to)
	if err != nil {
		return err
	}
	wipe := "0"
	if to.Terminal() {
		wipe = "1"
	}

	res, err := transitionScript.Run(ctx, r.client,
		[]string{redisKey(kind, id)},
		string(from), string(to), field, at.UTC().Format(time.RFC3339Nano), wipe,
	).Int()
	if err != nil {
		return err
	}
	switch res {
	case 1:
		return nil
	case -1:
		return ErrNotFound
	case -2:
		return ErrStateConflict
	}
	return fmt.Errorf("unexpected transition result %d", res)
}

// mirrorScript copies lifecycle state onto the admin record without
// touching its remaining TTL. A missing key is not an error: the admin
// record may already be past its own expiry.
var mirrorScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return 0
end
local rec = cjson.decode(data)
rec.state = ARGV[1]
rec[ARGV[2]] = ARGV[3]
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')
return 1
`)

func (r *RedisBackend) MirrorAdmin(ctx context.Context, id string, state models.State, at time.Time) error {
	field, err := models.StampField(state)
	if err != nil {
		return err
	}
	return mirrorScript.Run(ctx, r.client,
		[]string{redisKey(models.KindAdmin, id)},
		string(state), field, at.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (r *RedisBackend) Close() {
	r.client.Close() //nolint:errcheck
}

func encodeRecord(rec *models.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// decodeRecord rejects unknown fields: a record is a fixed shape, not an
// open dictionary.
func decodeRecord(data []byte) (*models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var rec models.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &rec, nil
}
