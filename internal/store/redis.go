package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"secret.once/internal/models"
)

var (
	_ Store       = (*RedisStore)(nil)
	_ ViewTracker = (*RedisStore)(nil)
)

const casAttempts = 3

// RedisStore persists secrets and view records in Redis. Conditional state
// transitions use WATCH-based optimistic transactions; the view ledger relies
// on SETNX, which is first-writer-wins natively.
//
// Secrets without an expiry get no Redis TTL. Everything else carries a TTL so
// terminal-state metadata survives for the retention window (for audit and
// idempotent re-queries) and is then evicted by Redis itself.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(options *redis.Options, retention time.Duration) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, retention: retention}, nil
}

func (r *RedisStore) Create(ctx context.Context, secret *models.Secret) error {
	data, err := encode(secret)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if secret.Expires() {
		ttl = time.Until(secret.ExpiresAt) + r.retention
		if ttl <= 0 {
			ttl = r.retention
		}
	}

	ok, err := r.client.SetNX(ctx, secretKey(secret.ID), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.Secret, error) {
	data, err := r.client.Get(ctx, secretKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (r *RedisStore) CompareAndSwapState(ctx context.Context, id string, expected, next models.SecretState, clearPayload bool) (bool, error) {
	key := secretKey(id)
	swapped := false

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		secret, err := decode(data)
		if err != nil {
			return err
		}
		if secret.State != expected {
			swapped = false
			return nil
		}

		secret.State = next
		if clearPayload {
			secret.Payload = ""
		}
		newData, err := encode(secret)
		if err != nil {
			return err
		}

		ttl := r.retention
		if !next.Terminal() && secret.Expires() {
			ttl = time.Until(secret.ExpiresAt) + r.retention
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, ttl)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	for i := 0; i < casAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return swapped, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, err
	}
	return false, ErrConflict
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, secretKey(id)).Err(); err != nil {
		return err
	}

	// Best-effort removal of the secret's view ledger.
	iter := r.client.Scan(ctx, 0, viewKey(id, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *RedisStore) ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string

	iter := r.client.Scan(ctx, 0, secretKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		secret, err := decode(data)
		if err != nil {
			return nil, err
		}
		if secret.State == models.StateUnviewed && secret.ExpiredAt(now) {
			ids = append(ids, secret.ID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *RedisStore) RecordView(ctx context.Context, secretID, viewerID string, at time.Time) (*models.ViewRecord, bool, error) {
	rec := &models.ViewRecord{SecretID: secretID, ViewerID: viewerID, ViewedAt: at}
	data, err := encodeView(rec)
	if err != nil {
		return nil, false, err
	}

	key := viewKey(secretID, viewerID)
	created, err := r.client.SetNX(ctx, key, data, r.retention).Result()
	if err != nil {
		return nil, false, err
	}
	if created {
		return rec, true, nil
	}

	existing, err := r.LookupView(ctx, secretID, viewerID)
	if err != nil {
		// The record evicted between SETNX and the read; ours is gone too,
		// so report the attempted record without claiming the write.
		if errors.Is(err, ErrNotFound) {
			return rec, false, nil
		}
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RedisStore) LookupView(ctx context.Context, secretID, viewerID string) (*models.ViewRecord, error) {
	data, err := r.client.Get(ctx, viewKey(secretID, viewerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeView(data)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func secretKey(id string) string {
	return "secret:" + id
}

func viewKey(secretID, viewerID string) string {
	return "view:" + secretID + ":" + viewerID
}

func encode(secret *models.Secret) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(secret); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&secret); err != nil {
		return nil, err
	}
	return &secret, nil
}

func encodeView(rec *models.ViewRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeView(data []byte) (*models.ViewRecord, error) {
	var rec models.ViewRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
