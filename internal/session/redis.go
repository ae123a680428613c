package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cipherdrop/cipherdrop/pkg/apperr"
	"github.com/cipherdrop/cipherdrop/pkg/types"
)

const sessionKeyPrefix = "session:"

// updateRetries bounds the optimistic-transaction retry loop when
// concurrent updates race on the same session key.
const updateRetries = 16

// RedisStore is the Store used when the engine runs behind multiple
// instances. Per-key atomicity comes from Redis WATCH/MULTI optimistic
// transactions, so two concurrent chunk-arrival updates both land.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (rs *RedisStore) Create(ctx context.Context, sess *types.UploadSession, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return apperr.Wrap(apperr.KindResource, err, "failed to encode session")
	}

	ok, err := rs.client.SetNX(ctx, sessionKey(sess.ID), data, ttl).Result()
	if err != nil {
		return apperr.Wrap(apperr.KindResource, err, "session store unavailable")
	}
	if !ok {
		return apperr.New(apperr.KindConflict, "session %s already exists", sess.ID)
	}
	return nil
}

func (rs *RedisStore) Get(ctx context.Context, id string) (*types.UploadSession, error) {
	data, err := rs.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.New(apperr.KindNotFound, "session %s not found", id)
		}
		return nil, apperr.Wrap(apperr.KindResource, err, "session store unavailable")
	}

	var sess types.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, apperr.Wrap(apperr.KindResource, err, "failed to decode session")
	}
	return &sess, nil
}

func (rs *RedisStore) Update(ctx context.Context, id string, fn Mutation) (*types.UploadSession, error) {
	key := sessionKey(id)
	var updated *types.UploadSession

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return apperr.New(apperr.KindNotFound, "session %s not found", id)
			}
			return apperr.Wrap(apperr.KindResource, err, "session store unavailable")
		}

		var sess types.UploadSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return apperr.Wrap(apperr.KindResource, err, "failed to decode session")
		}
		if err := fn(&sess); err != nil {
			return err
		}

		encoded, err := json.Marshal(&sess)
		if err != nil {
			return apperr.Wrap(apperr.KindResource, err, "failed to encode session")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &sess
		return nil
	}

	for i := 0; i < updateRetries; i++ {
		err := rs.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Lost the optimistic race; re-read and retry.
			continue
		}
		if apperr.KindOf(err) != apperr.KindUnknown {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindResource, err, "session store unavailable")
	}

	return nil, apperr.New(apperr.KindResource, "session %s update contention exceeded %d retries", id, updateRetries)
}

func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	if err := rs.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return apperr.Wrap(apperr.KindResource, err, "session store unavailable")
	}
	return nil
}

func (rs *RedisStore) Expire(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := rs.client.Expire(ctx, sessionKey(id), ttl).Result()
	if err != nil {
		return apperr.Wrap(apperr.KindResource, err, "session store unavailable")
	}
	if !ok {
		return apperr.New(apperr.KindNotFound, "session %s not found", id)
	}
	return nil
}

func (rs *RedisStore) List(ctx context.Context) ([]*types.UploadSession, error) {
	var out []*types.UploadSession

	iter := rs.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := rs.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired between scan and read.
				continue
			}
			return nil, apperr.Wrap(apperr.KindResource, err, "session store unavailable")
		}

		var sess types.UploadSession
		if err := json.Unmarshal(data, &sess); err != nil {
			log.Error().Err(err).Str("key", iter.Val()).Msg("skipping undecodable session record")
			continue
		}
		out = append(out, &sess)
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindResource, err, "session store unavailable")
	}
	return out, nil
}

// Ping verifies connectivity, for startup checks.
func (rs *RedisStore) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}
