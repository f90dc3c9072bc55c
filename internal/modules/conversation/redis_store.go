package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "outing:session:%s"
	activityIndexKey = "outing:sessions:activity"
	// Backstop expiry; the sweep normally removes sessions long before this.
	sessionKeyTTL = 24 * time.Hour
)

// RedisStore keeps sessions as JSON values plus a sorted set of last-activity times
// so several API replicas can share conversations. Replicas serialize turns through
// the store's RedisLocker.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis}
}

func sessionKey(id string) string {
	return fmt.Sprintf(sessionKeyPrefix, id)
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := r.redis.SetNX(ctx, sessionKey(s.ID), payload, sessionKeyTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	return r.redis.ZAdd(ctx, activityIndexKey, redis.Z{
		Score:  float64(s.LastUpdated.UnixMilli()),
		Member: s.ID,
	}).Err()
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), payload, sessionKeyTTL)
	pipe.ZAdd(ctx, activityIndexKey, redis.Z{Score: float64(s.LastUpdated.UnixMilli()), Member: s.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.ZRem(ctx, activityIndexKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	return r.redis.ZRangeByScore(ctx, activityIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.redis.ZCard(ctx, activityIndexKey).Result()
	return int(n), err
}
