package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockValue = "LOCK"
	resPrefix = "RES:"
)

// StoredResponse is a completed response replayed for a repeated key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore remembers the response of a keyed request. A key holds
// either "LOCK" while the first request is in flight or
// "RES:<status>:<body>" once it has completed.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// AcquireLock reports false if another request already owns key.
func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, lockValue, lockTTL).Result()
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, status int, body []byte) error {
	val := resPrefix + strconv.Itoa(status) + ":" + string(body)
	return s.rdb.Set(ctx, key, val, s.ttl).Err()
}

func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (StoredResponse, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return StoredResponse{}, false, nil
	}
	if err != nil {
		return StoredResponse{}, false, err
	}

	rest, ok := strings.CutPrefix(v, resPrefix)
	if !ok {
		return StoredResponse{}, false, nil
	}
	code, body, ok := strings.Cut(rest, ":")
	if !ok {
		return StoredResponse{}, false, nil
	}
	status, err := strconv.Atoi(code)
	if err != nil {
		return StoredResponse{}, false, nil
	}

	return StoredResponse{Status: status, Body: []byte(body)}, true, nil
}

func (s *IdempotencyStore) IsLocked(ctx context.Context, key string) (bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == lockValue, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
