package predlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisIndexKey  = "predictions"
	redisKeyPrefix = "prediction:"
)

// RedisStore keeps each record under prediction:<id> and a newest-first ID
// list under "predictions".
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at addr.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number (0-15, typically 0)
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record has no ID")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// SETNX decides who owns the ID; only the winner indexes it
	wasSet, err := r.client.SetNX(ctx, redisKeyPrefix+rec.ID, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}
	if !wasSet {
		return nil
	}
	if err := r.client.LPush(ctx, redisIndexKey, rec.ID).Err(); err != nil {
		return fmt.Errorf("redis LPUSH failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func (r *RedisStore) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ids, err := r.client.LRange(ctx, redisIndexKey, int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRANGE failed: %w", err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET failed: %w", err)
	}

	out := make([]*Record, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired or deleted behind the index
		}
		var rec Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LLEN failed: %w", err)
	}
	return int(n), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
