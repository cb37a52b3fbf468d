package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/chainguard/internal/core/domain"
)

// ErrorLogRepo stores error records as JSON values indexed by a sorted set
// scored by timestamp (unix milliseconds).
type ErrorLogRepo struct {
	rdb       *redis.Client
	namespace string
}

// NewErrorLogRepo creates a new Redis-backed error log store.
func NewErrorLogRepo(client *Client, namespace string) *ErrorLogRepo {
	if namespace == "" {
		namespace = "default"
	}
	return &ErrorLogRepo{
		rdb:       client.rdb,
		namespace: namespace,
	}
}

// Key helpers
func (r *ErrorLogRepo) indexKey() string {
	return fmt.Sprintf("error_logs:%s", r.namespace)
}

func (r *ErrorLogRepo) recordKey(id string) string {
	return fmt.Sprintf("error_log:%s:%s", r.namespace, id)
}

// Put stores a record and indexes it by timestamp.
func (r *ErrorLogRepo) Put(ctx context.Context, rec *domain.ErrorRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(rec.ID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(rec.Timestamp.UnixMilli()),
			Member: rec.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store error record: %w", err)
	}
	return nil
}

// GetAll returns every record, oldest first.
func (r *ErrorLogRepo) GetAll(ctx context.Context) ([]*domain.ErrorRecord, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.ErrorRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget failed: %w", err)
	}

	records := make([]*domain.ErrorRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Value missing but ID still indexed
			continue
		}
		var rec domain.ErrorRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Delete removes one record.
func (r *ErrorLogRepo) Delete(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.indexKey(), id)
		pipe.Del(ctx, r.recordKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete error record: %w", err)
	}
	return nil
}

// Clear removes every record in the namespace.
func (r *ErrorLogRepo) Clear(ctx context.Context) error {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange failed: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, r.indexKey())
	for _, id := range ids {
		keys = append(keys, r.recordKey(id))
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear error records: %w", err)
	}
	return nil
}

// Trim keeps the newest max records. Concurrent calls never remove more
// than the excess.
func (r *ErrorLogRepo) Trim(ctx context.Context, max int) (int, error) {
	ids, err := r.rdb.ZRange(ctx, r.indexKey(), 0, -int64(max)-1).Result()
	if err != nil {
		return 0, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = r.recordKey(id)
	}

	var removed *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, r.indexKey(), members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to trim error records: %w", err)
	}
	return int(removed.Val()), nil
}

// Count returns the number of indexed records.
func (r *ErrorLogRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
