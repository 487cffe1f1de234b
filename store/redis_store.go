package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/eleflea/sense-voice-recognizer/model"
)

const (
	jobKeyPrefix = "asr:job:"
	jobIndexKey  = "asr:jobs"
)

// RedisStore keeps one JSON document per job with a TTL and a sorted set of
// job IDs scored by enqueue time.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Retention time.Duration
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisStore{rdb: rdb, retention: opts.Retention}, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *RedisStore) Add(ctx context.Context, rec *model.JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(rec.ID), data, s.retention)
		pipe.ZAdd(ctx, jobIndexKey, redis.Z{
			Score:  float64(rec.EnqueuedAt.UnixNano()),
			Member: rec.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", rec.ID, err)
	}
	return s.trimIndex(ctx)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.JobRecord, error) {
	raw, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	var rec model.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) GetAll(ctx context.Context) ([]*model.JobRecord, error) {
	return s.List(ctx, 0)
}

// List reads the newest limit entries of the index. Entries whose document
// has expired are dropped from the index and from the result, so a page may
// come back short.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*model.JobRecord, error) {
	if err := s.trimIndex(ctx); err != nil {
		return nil, err
	}

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.rdb.ZRevRange(ctx, jobIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*model.JobRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	recs := make([]*model.JobRecord, 0, len(values))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var rec model.JobRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", ids[i], err)
		}
		recs = append(recs, &rec)
	}
	if len(expired) > 0 {
		if err := s.rdb.ZRem(ctx, jobIndexKey, expired...).Err(); err != nil {
			return nil, fmt.Errorf("drop expired index entries: %w", err)
		}
	}
	return recs, nil
}

// UpdateStatus is an optimistic read-modify-write guarded by WATCH.
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) error {
	key := jobKey(id)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return model.ErrJobNotFound
		}
		if err != nil {
			return err
		}

		var rec model.JobRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		rec.Apply(status, errMsg, time.Now())

		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(id))
		pipe.ZRem(ctx, jobIndexKey, id)
		return nil
	})
	return err
}

// trimIndex drops index entries older than the retention window; their
// documents have already expired.
func (s *RedisStore) trimIndex(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.retention).UnixNano()
	err := s.rdb.ZRemRangeByScore(ctx, jobIndexKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err()
	if err != nil {
		return fmt.Errorf("trim job index: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
