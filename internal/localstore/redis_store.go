package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"libprep/api/internal/grid"
)

// RedisStore keeps one string key per cached group and a sorted set per
// hospital that records the order groups were first cached in.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. A zero ttl keeps snapshots until
// they are deleted.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "libprep:",
		ttl:    ttl,
	}
}

func (s *RedisStore) snapKey(hospital, group string) string {
	return s.prefix + "snap:" + hospital + ":" + group
}

func (s *RedisStore) groupsKey(hospital string) string {
	return s.prefix + "groups:" + hospital
}

func (s *RedisStore) seqKey(hospital string) string {
	return s.prefix + "groupseq:" + hospital
}

func (s *RedisStore) Load(ctx context.Context, hospital, group string) (grid.Snapshot, error) {
	if err := validKey(hospital, group); err != nil {
		return grid.Snapshot{}, err
	}
	raw, err := s.client.Get(ctx, s.snapKey(hospital, group)).Bytes()
	if errors.Is(err, redis.Nil) {
		return grid.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := grid.DecodeSnapshot(raw)
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("load snapshot %s: %w", group, err)
	}
	return snap, nil
}

func (s *RedisStore) Save(ctx context.Context, hospital, group string, snap grid.Snapshot) error {
	if err := validKey(hospital, group); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	groups := s.groupsKey(hospital)
	err = s.client.ZScore(ctx, groups, group).Err()
	listed := err == nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("save snapshot: %w", err)
	}
	var seq int64
	if !listed {
		if seq, err = s.client.Incr(ctx, s.seqKey(hospital)).Result(); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.snapKey(hospital, group), payload, s.ttl)
		if !listed {
			pipe.ZAddNX(ctx, groups, redis.Z{Score: float64(seq), Member: group})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, hospital, group string) error {
	if err := validKey(hospital, group); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.snapKey(hospital, group))
		pipe.ZRem(ctx, s.groupsKey(hospital), group)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Groups drops groups whose snapshot has expired before listing them.
func (s *RedisStore) Groups(ctx context.Context, hospital string) ([]string, error) {
	groupsKey := s.groupsKey(hospital)
	members, err := s.client.ZRange(ctx, groupsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	exists := make([]*redis.IntCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, group := range members {
			exists[i] = pipe.Exists(ctx, s.snapKey(hospital, group))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	out := make([]string, 0, len(members))
	var stale []any
	for i, group := range members {
		if exists[i].Val() == 0 {
			stale = append(stale, group)
			continue
		}
		out = append(out, group)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, groupsKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune groups: %w", err)
		}
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
