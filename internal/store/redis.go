package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis stores each chat as a Redis list.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis store from a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (r *Redis) Name() string { return BackendRedis }

func (r *Redis) Save(ctx context.Context, tag string, msg ChatMessage) error {
	payload, err := msg.Marshal()
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, tag, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", tag, err)
	}
	return nil
}

func (r *Redis) FetchRaw(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	vals, err := r.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return vals, nil
}

func (r *Redis) FetchMessages(ctx context.Context, key string, limit int) ([]ChatMessage, error) {
	raw, err := r.FetchRaw(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll(raw)
}

func (r *Redis) FetchStats(ctx context.Context, pattern string) ([]KeyStat, error) {
	var stats []KeyStat
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		typ, err := r.client.Type(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis type %s: %w", key, err)
		}
		if typ != "list" {
			continue
		}
		n, err := r.client.LLen(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis llen %s: %w", key, err)
		}
		stats = append(stats, KeyStat{Key: key, Length: n})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
