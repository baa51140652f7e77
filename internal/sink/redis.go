package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sds011 "github.com/hjkoskel/sds011sampler"
	"github.com/hjkoskel/sds011sampler/internal/config"
)

const latestKeyPrefix = "sds011:latest:"

// RedisSink keeps latest reading per sensor for dashboards
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctxPing).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSink{client: rdb, ttl: cfg.TTL}, nil
}

func LatestKey(sensor string) string {
	return latestKeyPrefix + sensor
}

func (p *RedisSink) Name() string {
	return "redis"
}

func (p *RedisSink) Record(ctx context.Context, r sds011.Reading) error {
	value, err := json.Marshal(NewPayload(r))
	if err != nil {
		return err
	}
	return p.client.Set(ctx, LatestKey(r.SensorID), value, p.ttl).Err()
}

func (p *RedisSink) Close() error {
	return p.client.Close()
}
