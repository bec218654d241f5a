package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/serpworks/serpd/internal/config"
	"github.com/serpworks/serpd/internal/model"
)

type RedisClient struct {
	Client *redis.Client
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

// advanceScript claims a height atomically: the watermark only moves forward,
// and exactly one caller wins any given height.
var advanceScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local h = tonumber(ARGV[1])
if h <= cur then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisWatermarkStore keeps the per-currency last-processed height in redis
// so replayed triggers stay no-ops across restarts and replicas.
type RedisWatermarkStore struct {
	client *RedisClient
	prefix string
}

func NewRedisWatermarkStore(client *RedisClient) *RedisWatermarkStore {
	return &RedisWatermarkStore{client: client, prefix: "serp:watermark:"}
}

func (s *RedisWatermarkStore) key(currency model.Currency) string {
	return s.prefix + string(currency.Normalized())
}

func (s *RedisWatermarkStore) Last(ctx context.Context, currency model.Currency) (uint64, error) {
	val, err := s.client.Client.Get(ctx, s.key(currency)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark for %s: %w", currency, err)
	}
	return h, nil
}

func (s *RedisWatermarkStore) Advance(ctx context.Context, currency model.Currency, height uint64) (bool, error) {
	res, err := advanceScript.Run(ctx, s.client.Client, []string{s.key(currency)},
		strconv.FormatUint(height, 10)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
