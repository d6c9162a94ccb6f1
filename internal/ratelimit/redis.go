package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisConfig описывает подключение к Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore хранит окна запросов в отсортированных множествах Redis,
// что позволяет разделять лимит между несколькими экземплярами сервиса.
type RedisStore struct {
	client *redis.Client
	rule   Rule
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore подключается к Redis и проверяет соединение.
func NewRedisStore(cfg RedisConfig, rule Rule) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, rule)
}

// NewRedisStoreFromClient создаёт хранилище поверх готового клиента.
func NewRedisStoreFromClient(client *redis.Client, rule Rule) (*RedisStore, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	return &RedisStore{
		client: client,
		rule:   rule,
		prefix: "ratelimit:create-payment:",
		now:    time.Now,
	}, nil
}

// Close закрывает соединение с Redis.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Allow учитывает запрос клиента key в скользящем окне.
func (s *RedisStore) Allow(ctx context.Context, key string) (Decision, error) {
	now := s.now()
	redisKey := s.prefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	cutoff := now.Add(-s.rule.Window).UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, s.rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("record request: %w", err)
	}

	count := int(card.Val())
	if count > s.rule.Requests {
		if err := s.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return Decision{}, fmt.Errorf("discard rejected request: %w", err)
		}
		return denied(s.rule), nil
	}

	return allowed(s.rule, count), nil
}
