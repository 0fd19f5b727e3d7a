package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tintbook/internal/config"
	"tintbook/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrLockTimeout = domain.ErrLockTimeout

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

// releaseScript удаляет ключ только если он все еще принадлежит владельцу токена
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a per-key mutex shared by every process using the same redis.
type RedisLocker struct {
	client    *redis.Client
	retryWait time.Duration
	logger    *zerolog.Logger
}

func NewRedisLocker(client *redis.Client, logger *zerolog.Logger) *RedisLocker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RedisLocker{
		client:    client,
		retryWait: 10 * time.Millisecond,
		logger:    logger,
	}
}

// Acquire spins on SET NX PX until the key is free or ctx ends. The lease
// expires after ttl even if the holder dies.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	lockKey := "lock:" + key
	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock in redis: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-time.After(l.retryWait):
		}
	}

	unlock := func() {
		// снимаем блокировку даже если контекст запроса уже отменен
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("Failed to release redis lock")
		}
	}
	return unlock, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RedisAvailabilityCache keeps bookable times in one hash per date so a write
// to the date drops every cached duration at once.
type RedisAvailabilityCache struct {
	client *redis.Client
	logger *zerolog.Logger
}

func NewRedisAvailabilityCache(client *redis.Client, logger *zerolog.Logger) *RedisAvailabilityCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RedisAvailabilityCache{client: client, logger: logger}
}

func availabilityKey(date string) string {
	return "availability:" + date
}

func durationField(duration float64) string {
	return strconv.FormatFloat(duration, 'f', 3, 64)
}

func (c *RedisAvailabilityCache) GetBookable(ctx context.Context, date string, duration float64) ([]string, bool) {
	if c.client == nil {
		return nil, false
	}
	val, err := c.client.HGet(ctx, availabilityKey(date), durationField(duration)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("date", date).Msg("Failed to read availability cache")
		return nil, false
	}

	var times []string
	if err := json.Unmarshal([]byte(val), &times); err != nil {
		c.logger.Warn().Err(err).Str("date", date).Msg("Corrupted availability cache entry")
		return nil, false
	}
	return times, true
}

func (c *RedisAvailabilityCache) SetBookable(ctx context.Context, date string, duration float64, times []string, ttl time.Duration) {
	if c.client == nil {
		return
	}
	if times == nil {
		times = []string{}
	}
	data, err := json.Marshal(times)
	if err != nil {
		return
	}

	key := availabilityKey(date)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, durationField(duration), data)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Str("date", date).Msg("Failed to write availability cache")
	}
}

func (c *RedisAvailabilityCache) InvalidateDate(ctx context.Context, date string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, availabilityKey(date)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("date", date).Msg("Failed to invalidate availability cache")
	}
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
