package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей записей использования
	usageKeyPrefix = "usage:"

	// TTL для кэша
	defaultCacheTTL = 5 * time.Minute
)

// RedisCacheRepository реализует кеширование записей использования в Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

func usageKey(userID int64) string {
	return usageKeyPrefix + strconv.FormatInt(userID, 10)
}

// CacheUsage кеширует запись использования в Redis
func (r *RedisCacheRepository) CacheUsage(ctx context.Context, rec domain.UsageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Errorw("Failed to marshal usage record for caching", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	if err := r.client.Set(ctx, usageKey(rec.UserID), data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache usage record in Redis", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to cache usage record: %w", err)
	}

	r.log.Debugw("Usage record cached", "userID", rec.UserID)
	return nil
}

// GetCachedUsage получает запись использования из кеша.
// Отсутствие ключа - не ошибка, возвращается nil.
func (r *RedisCacheRepository) GetCachedUsage(ctx context.Context, userID int64) (*domain.UsageRecord, error) {
	data, err := r.client.Get(ctx, usageKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.log.Debugw("Usage record not found in cache", "userID", userID)
			return nil, nil
		}
		r.log.Errorw("Error getting usage record from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get usage record from cache: %w", err)
	}

	var rec domain.UsageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.log.Errorw("Failed to unmarshal cached usage record", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal cached usage record: %w", err)
	}

	r.log.Debugw("Usage record retrieved from cache", "userID", userID)
	return &rec, nil
}

// InvalidateUsage удаляет запись использования из кеша
func (r *RedisCacheRepository) InvalidateUsage(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, usageKey(userID)).Err(); err != nil {
		r.log.Errorw("Failed to invalidate usage record in cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate usage record: %w", err)
	}

	r.log.Debugw("Usage record invalidated in cache", "userID", userID)
	return nil
}
