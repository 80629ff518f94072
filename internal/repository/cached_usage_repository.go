package repository

import (
	"context"
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// CachedUsageRepository реализует UsageRepository с кешированием чтений.
// Инкремент и обновления подписки всегда идут в основное хранилище,
// после чего кеш обновляется свежей записью либо инвалидируется.
type CachedUsageRepository struct {
	repo  UsageRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedUsageRepository создает новый репозиторий с кешированием
func NewCachedUsageRepository(
	repo UsageRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) UsageRepository {
	return &CachedUsageRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetUsage получает запись (сначала из кеша, потом из БД)
func (r *CachedUsageRepository) GetUsage(ctx context.Context, userID int64) (domain.UsageRecord, error) {
	cached, err := r.cache.GetCachedUsage(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting usage record from cache", "error", err, "userID", userID)
		// Продолжаем выполнение при ошибке кеша
	}
	if cached != nil {
		return *cached, nil
	}

	rec, err := r.repo.GetUsage(ctx, userID)
	if err != nil {
		return domain.UsageRecord{}, err
	}

	if err := r.cache.CacheUsage(ctx, rec); err != nil {
		r.log.Warnw("Failed to cache usage record after fetching", "error", err, "userID", userID)
	}

	return rec, nil
}

// IncrementUsage увеличивает счетчик в БД и инвалидирует кеш.
// Инвалидация вместо записи: атомарный инкремент возвращает только
// счетчик, а не всю запись.
func (r *CachedUsageRepository) IncrementUsage(ctx context.Context, userID int64) (int, error) {
	used, err := r.repo.IncrementUsage(ctx, userID)
	if err != nil {
		return 0, err
	}

	if err := r.cache.InvalidateUsage(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate usage cache after increment", "error", err, "userID", userID)
	}

	return used, nil
}

// UpsertSubscription обновляет подписку в БД и кеширует результат
func (r *CachedUsageRepository) UpsertSubscription(ctx context.Context, userID int64, update domain.SubscriptionUpdate) (domain.UsageRecord, error) {
	rec, err := r.repo.UpsertSubscription(ctx, userID, update)
	if err != nil {
		return domain.UsageRecord{}, err
	}

	if err := r.cache.CacheUsage(ctx, rec); err != nil {
		r.log.Warnw("Failed to cache usage record after upsert", "error", err, "userID", userID)
	}

	return rec, nil
}

// ResetUsage сбрасывает счетчик в БД и инвалидирует кеш
func (r *CachedUsageRepository) ResetUsage(ctx context.Context, userID int64) error {
	if err := r.repo.ResetUsage(ctx, userID); err != nil {
		return err
	}

	if err := r.cache.InvalidateUsage(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate usage cache after reset", "error", err, "userID", userID)
	}

	return nil
}

// Delete удаляет запись в БД и инвалидирует кеш
func (r *CachedUsageRepository) Delete(ctx context.Context, userID int64) error {
	if err := r.repo.Delete(ctx, userID); err != nil {
		return err
	}

	if err := r.cache.InvalidateUsage(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate usage cache after delete", "error", err, "userID", userID)
	}

	return nil
}

// ListExpired не кешируется - сканирующий запрос фонового обхода
func (r *CachedUsageRepository) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	return r.repo.ListExpired(ctx, now)
}
