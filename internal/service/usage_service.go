package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/captioncrafter/entitlement-service/internal/caption"
	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/entitlement"
	"github.com/captioncrafter/entitlement-service/internal/kafka"
	"github.com/captioncrafter/entitlement-service/internal/metrics"
	"github.com/captioncrafter/entitlement-service/internal/repository"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// Entitlements снимок прав пользователя для API
type Entitlements struct {
	UserID       int64                     `json:"user_id"`
	CanGenerate  bool                      `json:"can_generate"`
	CaptionsUsed int                       `json:"captions_used"`
	Remaining    int                       `json:"remaining"` // -1 = безлимит
	Status       domain.SubscriptionStatus `json:"subscription_status"`
	Features     domain.PlanFeatures       `json:"features"`
}

// UsageService интерфейс шлюза генерации: единственная точка входа
// для проверки прав, генерации и учета использования
type UsageService interface {
	// GetUsage возвращает запись использования пользователя
	GetUsage(ctx context.Context, userID int64) (domain.UsageRecord, error)

	// Entitlements возвращает снимок прав пользователя
	Entitlements(ctx context.Context, userID int64) (Entitlements, error)

	// CanGenerate решает, разрешена ли пользователю еще одна генерация
	CanGenerate(ctx context.Context, userID int64) (bool, error)

	// GenerateCaptions проверяет права, генерирует подписи и учитывает
	// использование. Отказ по лимиту - ErrLimitExceeded (paywall),
	// неудачная генерация кредит не расходует.
	GenerateCaptions(ctx context.Context, userID int64, req domain.CaptionRequest) ([]domain.Caption, error)

	// RecordGeneration учитывает одну генерацию, выполненную снаружи
	// (вызывающая сторона обязана была получить разрешение)
	RecordGeneration(ctx context.Context, userID int64) (int, error)

	// ResetUsage сбрасывает счетчик бесплатных генераций
	ResetUsage(ctx context.Context, userID int64) error

	// DeleteUser удаляет запись пользователя по запросу на удаление аккаунта
	DeleteUser(ctx context.Context, userID int64) error

	// SweepExpired помечает истекшие активные подписки как expired.
	// Возвращает количество обработанных записей.
	SweepExpired(ctx context.Context) (int, error)
}

type usageService struct {
	repo      repository.UsageRepository
	fallback  *repository.MemoryUsageStore
	generator caption.Generator
	producer  kafka.Producer // может быть nil, если Kafka недоступен
	metrics   metrics.UsageMetrics
	log       *logger.Logger

	// degraded взводится, когда запросы обслуживает fallback.
	// При первом успешном обращении к базе fallback очищается:
	// персистентное состояние всегда выигрывает у best-effort копии.
	degraded atomic.Bool
}

// NewUsageService создает новый сервис учета использования
func NewUsageService(
	repo repository.UsageRepository,
	fallback *repository.MemoryUsageStore,
	generator caption.Generator,
	producer kafka.Producer,
	m metrics.UsageMetrics,
	log *logger.Logger,
) UsageService {
	if producer == nil {
		log.Warnw("Kafka producer is nil, event publishing will be skipped")
	}
	return &usageService{
		repo:      repo,
		fallback:  fallback,
		generator: generator,
		producer:  producer,
		metrics:   m,
		log:       log,
	}
}

// loadUsage читает запись из базы, при недоступности - из fallback.
// Второе возвращаемое значение: true, если ответил fallback.
// Перед уходом в fallback база получает пару быстрых повторов:
// мгновенный сетевой сбой не повод расходиться с персистентным счетчиком.
func (s *usageService) loadUsage(ctx context.Context, userID int64) (domain.UsageRecord, bool, error) {
	var rec domain.UsageRecord
	operation := func() error {
		var err error
		rec, err = s.repo.GetUsage(ctx, userID)
		if err != nil && !errors.Is(err, repository.ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 2), ctx)
	err := backoff.Retry(operation, policy)
	if err == nil {
		s.markRecovered()
		return rec, false, nil
	}

	if !errors.Is(err, repository.ErrStoreUnavailable) {
		return domain.UsageRecord{}, false, err
	}

	s.log.Warnw("Usage store unavailable, reading from fallback", "userID", userID, "error", err)
	s.metrics.IncStoreFallback("get")
	s.degraded.Store(true)

	rec, err = s.fallback.GetUsage(ctx, userID)
	if err != nil {
		return domain.UsageRecord{}, true, err
	}
	return rec, true, nil
}

// incrementUsage пишет инкремент в то же хранилище, которое обслужило
// чтение: смешивать источники в пределах одного запроса нельзя
func (s *usageService) incrementUsage(ctx context.Context, userID int64, useFallback bool) (int, error) {
	if useFallback {
		s.metrics.IncStoreFallback("increment")
		return s.fallback.IncrementUsage(ctx, userID)
	}

	used, err := s.repo.IncrementUsage(ctx, userID)
	if err == nil {
		return used, nil
	}
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		return 0, err
	}

	// База упала между чтением и инкрементом - доучитываем в fallback,
	// расхождение фиксируем в логе
	s.log.Warnw("Usage store lost mid-request, incrementing fallback instead", "userID", userID, "error", err)
	s.metrics.IncStoreFallback("increment")
	s.degraded.Store(true)
	return s.fallback.IncrementUsage(ctx, userID)
}

// markRecovered сбрасывает fallback после восстановления базы
func (s *usageService) markRecovered() {
	if s.degraded.CompareAndSwap(true, false) {
		s.log.Infow("Usage store recovered, clearing fallback records", "fallbackRecords", s.fallback.Len())
		s.fallback.ResetAll()
	}
}

// GetUsage возвращает запись использования пользователя
func (s *usageService) GetUsage(ctx context.Context, userID int64) (domain.UsageRecord, error) {
	rec, _, err := s.loadUsage(ctx, userID)
	return rec, err
}

// Entitlements возвращает снимок прав пользователя
func (s *usageService) Entitlements(ctx context.Context, userID int64) (Entitlements, error) {
	rec, _, err := s.loadUsage(ctx, userID)
	if err != nil {
		return Entitlements{}, err
	}

	now := time.Now()
	return Entitlements{
		UserID:       userID,
		CanGenerate:  entitlement.CanGenerate(rec, now),
		CaptionsUsed: rec.FreeCaptionsUsed,
		Remaining:    entitlement.Remaining(rec, now),
		Status:       rec.SubscriptionStatus,
		Features:     entitlement.Features(rec, now),
	}, nil
}

// CanGenerate решает, разрешена ли пользователю еще одна генерация
func (s *usageService) CanGenerate(ctx context.Context, userID int64) (bool, error) {
	rec, _, err := s.loadUsage(ctx, userID)
	if err != nil {
		return false, err
	}
	return entitlement.CanGenerate(rec, time.Now()), nil
}

// GenerateCaptions основной сценарий шлюза генерации
func (s *usageService) GenerateCaptions(ctx context.Context, userID int64, req domain.CaptionRequest) ([]domain.Caption, error) {
	rec, useFallback, err := s.loadUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	features := entitlement.Features(rec, now)

	if !entitlement.CanGenerate(rec, now) {
		s.log.Infow("Generation blocked by free limit", "userID", userID, "used", rec.FreeCaptionsUsed)
		s.metrics.IncPaywallBlocked()
		return nil, domain.NewLimitExceededError(rec.FreeCaptionsUsed, features.CaptionLimit)
	}

	if !entitlement.PlatformAllowed(rec, req.Platform, now) {
		s.log.Infow("Platform not available on plan", "userID", userID, "platform", req.Platform)
		return nil, domain.ErrPlatformNotAllowed
	}

	// Генерация идет до инкремента: неудачная попытка не должна
	// списывать бесплатный кредит
	captions, err := s.generator.Generate(ctx, req, features.AITier)
	if err != nil {
		s.log.Errorw("Caption generation failed", "error", err, "userID", userID, "platform", req.Platform)
		return nil, errors.Join(domain.ErrGenerationFailed, err)
	}

	if _, err := s.incrementUsage(ctx, userID, useFallback); err != nil {
		// Подписи уже сгенерированы; потерять инкремент хуже, чем
		// отдать результат, поэтому ошибку логируем, но не роняем ответ
		s.log.Errorw("Failed to record generation after success", "error", err, "userID", userID)
	}

	s.metrics.IncCaptionGenerated(string(req.Platform))
	s.log.Infow("Captions generated", "userID", userID, "platform", req.Platform, "variants", len(captions))
	return captions, nil
}

// RecordGeneration учитывает одну генерацию, выполненную снаружи
func (s *usageService) RecordGeneration(ctx context.Context, userID int64) (int, error) {
	rec, useFallback, err := s.loadUsage(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if !entitlement.CanGenerate(rec, now) {
		s.metrics.IncPaywallBlocked()
		return rec.FreeCaptionsUsed, domain.NewLimitExceededError(rec.FreeCaptionsUsed, entitlement.Features(rec, now).CaptionLimit)
	}

	return s.incrementUsage(ctx, userID, useFallback)
}

// ResetUsage сбрасывает счетчик бесплатных генераций
func (s *usageService) ResetUsage(ctx context.Context, userID int64) error {
	if err := s.repo.ResetUsage(ctx, userID); err != nil {
		if !errors.Is(err, repository.ErrStoreUnavailable) {
			return err
		}
		s.log.Warnw("Usage store unavailable, resetting fallback", "userID", userID)
		s.metrics.IncStoreFallback("reset")
		s.degraded.Store(true)
		return s.fallback.ResetUsage(ctx, userID)
	}

	// Держим fallback в согласованном виде на случай скорого сбоя
	_ = s.fallback.ResetUsage(ctx, userID)
	return nil
}

// DeleteUser удаляет запись пользователя
func (s *usageService) DeleteUser(ctx context.Context, userID int64) error {
	if err := s.repo.Delete(ctx, userID); err != nil {
		return err
	}
	_ = s.fallback.Delete(ctx, userID)
	s.log.Infow("User usage record deleted", "userID", userID)
	return nil
}

// SweepExpired помечает истекшие активные подписки как expired
func (s *usageService) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now()
	userIDs, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	status := domain.SubscriptionStatusExpired
	processed := 0
	for _, userID := range userIDs {
		rec, err := s.repo.UpsertSubscription(ctx, userID, domain.SubscriptionUpdate{Status: &status})
		if err != nil {
			s.log.Errorw("Failed to mark subscription expired", "error", err, "userID", userID)
			continue
		}

		processed++
		s.metrics.IncSubscriptionExpired()
		s.publishEvent(kafka.EventSubscriptionExpired, rec)
	}

	if processed > 0 {
		s.log.Infow("Expired subscription sweep finished", "processed", processed)
	}
	return processed, nil
}

// publishEvent отправляет событие в Kafka в фоне; публикация не должна
// задерживать основной путь
func (s *usageService) publishEvent(eventType string, rec domain.UsageRecord) {
	if s.producer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.producer.PublishSubscriptionEvent(ctx, eventType, rec); err != nil {
			s.log.Errorw("Failed to publish subscription event", "error", err, "userID", rec.UserID, "type", eventType)
		}
	}()
}
