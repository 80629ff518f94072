package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/kafka"
	"github.com/captioncrafter/entitlement-service/internal/metrics"
	"github.com/captioncrafter/entitlement-service/internal/repository"
	"github.com/captioncrafter/entitlement-service/internal/whop"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// dedupeRetention сколько помнить обработанные ID событий
const dedupeRetention = 24 * time.Hour

// ReconcilerService интерфейс применения вебхук-событий коммерческого
// провайдера к хранилищу использования
type ReconcilerService interface {
	// ApplyWebhookEvent применяет одно событие. Идемпотентно: повторная
	// доставка того же события состояние не меняет. Ошибка разбора
	// полезной нагрузки - ErrInvalidWebhookPayload; HTTP-обработчик
	// при этом все равно отвечает провайдеру успехом.
	ApplyWebhookEvent(ctx context.Context, payload domain.WebhookPayload) error
}

type reconcilerService struct {
	repo     repository.UsageRepository
	fallback *repository.MemoryUsageStore
	whop     whop.Client    // может быть nil, если API-ключ не задан
	producer kafka.Producer // может быть nil, если Kafka недоступен
	metrics  metrics.UsageMetrics
	log      *logger.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewReconcilerService создает новый сервис реконсиляции подписок
func NewReconcilerService(
	repo repository.UsageRepository,
	fallback *repository.MemoryUsageStore,
	whopClient whop.Client,
	producer kafka.Producer,
	m metrics.UsageMetrics,
	log *logger.Logger,
) ReconcilerService {
	return &reconcilerService{
		repo:     repo,
		fallback: fallback,
		whop:     whopClient,
		producer: producer,
		metrics:  m,
		log:      log,
		seen:     make(map[string]time.Time),
	}
}

// ApplyWebhookEvent применяет одно вебхук-событие
func (s *reconcilerService) ApplyWebhookEvent(ctx context.Context, payload domain.WebhookPayload) error {
	eventType := payload.EventType()
	userID := int64(payload.Data.UserID)

	if userID <= 0 {
		// Событие без пользователя применить не к кому: логируем и
		// отбрасываем, провайдеру все равно уйдет успех. Ретраи
		// с тем же телом ничем не помогут.
		s.log.Warnw("Webhook event without usable user_id, dropping", "type", eventType)
		s.metrics.IncWebhookEvent(string(eventType), "invalid")
		return domain.NewWebhookPayloadError("user_id", "missing or unparseable")
	}

	if key := payload.DedupeKey(); key != "" && s.alreadySeen(key) {
		s.log.Infow("Duplicate webhook event, skipping", "type", eventType, "userID", userID, "key", key)
		s.metrics.IncWebhookEvent(string(eventType), "duplicate")
		return nil
	}

	update, kafkaEvent, ok := s.buildUpdate(eventType, payload.Data, s.currentRecord(ctx, userID))
	if !ok {
		s.log.Warnw("Unknown webhook event type, ignoring", "type", eventType, "userID", userID)
		s.metrics.IncWebhookEvent(string(eventType), "ignored")
		return nil
	}

	rec, err := s.persist(ctx, userID, update)
	if err != nil {
		s.metrics.IncWebhookEvent(string(eventType), "failed")
		return err
	}

	if key := payload.DedupeKey(); key != "" {
		s.markSeen(key)
	}

	s.metrics.IncWebhookEvent(string(eventType), "processed")
	s.log.Infow("Webhook event applied",
		"type", eventType, "userID", userID, "status", rec.SubscriptionStatus)

	// Медленная работа идет после ответа провайдеру: публикация события
	// и перепроверка членства выполняются в фоне
	s.postProcess(eventType, payload.Data, rec, kafkaEvent)

	return nil
}

// currentRecord читает текущее состояние записи для вычисления
// обновления. При недоступности базы берется fallback: для расчета
// биллингового цикла этого достаточно, а сама запись не пройдет,
// пока база не ответит.
func (s *reconcilerService) currentRecord(ctx context.Context, userID int64) domain.UsageRecord {
	rec, err := s.repo.GetUsage(ctx, userID)
	if err == nil {
		return rec
	}
	if errors.Is(err, repository.ErrStoreUnavailable) {
		if rec, ferr := s.fallback.GetUsage(ctx, userID); ferr == nil {
			return rec
		}
	}
	return domain.NewUsageRecord(userID)
}

// buildUpdate переводит событие в частичное обновление записи.
// Третье значение false означает неизвестный тип события.
func (s *reconcilerService) buildUpdate(eventType domain.WebhookEventType, data domain.WebhookData, current domain.UsageRecord) (domain.SubscriptionUpdate, string, bool) {
	now := time.Now()

	switch eventType {
	case domain.WebhookEventSubscriptionCreated,
		domain.WebhookEventSubscriptionUpdated,
		domain.WebhookEventMembershipWentValid:
		update := s.activationUpdate(data, now, current)
		if eventType != domain.WebhookEventSubscriptionUpdated {
			// Дату старта ставим только при создании/активации,
			// обновление существующей подписки ее не трогает
			update.SubscriptionStartDate = &now
		}
		return update, kafka.EventSubscriptionActivated, true

	case domain.WebhookEventPaymentSucceeded:
		return s.activationUpdate(data, now, current), kafka.EventSubscriptionActivated, true

	case domain.WebhookEventSubscriptionCancelled,
		domain.WebhookEventMembershipWentInvalid:
		status := domain.SubscriptionStatusCancelled
		return domain.SubscriptionUpdate{
			Status:    &status,
			ClearPlan: true,
		}, kafka.EventSubscriptionCancelled, true

	case domain.WebhookEventPaymentFailed:
		// Метаданные тарифа сохраняем: повторное списание может
		// восстановить подписку без потери контекста
		status := domain.SubscriptionStatusPaymentFailed
		return domain.SubscriptionUpdate{Status: &status}, kafka.EventPaymentFailed, true

	default:
		return domain.SubscriptionUpdate{}, "", false
	}
}

// activationUpdate общая часть активирующих событий: статус active,
// тариф и дата следующего списания
func (s *reconcilerService) activationUpdate(data domain.WebhookData, now time.Time, current domain.UsageRecord) domain.SubscriptionUpdate {
	status := domain.SubscriptionStatusActive
	update := domain.SubscriptionUpdate{Status: &status}

	if data.PlanID != "" {
		planID := data.PlanID
		update.PlanID = &planID
	}

	// Цикл перезаписываем только когда провайдер его прислал,
	// иначе продление без billing_cycle сбросило бы годовую
	// подписку на месячную
	effectiveCycle := domain.BillingCycleMonthly
	if current.BillingCycle != nil {
		effectiveCycle = *current.BillingCycle
	}
	if data.BillingCycle != "" {
		effectiveCycle = parseBillingCycle(data.BillingCycle)
		update.BillingCycle = &effectiveCycle
	}

	// Дата из события важнее вычисленной: провайдер знает свой
	// биллинговый календарь лучше нас, и повторная доставка того же
	// события с той же датой ничего не сдвигает
	if data.NextBillingDate != nil {
		update.NextBillingDate = data.NextBillingDate
	} else {
		next := nextBillingDate(effectiveCycle, now)
		update.NextBillingDate = &next
	}

	if data.SubscriptionID != "" {
		subID := data.SubscriptionID
		update.ExternalSubscriptionID = &subID
	}
	if data.PaymentMethodID != "" {
		pmID := data.PaymentMethodID
		update.PaymentMethodID = &pmID
	}

	return update
}

// persist пишет обновление в базу. При недоступности базы обновление
// дублируется в fallback, чтобы деградированные чтения видели
// подписку, но ошибка возвращается наверх: провайдер получит 5xx и
// повторит доставку уже в постоянное хранилище. Fallback сбрасывается
// при восстановлении, так что он не может быть единственной копией.
func (s *reconcilerService) persist(ctx context.Context, userID int64, update domain.SubscriptionUpdate) (domain.UsageRecord, error) {
	rec, err := s.repo.UpsertSubscription(ctx, userID, update)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		s.log.Errorw("Failed to persist webhook update", "error", err, "userID", userID)
		return domain.UsageRecord{}, err
	}

	s.log.Warnw("Usage store unavailable, mirroring webhook update to fallback", "userID", userID, "error", err)
	s.metrics.IncStoreFallback("webhook")
	if _, ferr := s.fallback.UpsertSubscription(ctx, userID, update); ferr != nil {
		s.log.Errorw("Fallback write failed", "error", ferr, "userID", userID)
	}
	return domain.UsageRecord{}, err
}

// postProcess фоновая доработка события после ответа провайдеру
func (s *reconcilerService) postProcess(eventType domain.WebhookEventType, data domain.WebhookData, rec domain.UsageRecord, kafkaEvent string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if s.producer != nil && kafkaEvent != "" {
			if err := s.producer.PublishSubscriptionEvent(ctx, kafkaEvent, rec); err != nil {
				s.log.Errorw("Failed to publish subscription event", "error", err, "userID", rec.UserID, "type", kafkaEvent)
			}
		}

		// Перепроверяем членство у провайдера для активирующих событий
		if s.whop == nil || data.SubscriptionID == "" {
			return
		}
		switch eventType {
		case domain.WebhookEventSubscriptionCreated,
			domain.WebhookEventMembershipWentValid,
			domain.WebhookEventPaymentSucceeded:
		default:
			return
		}

		membership, err := s.whop.GetMembership(ctx, data.SubscriptionID)
		if err != nil {
			s.log.Warnw("Membership re-validation failed", "error", err, "subscriptionID", data.SubscriptionID)
			return
		}
		if !membership.Valid {
			s.log.Warnw("Webhook activated a membership the provider reports invalid",
				"userID", rec.UserID, "subscriptionID", data.SubscriptionID, "providerStatus", membership.Status)
		}
	}()
}

// alreadySeen проверяет, обрабатывалось ли событие с этим ключом
func (s *reconcilerService) alreadySeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.seen[key]
	if !ok {
		return false
	}
	if time.Since(at) > dedupeRetention {
		delete(s.seen, key)
		return false
	}
	return true
}

// markSeen запоминает ключ события и чистит устаревшие записи
func (s *reconcilerService) markSeen(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.seen[key] = now

	if len(s.seen) > 10000 {
		for k, at := range s.seen {
			if now.Sub(at) > dedupeRetention {
				delete(s.seen, k)
			}
		}
	}
}

// parseBillingCycle разбирает период оплаты из события
func parseBillingCycle(raw string) domain.BillingCycle {
	switch strings.ToLower(raw) {
	case "yearly", "annual", "year":
		return domain.BillingCycleYearly
	default:
		return domain.BillingCycleMonthly
	}
}

// nextBillingDate вычисляет дату следующего списания
func nextBillingDate(cycle domain.BillingCycle, from time.Time) time.Time {
	if cycle == domain.BillingCycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
