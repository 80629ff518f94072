package repository

import (
	"context"
	"sync"
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// MemoryUsageStore in-memory реализация UsageRepository.
// Используется как деградированный fallback-режим при недоступности
// персистентного хранилища: одна карта на процесс, без персистентности
// между рестартами. Best-effort - не претендует на строгую
// согласованность с базой.
type MemoryUsageStore struct {
	records map[int64]domain.UsageRecord
	mutex   sync.RWMutex
	log     *logger.Logger
}

// NewMemoryUsageStore создает новый in-memory счетчик использования
func NewMemoryUsageStore(log *logger.Logger) *MemoryUsageStore {
	return &MemoryUsageStore{
		records: make(map[int64]domain.UsageRecord),
		log:     log,
	}
}

// GetUsage возвращает запись пользователя или запись по умолчанию
func (s *MemoryUsageStore) GetUsage(ctx context.Context, userID int64) (domain.UsageRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, exists := s.records[userID]
	if !exists {
		return domain.NewUsageRecord(userID), nil
	}

	return rec, nil
}

// IncrementUsage увеличивает счетчик под блокировкой записи:
// конкурентные инкременты для одного пользователя не теряются
func (s *MemoryUsageStore) IncrementUsage(ctx context.Context, userID int64) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, exists := s.records[userID]
	if !exists {
		rec = domain.NewUsageRecord(userID)
	}

	rec.FreeCaptionsUsed++
	rec.UpdatedAt = time.Now()
	s.records[userID] = rec

	return rec.FreeCaptionsUsed, nil
}

// UpsertSubscription частично обновляет поля подписки
func (s *MemoryUsageStore) UpsertSubscription(ctx context.Context, userID int64, update domain.SubscriptionUpdate) (domain.UsageRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, exists := s.records[userID]
	if !exists {
		rec = domain.NewUsageRecord(userID)
	}

	update.Apply(&rec)
	s.records[userID] = rec

	return rec, nil
}

// UpgradeToSubscription переводит пользователя на платный тариф
func (s *MemoryUsageStore) UpgradeToSubscription(ctx context.Context, userID int64, planID string) (domain.UsageRecord, error) {
	status := domain.SubscriptionStatusActive
	now := time.Now()
	return s.UpsertSubscription(ctx, userID, domain.SubscriptionUpdate{
		Status:                &status,
		PlanID:                &planID,
		SubscriptionStartDate: &now,
	})
}

// DowngradeToFree возвращает пользователя на бесплатный тариф
func (s *MemoryUsageStore) DowngradeToFree(ctx context.Context, userID int64) (domain.UsageRecord, error) {
	status := domain.SubscriptionStatusInactive
	return s.UpsertSubscription(ctx, userID, domain.SubscriptionUpdate{
		Status:    &status,
		ClearPlan: true,
	})
}

// ResetUsage сбрасывает счетчик бесплатных генераций
func (s *MemoryUsageStore) ResetUsage(ctx context.Context, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, exists := s.records[userID]
	if !exists {
		return nil
	}

	rec.FreeCaptionsUsed = 0
	rec.UpdatedAt = time.Now()
	s.records[userID] = rec

	return nil
}

// ResetAll очищает все записи (используется при восстановлении базы,
// чтобы устаревшие fallback-данные не расходились с персистентными)
func (s *MemoryUsageStore) ResetAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := len(s.records)
	s.records = make(map[int64]domain.UsageRecord)

	if count > 0 {
		s.log.Infow("Fallback usage store cleared", "records", count)
	}
}

// Delete удаляет запись пользователя
func (s *MemoryUsageStore) Delete(ctx context.Context, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.records, userID)
	return nil
}

// ListExpired возвращает пользователей с истекшей активной подпиской
func (s *MemoryUsageStore) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var userIDs []int64
	for id, rec := range s.records {
		if rec.SubscriptionStatus != domain.SubscriptionStatusActive {
			continue
		}
		if rec.NextBillingDate != nil && rec.NextBillingDate.Before(now) {
			userIDs = append(userIDs, id)
		}
	}

	return userIDs, nil
}

// Len возвращает количество записей в fallback-хранилище
func (s *MemoryUsageStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.records)
}
