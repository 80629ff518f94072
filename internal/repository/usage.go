package repository

import (
	"context"
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
)

// UsageRepository интерфейс хранилища записей использования.
// Персистентная реализация - Postgres; in-memory реализация служит
// деградированным fallback-режимом при недоступности базы.
type UsageRepository interface {
	// GetUsage возвращает запись пользователя. Для пользователя,
	// которого хранилище еще не видело, возвращается запись по
	// умолчанию (счетчик 0, подписка неактивна) - не ошибка.
	GetUsage(ctx context.Context, userID int64) (domain.UsageRecord, error)

	// IncrementUsage атомарно увеличивает счетчик бесплатных генераций
	// на 1 и возвращает новое значение. Инкремент выполняется на уровне
	// хранилища, без read-modify-write в приложении.
	IncrementUsage(ctx context.Context, userID int64) (int, error)

	// UpsertSubscription частично обновляет поля подписки:
	// nil-поля обновления не трогаются (COALESCE-семантика).
	UpsertSubscription(ctx context.Context, userID int64, update domain.SubscriptionUpdate) (domain.UsageRecord, error)

	// ResetUsage сбрасывает счетчик бесплатных генераций в 0
	ResetUsage(ctx context.Context, userID int64) error

	// Delete удаляет запись пользователя (запрос на удаление аккаунта)
	Delete(ctx context.Context, userID int64) error

	// ListExpired возвращает пользователей с активной подпиской,
	// у которых дата следующего списания уже в прошлом
	ListExpired(ctx context.Context, now time.Time) ([]int64, error)
}
