// Package caption содержит генератор подписей: клиент LLM и
// шаблонный fallback. Генерация - внешний коллаборатор ядра:
// ее успех или провал никогда не портит состояние биллинга.
package caption

import (
	"context"

	"github.com/captioncrafter/entitlement-service/internal/domain"
)

// Generator определяет интерфейс генератора подписей
type Generator interface {
	// Generate возвращает варианты подписей для структурированного запроса
	Generate(ctx context.Context, req domain.CaptionRequest, tier domain.AITier) ([]domain.Caption, error)
}

// normalizeVariants приводит запрошенное число вариантов к допустимому
func normalizeVariants(v int) int {
	if v <= 0 {
		return 3
	}
	if v > domain.MaxCaptionVariants {
		return domain.MaxCaptionVariants
	}
	return v
}
