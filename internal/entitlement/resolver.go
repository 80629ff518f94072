// Package entitlement содержит чистую логику определения прав пользователя:
// можно ли сгенерировать еще одну подпись и какой набор возможностей доступен.
// Никакого I/O - все решения принимаются по переданной записи использования.
package entitlement

import (
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
)

// IsExpired проверяет, истекла ли активная подписка: статус active,
// но дата следующего списания уже в прошлом. Это производное состояние,
// оно не хранится - единственная явная ветка для политики истечения.
func IsExpired(rec domain.UsageRecord, now time.Time) bool {
	if rec.SubscriptionStatus != domain.SubscriptionStatusActive {
		return false
	}
	return rec.NextBillingDate != nil && rec.NextBillingDate.Before(now)
}

// hasActiveSubscription активная и не истекшая подписка
func hasActiveSubscription(rec domain.UsageRecord, now time.Time) bool {
	return rec.SubscriptionStatus == domain.SubscriptionStatusActive && !IsExpired(rec, now)
}

// Features возвращает набор возможностей, доступный пользователю.
// Активная подписка с неизвестным plan_id получает именованный тариф
// по умолчанию (DefaultActivePlanID), а не free - оплату подтвердил
// провайдер, отсутствие plan_id в справочнике не повод ее отбирать.
func Features(rec domain.UsageRecord, now time.Time) domain.PlanFeatures {
	if !hasActiveSubscription(rec, now) {
		return domain.FreePlanFeatures()
	}

	if rec.PlanID == nil || *rec.PlanID == "" {
		return domain.DefaultActivePlanFeatures()
	}

	features, ok := domain.FeaturesForPlan(*rec.PlanID)
	if !ok {
		return domain.DefaultActivePlanFeatures()
	}
	return features
}

// CanGenerate решает, может ли пользователь сгенерировать еще одну подпись
func CanGenerate(rec domain.UsageRecord, now time.Time) bool {
	features := Features(rec, now)
	if features.CaptionLimit == domain.UnlimitedCaptions {
		return true
	}
	return clampUsed(rec.FreeCaptionsUsed) < features.CaptionLimit
}

// Remaining возвращает количество оставшихся генераций.
// UnlimitedCaptions для безлимитных тарифов, иначе не меньше нуля.
func Remaining(rec domain.UsageRecord, now time.Time) int {
	features := Features(rec, now)
	if features.CaptionLimit == domain.UnlimitedCaptions {
		return domain.UnlimitedCaptions
	}
	remaining := features.CaptionLimit - clampUsed(rec.FreeCaptionsUsed)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AvailablePlatforms возвращает платформы, доступные пользователю
func AvailablePlatforms(rec domain.UsageRecord, now time.Time) []domain.Platform {
	return Features(rec, now).Platforms
}

// PlatformAllowed проверяет доступность конкретной платформы
func PlatformAllowed(rec domain.UsageRecord, platform domain.Platform, now time.Time) bool {
	for _, p := range AvailablePlatforms(rec, now) {
		if p == platform {
			return true
		}
	}
	return false
}

// clampUsed защищает от испорченного отрицательного счетчика
func clampUsed(used int) int {
	if used < 0 {
		return 0
	}
	return used
}
