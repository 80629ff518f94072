package entitlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/entitlement"
)

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func activeRecord(planID string, nextBilling time.Time) domain.UsageRecord {
	rec := domain.NewUsageRecord(42)
	rec.SubscriptionStatus = domain.SubscriptionStatusActive
	rec.PlanID = strPtr(planID)
	rec.NextBillingDate = timePtr(nextBilling)
	return rec
}

func TestCanGenerate_FreeTierLimit(t *testing.T) {
	now := time.Now()

	// Бесплатный пользователь: 0, 1, 2 использовано - можно, 3 - нельзя
	for used := 0; used < domain.FreeCaptionLimit; used++ {
		rec := domain.NewUsageRecord(1)
		rec.FreeCaptionsUsed = used
		assert.True(t, entitlement.CanGenerate(rec, now), "used=%d must be allowed", used)
	}

	rec := domain.NewUsageRecord(1)
	rec.FreeCaptionsUsed = domain.FreeCaptionLimit
	assert.False(t, entitlement.CanGenerate(rec, now), "limit reached must block")

	rec.FreeCaptionsUsed = domain.FreeCaptionLimit + 5
	assert.False(t, entitlement.CanGenerate(rec, now), "over limit must block")
}

func TestCanGenerate_ActiveSubscriptionUnlimited(t *testing.T) {
	now := time.Now()
	rec := activeRecord(domain.PlanBasic, now.AddDate(0, 1, 0))
	rec.FreeCaptionsUsed = 100

	assert.True(t, entitlement.CanGenerate(rec, now))
	assert.Equal(t, domain.UnlimitedCaptions, entitlement.Remaining(rec, now))
}

func TestCanGenerate_NegativeCounterClamped(t *testing.T) {
	now := time.Now()
	rec := domain.NewUsageRecord(1)
	rec.FreeCaptionsUsed = -7

	assert.True(t, entitlement.CanGenerate(rec, now))
	assert.Equal(t, domain.FreeCaptionLimit, entitlement.Remaining(rec, now))
}

func TestFeatures_UnknownActivePlanDefaultsToPremium(t *testing.T) {
	now := time.Now()

	// Оплаченная подписка с тарифом, которого нет в справочнике,
	// получает тариф по умолчанию, а не free
	rec := activeRecord("plan_from_the_future", now.AddDate(0, 1, 0))
	features := entitlement.Features(rec, now)
	assert.Equal(t, domain.DefaultActivePlanFeatures(), features)
	assert.Equal(t, domain.UnlimitedCaptions, features.CaptionLimit)

	// То же для отсутствующего plan_id
	rec.PlanID = nil
	assert.Equal(t, domain.DefaultActivePlanFeatures(), entitlement.Features(rec, now))

	rec.PlanID = strPtr("")
	assert.Equal(t, domain.DefaultActivePlanFeatures(), entitlement.Features(rec, now))
}

func TestFeatures_NonActiveStatusesGetFree(t *testing.T) {
	now := time.Now()

	statuses := []domain.SubscriptionStatus{
		domain.SubscriptionStatusInactive,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusPaymentFailed,
		domain.SubscriptionStatusExpired,
	}
	for _, status := range statuses {
		rec := domain.NewUsageRecord(1)
		rec.SubscriptionStatus = status
		rec.PlanID = strPtr(domain.PlanPro)
		assert.Equal(t, domain.FreePlanFeatures(), entitlement.Features(rec, now), "status=%s", status)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()

	// Активная подписка с датой списания в прошлом истекла
	rec := activeRecord(domain.PlanPro, now.Add(-time.Hour))
	assert.True(t, entitlement.IsExpired(rec, now))
	assert.Equal(t, domain.FreePlanFeatures(), entitlement.Features(rec, now))

	// Дата в будущем - не истекла
	rec.NextBillingDate = timePtr(now.Add(time.Hour))
	assert.False(t, entitlement.IsExpired(rec, now))

	// Без даты списания активная подписка не истекает
	rec.NextBillingDate = nil
	assert.False(t, entitlement.IsExpired(rec, now))

	// Неактивные статусы не считаются истекшими, даже с прошлой датой
	rec = domain.NewUsageRecord(1)
	rec.SubscriptionStatus = domain.SubscriptionStatusCancelled
	rec.NextBillingDate = timePtr(now.Add(-time.Hour))
	assert.False(t, entitlement.IsExpired(rec, now))
}

func TestExpiredSubscriptionFallsBackToFreeLimit(t *testing.T) {
	now := time.Now()

	rec := activeRecord(domain.PlanPremium, now.Add(-24*time.Hour))
	rec.FreeCaptionsUsed = domain.FreeCaptionLimit

	// Истекшая подписка снова упирается в бесплатный лимит
	assert.False(t, entitlement.CanGenerate(rec, now))
	assert.Equal(t, 0, entitlement.Remaining(rec, now))
}

func TestPlatformAllowed(t *testing.T) {
	now := time.Now()

	free := domain.NewUsageRecord(1)
	assert.True(t, entitlement.PlatformAllowed(free, domain.PlatformInstagram, now))
	assert.False(t, entitlement.PlatformAllowed(free, domain.PlatformTikTok, now))
	assert.False(t, entitlement.PlatformAllowed(free, domain.PlatformYouTube, now))

	premium := activeRecord(domain.PlanPremium, now.AddDate(1, 0, 0))
	assert.True(t, entitlement.PlatformAllowed(premium, domain.PlatformYouTube, now))

	basic := activeRecord(domain.PlanBasic, now.AddDate(0, 1, 0))
	assert.False(t, entitlement.PlatformAllowed(basic, domain.PlatformTikTok, now))
	assert.True(t, entitlement.PlatformAllowed(basic, domain.PlatformFacebook, now))
}
