package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/metrics"
	"github.com/captioncrafter/entitlement-service/internal/repository"
	"github.com/captioncrafter/entitlement-service/internal/service"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

type reconcilerFixture struct {
	reconciler service.ReconcilerService
	repo       *flakyRepo
	fallback   *repository.MemoryUsageStore
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	log := logger.New(logger.ERROR)
	repo := &flakyRepo{store: repository.NewMemoryUsageStore(log)}
	fallback := repository.NewMemoryUsageStore(log)
	reconciler := service.NewReconcilerService(repo, fallback, nil, nil, metrics.NoOpMetrics(), log)
	return &reconcilerFixture{reconciler: reconciler, repo: repo, fallback: fallback}
}

func subscriptionCreated(userID int64, planID, subID string) domain.WebhookPayload {
	return domain.WebhookPayload{
		Event: string(domain.WebhookEventSubscriptionCreated),
		Data: domain.WebhookData{
			UserID:         domain.FlexibleID(userID),
			PlanID:         planID,
			BillingCycle:   "monthly",
			SubscriptionID: subID,
		},
	}
}

func TestApplyWebhookEvent_SubscriptionCreated(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	err := f.reconciler.ApplyWebhookEvent(ctx, subscriptionCreated(10, domain.PlanPro, "sub_1"))
	require.NoError(t, err)

	rec, err := f.repo.store.GetUsage(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, rec.SubscriptionStatus)
	require.NotNil(t, rec.PlanID)
	assert.Equal(t, domain.PlanPro, *rec.PlanID)
	require.NotNil(t, rec.NextBillingDate)
	assert.True(t, rec.NextBillingDate.After(time.Now()), "monthly cycle must set a future billing date")
	require.NotNil(t, rec.SubscriptionStartDate)
}

func TestApplyWebhookEvent_MissingUserIDDropped(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	payload := subscriptionCreated(0, domain.PlanPro, "sub_2")
	err := f.reconciler.ApplyWebhookEvent(ctx, payload)
	require.Error(t, err)

	var payloadErr *domain.WebhookPayloadError
	assert.ErrorAs(t, err, &payloadErr)
	assert.True(t, errors.Is(err, domain.ErrInvalidWebhookPayload))

	// Событие не применилось ни к одной записи
	assert.Equal(t, 0, f.repo.store.Len())
}

func TestApplyWebhookEvent_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	payload := domain.WebhookPayload{
		Event: string(domain.WebhookEventPaymentSucceeded),
		Data: domain.WebhookData{
			UserID:       domain.FlexibleID(20),
			PlanID:       domain.PlanBasic,
			BillingCycle: "yearly",
			PaymentID:    "pay_777",
		},
	}

	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, payload))
	rec1, err := f.repo.store.GetUsage(ctx, 20)
	require.NoError(t, err)

	// Повторная доставка того же платежа состояние не меняет
	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, payload))
	rec2, err := f.repo.store.GetUsage(ctx, 20)
	require.NoError(t, err)

	assert.Equal(t, rec1.SubscriptionStatus, rec2.SubscriptionStatus)
	assert.Equal(t, rec1.NextBillingDate, rec2.NextBillingDate)
	assert.Equal(t, rec1.UpdatedAt, rec2.UpdatedAt, "duplicate must not touch the record")
}

func TestApplyWebhookEvent_CancellationDropsToFreeImmediately(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, subscriptionCreated(30, domain.PlanPremium, "sub_30")))

	// Пользователь уже истратил бесплатный лимит до подписки
	for i := 0; i < domain.FreeCaptionLimit; i++ {
		_, err := f.repo.store.IncrementUsage(ctx, 30)
		require.NoError(t, err)
	}

	cancel := domain.WebhookPayload{
		Event: string(domain.WebhookEventSubscriptionCancelled),
		Data: domain.WebhookData{
			UserID:         domain.FlexibleID(30),
			SubscriptionID: "sub_30_cancel",
		},
	}
	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, cancel))

	rec, err := f.repo.store.GetUsage(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, rec.SubscriptionStatus)
	assert.Nil(t, rec.PlanID, "cancellation clears plan metadata")
	assert.Nil(t, rec.NextBillingDate)

	// Старый счетчик сохранился: отмена сразу возвращает к лимиту free
	assert.Equal(t, domain.FreeCaptionLimit, rec.FreeCaptionsUsed)
}

func TestApplyWebhookEvent_PaymentFailedKeepsPlan(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, subscriptionCreated(40, domain.PlanPro, "sub_40")))

	failed := domain.WebhookPayload{
		Event: string(domain.WebhookEventPaymentFailed),
		Data: domain.WebhookData{
			UserID:    domain.FlexibleID(40),
			PaymentID: "pay_failed_1",
		},
	}
	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, failed))

	rec, err := f.repo.store.GetUsage(ctx, 40)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPaymentFailed, rec.SubscriptionStatus)
	require.NotNil(t, rec.PlanID, "failed payment keeps plan metadata for recovery")
	assert.Equal(t, domain.PlanPro, *rec.PlanID)
}

func TestApplyWebhookEvent_ReactivationWithStaleCounter(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	// Бесплатный лимит исчерпан
	for i := 0; i < domain.FreeCaptionLimit; i++ {
		_, err := f.repo.store.IncrementUsage(ctx, 50)
		require.NoError(t, err)
	}

	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, subscriptionCreated(50, domain.PlanBasic, "sub_50")))

	rec, err := f.repo.store.GetUsage(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, rec.SubscriptionStatus)
	// Счетчик не сбрасывается, но для безлимитного тарифа он не мешает
	assert.Equal(t, domain.FreeCaptionLimit, rec.FreeCaptionsUsed)
}

func TestApplyWebhookEvent_UnknownTypeIgnored(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	payload := domain.WebhookPayload{
		Event: "refund.created",
		Data:  domain.WebhookData{UserID: domain.FlexibleID(60)},
	}
	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, payload))
	assert.Equal(t, 0, f.repo.store.Len())
}

func TestApplyWebhookEvent_OutageSurfacesErrorForRedelivery(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	payload := domain.WebhookPayload{
		Event: string(domain.WebhookEventPaymentSucceeded),
		Data: domain.WebhookData{
			UserID:       domain.FlexibleID(70),
			PlanID:       domain.PlanPro,
			BillingCycle: "monthly",
			PaymentID:    "pay_70",
		},
	}

	f.repo.down = true
	err := f.reconciler.ApplyWebhookEvent(ctx, payload)
	require.Error(t, err, "during an outage the provider must get a retryable error")
	assert.True(t, errors.Is(err, repository.ErrStoreUnavailable))

	// Деградированные чтения все же видят подписку через fallback
	rec, err := f.fallback.GetUsage(ctx, 70)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, rec.SubscriptionStatus)

	// Повторная доставка после восстановления не считается дубликатом
	// и доходит до постоянного хранилища
	f.repo.down = false
	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, payload))

	rec, err = f.repo.store.GetUsage(ctx, 70)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, rec.SubscriptionStatus)
	require.NotNil(t, rec.PlanID)
	assert.Equal(t, domain.PlanPro, *rec.PlanID)
}

func TestApplyWebhookEvent_RenewalWithoutCycleKeepsYearly(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	now := time.Now()

	created := subscriptionCreated(75, domain.PlanPremium, "sub_75")
	created.Data.BillingCycle = "yearly"
	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, created))

	// Продление приходит без billing_cycle, только с платежом
	renewal := domain.WebhookPayload{
		Event: string(domain.WebhookEventPaymentSucceeded),
		Data: domain.WebhookData{
			UserID:    domain.FlexibleID(75),
			PaymentID: "pay_75_renewal",
		},
	}
	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, renewal))

	rec, err := f.repo.store.GetUsage(ctx, 75)
	require.NoError(t, err)
	require.NotNil(t, rec.BillingCycle)
	assert.Equal(t, domain.BillingCycleYearly, *rec.BillingCycle)
	require.NotNil(t, rec.NextBillingDate)
	assert.True(t, rec.NextBillingDate.After(now.AddDate(0, 11, 0)),
		"renewal without an explicit cycle must extend by the stored yearly cycle")
}

func TestApplyWebhookEvent_NegativeUserIDDropped(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	payload := subscriptionCreated(-5, domain.PlanPro, "sub_neg")
	err := f.reconciler.ApplyWebhookEvent(ctx, payload)
	require.Error(t, err)

	var payloadErr *domain.WebhookPayloadError
	assert.ErrorAs(t, err, &payloadErr)
	assert.Equal(t, 0, f.repo.store.Len())
}

func TestApplyWebhookEvent_ProvidedBillingDateWins(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	provided := time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)
	payload := subscriptionCreated(80, domain.PlanPro, "sub_80")
	payload.Data.NextBillingDate = &provided

	require.NoError(t, f.reconciler.ApplyWebhookEvent(ctx, payload))

	rec, err := f.repo.store.GetUsage(ctx, 80)
	require.NoError(t, err)
	require.NotNil(t, rec.NextBillingDate)
	assert.True(t, provided.Equal(*rec.NextBillingDate))
}
