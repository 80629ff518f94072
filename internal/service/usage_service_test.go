package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captioncrafter/entitlement-service/internal/caption"
	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/metrics"
	"github.com/captioncrafter/entitlement-service/internal/repository"
	"github.com/captioncrafter/entitlement-service/internal/service"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// flakyRepo эмулирует постоянное хранилище, которое можно "уронить"
type flakyRepo struct {
	store *repository.MemoryUsageStore
	down  bool
}

func (r *flakyRepo) unavailable() error {
	return errors.Join(repository.ErrStoreUnavailable, errors.New("connection refused"))
}

func (r *flakyRepo) GetUsage(ctx context.Context, userID int64) (domain.UsageRecord, error) {
	if r.down {
		return domain.UsageRecord{}, r.unavailable()
	}
	return r.store.GetUsage(ctx, userID)
}

func (r *flakyRepo) IncrementUsage(ctx context.Context, userID int64) (int, error) {
	if r.down {
		return 0, r.unavailable()
	}
	return r.store.IncrementUsage(ctx, userID)
}

func (r *flakyRepo) UpsertSubscription(ctx context.Context, userID int64, update domain.SubscriptionUpdate) (domain.UsageRecord, error) {
	if r.down {
		return domain.UsageRecord{}, r.unavailable()
	}
	return r.store.UpsertSubscription(ctx, userID, update)
}

func (r *flakyRepo) ResetUsage(ctx context.Context, userID int64) error {
	if r.down {
		return r.unavailable()
	}
	return r.store.ResetUsage(ctx, userID)
}

func (r *flakyRepo) Delete(ctx context.Context, userID int64) error {
	if r.down {
		return r.unavailable()
	}
	return r.store.Delete(ctx, userID)
}

func (r *flakyRepo) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	if r.down {
		return nil, r.unavailable()
	}
	return r.store.ListExpired(ctx, now)
}

// stubGenerator управляемый генератор для тестов
type stubGenerator struct {
	err   error
	calls int
}

func (g *stubGenerator) Generate(ctx context.Context, req domain.CaptionRequest, tier domain.AITier) ([]domain.Caption, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return []domain.Caption{{Text: "Fresh take on " + req.Topic, CharCount: 20}}, nil
}

var _ caption.Generator = (*stubGenerator)(nil)

type fixture struct {
	svc      service.UsageService
	repo     *flakyRepo
	fallback *repository.MemoryUsageStore
	gen      *stubGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New(logger.ERROR)
	repo := &flakyRepo{store: repository.NewMemoryUsageStore(log)}
	fallback := repository.NewMemoryUsageStore(log)
	gen := &stubGenerator{}
	svc := service.NewUsageService(repo, fallback, gen, nil, metrics.NoOpMetrics(), log)
	return &fixture{svc: svc, repo: repo, fallback: fallback, gen: gen}
}

func captionRequest() domain.CaptionRequest {
	return domain.CaptionRequest{
		Platform: domain.PlatformInstagram,
		Topic:    "morning coffee",
		Variants: 1,
	}
}

func TestGenerateCaptions_FourthCallHitsPaywall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < domain.FreeCaptionLimit; i++ {
		captions, err := f.svc.GenerateCaptions(ctx, 1, captionRequest())
		require.NoError(t, err, "call %d within free limit", i+1)
		require.NotEmpty(t, captions)
	}

	_, err := f.svc.GenerateCaptions(ctx, 1, captionRequest())
	require.Error(t, err)

	var limitErr *domain.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, domain.FreeCaptionLimit, limitErr.Used)
	assert.Equal(t, domain.FreeCaptionLimit, limitErr.Limit)
	assert.True(t, errors.Is(err, domain.ErrLimitExceeded))

	// Заблокированный вызов до генератора не дошел
	assert.Equal(t, domain.FreeCaptionLimit, f.gen.calls)
}

func TestGenerateCaptions_FailedGenerationConsumesNoCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.gen.err = errors.New("model timeout")
	_, err := f.svc.GenerateCaptions(ctx, 1, captionRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGenerationFailed))

	rec, err := f.svc.GetUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.FreeCaptionsUsed, "failed generation must not consume a credit")

	// После восстановления генератора кредит списывается как обычно
	f.gen.err = nil
	_, err = f.svc.GenerateCaptions(ctx, 1, captionRequest())
	require.NoError(t, err)

	rec, err = f.svc.GetUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FreeCaptionsUsed)
}

func TestRecordGeneration_CountsAgainstFreeLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < domain.FreeCaptionLimit; i++ {
		used, err := f.svc.RecordGeneration(ctx, 1)
		require.NoError(t, err, "call %d within free limit", i+1)
		assert.Equal(t, i+1, used)
	}

	// Сверх лимита учет отклоняется и счетчик не растет
	_, err := f.svc.RecordGeneration(ctx, 1)
	require.Error(t, err)

	var limitErr *domain.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, domain.FreeCaptionLimit, limitErr.Used)

	rec, err := f.svc.GetUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.FreeCaptionLimit, rec.FreeCaptionsUsed)
}

func TestGenerateCaptions_PlatformNotOnPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := captionRequest()
	req.Platform = domain.PlatformYouTube // нет в бесплатном тарифе

	_, err := f.svc.GenerateCaptions(ctx, 1, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPlatformNotAllowed))
	assert.Equal(t, 0, f.gen.calls)
}

func TestGenerateCaptions_FallbackDuringOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.down = true

	// Сервис продолжает работать от встроенного хранилища
	for i := 0; i < domain.FreeCaptionLimit; i++ {
		_, err := f.svc.GenerateCaptions(ctx, 2, captionRequest())
		require.NoError(t, err)
	}

	// И лимит соблюдается по fallback-счетчику
	_, err := f.svc.GenerateCaptions(ctx, 2, captionRequest())
	var limitErr *domain.LimitExceededError
	require.ErrorAs(t, err, &limitErr)

	rec, err := f.fallback.GetUsage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.FreeCaptionLimit, rec.FreeCaptionsUsed)
}

func TestGenerateCaptions_PersistentStoreWinsAfterRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Во время сбоя пользователь истратил весь лимит в fallback
	f.repo.down = true
	for i := 0; i < domain.FreeCaptionLimit; i++ {
		_, err := f.svc.GenerateCaptions(ctx, 3, captionRequest())
		require.NoError(t, err)
	}

	// База поднялась, в ней счетчик меньше
	f.repo.down = false
	_, err := f.repo.store.IncrementUsage(ctx, 3)
	require.NoError(t, err)

	rec, err := f.svc.GetUsage(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.FreeCaptionsUsed, "persistent store is the source of truth after recovery")

	// Fallback очищен, чтобы не расходиться с базой
	assert.Equal(t, 0, f.fallback.Len())
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active := domain.SubscriptionStatusActive
	past := time.Now().Add(-time.Hour)
	future := time.Now().AddDate(0, 1, 0)

	_, err := f.repo.store.UpsertSubscription(ctx, 1, domain.SubscriptionUpdate{Status: &active, NextBillingDate: &past})
	require.NoError(t, err)
	_, err = f.repo.store.UpsertSubscription(ctx, 2, domain.SubscriptionUpdate{Status: &active, NextBillingDate: &future})
	require.NoError(t, err)

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.svc.GetUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, rec.SubscriptionStatus)

	rec, err = f.svc.GetUsage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, rec.SubscriptionStatus)
}

func TestResetUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GenerateCaptions(ctx, 4, captionRequest())
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetUsage(ctx, 4))

	rec, err := f.svc.GetUsage(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.FreeCaptionsUsed)
}
