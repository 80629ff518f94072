package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Схема таблицы usage_records:
//
//	CREATE TABLE usage_records (
//	    user_id                  BIGINT PRIMARY KEY,
//	    free_captions_used       INTEGER NOT NULL DEFAULT 0,
//	    subscription_status      TEXT NOT NULL DEFAULT 'inactive',
//	    plan_id                  TEXT,
//	    billing_cycle            TEXT,
//	    next_billing_date        TIMESTAMPTZ,
//	    subscription_start_date  TIMESTAMPTZ,
//	    payment_method_id        TEXT,
//	    external_subscription_id TEXT,
//	    created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
//	);

const usageColumns = `user_id, free_captions_used, subscription_status, plan_id, billing_cycle,
       next_billing_date, subscription_start_date, payment_method_id, external_subscription_id,
       created_at, updated_at`

// postgresUsageRepo реализует UsageRepository для PostgreSQL
type postgresUsageRepo struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresUsageRepository создает новый экземпляр репозитория для PostgreSQL
func NewPostgresUsageRepository(pool *pgxpool.Pool, log *logger.Logger) UsageRepository {
	return &postgresUsageRepo{
		pool: pool,
		log:  log,
	}
}

// GetUsage возвращает запись пользователя; отсутствие строки - не ошибка
func (r *postgresUsageRepo) GetUsage(ctx context.Context, userID int64) (domain.UsageRecord, error) {
	query := `
        SELECT ` + usageColumns + `
        FROM usage_records
        WHERE user_id = $1`

	row := r.pool.QueryRow(ctx, query, userID)
	rec, err := scanUsageRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.log.Debugw("Usage record not found, returning default", "userID", userID)
			return domain.NewUsageRecord(userID), nil
		}
		r.log.Errorw("Failed to get usage record from DB", "error", err, "userID", userID)
		return domain.UsageRecord{}, fmt.Errorf("%w: get usage: %v", ErrStoreUnavailable, err)
	}

	return rec, nil
}

// IncrementUsage атомарно увеличивает счетчик одним SQL-выражением.
// Два конкурентных запроса не могут потерять инкремент: сложение
// выполняет база, а не приложение.
func (r *postgresUsageRepo) IncrementUsage(ctx context.Context, userID int64) (int, error) {
	query := `
        INSERT INTO usage_records (user_id, free_captions_used, subscription_status)
        VALUES ($1, 1, 'inactive')
        ON CONFLICT (user_id) DO UPDATE
        SET free_captions_used = usage_records.free_captions_used + 1,
            updated_at         = now()
        RETURNING free_captions_used`

	var used int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&used); err != nil {
		r.log.Errorw("Failed to increment usage in DB", "error", err, "userID", userID)
		return 0, fmt.Errorf("%w: increment usage: %v", ErrStoreUnavailable, err)
	}

	r.log.Debugw("Usage incremented", "userID", userID, "used", used)
	return used, nil
}

// UpsertSubscription частично обновляет поля подписки.
// COALESCE оставляет неуказанные поля нетронутыми; флаг clear_plan
// ($9) сбрасывает биллинговые поля в NULL при отмене подписки.
func (r *postgresUsageRepo) UpsertSubscription(ctx context.Context, userID int64, update domain.SubscriptionUpdate) (domain.UsageRecord, error) {
	query := `
        INSERT INTO usage_records (
            user_id, free_captions_used, subscription_status, plan_id, billing_cycle,
            next_billing_date, subscription_start_date, payment_method_id, external_subscription_id
        ) VALUES (
            $1, 0, COALESCE($2, 'inactive'), $3, $4, $5, $6, $7, $8
        )
        ON CONFLICT (user_id) DO UPDATE SET
            subscription_status      = COALESCE($2, usage_records.subscription_status),
            plan_id                  = CASE WHEN $9 THEN NULL ELSE COALESCE($3, usage_records.plan_id) END,
            billing_cycle            = CASE WHEN $9 THEN NULL ELSE COALESCE($4, usage_records.billing_cycle) END,
            next_billing_date        = CASE WHEN $9 THEN NULL ELSE COALESCE($5, usage_records.next_billing_date) END,
            subscription_start_date  = COALESCE($6, usage_records.subscription_start_date),
            payment_method_id        = CASE WHEN $9 THEN NULL ELSE COALESCE($7, usage_records.payment_method_id) END,
            external_subscription_id = COALESCE($8, usage_records.external_subscription_id),
            updated_at               = now()
        RETURNING ` + usageColumns

	var status, cycle *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}
	if update.BillingCycle != nil {
		c := string(*update.BillingCycle)
		cycle = &c
	}

	row := r.pool.QueryRow(ctx, query,
		userID, status, update.PlanID, cycle,
		update.NextBillingDate, update.SubscriptionStartDate,
		update.PaymentMethodID, update.ExternalSubscriptionID,
		update.ClearPlan,
	)

	rec, err := scanUsageRecord(row)
	if err != nil {
		r.log.Errorw("Failed to upsert subscription in DB", "error", err, "userID", userID)
		return domain.UsageRecord{}, fmt.Errorf("%w: upsert subscription: %v", ErrStoreUnavailable, err)
	}

	r.log.Debugw("Subscription upserted", "userID", userID, "status", rec.SubscriptionStatus)
	return rec, nil
}

// ResetUsage сбрасывает счетчик бесплатных генераций
func (r *postgresUsageRepo) ResetUsage(ctx context.Context, userID int64) error {
	query := `
        UPDATE usage_records
        SET free_captions_used = 0, updated_at = now()
        WHERE user_id = $1`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		r.log.Errorw("Failed to reset usage in DB", "error", err, "userID", userID)
		return fmt.Errorf("%w: reset usage: %v", ErrStoreUnavailable, err)
	}

	r.log.Infow("Usage reset", "userID", userID)
	return nil
}

// Delete удаляет запись пользователя
func (r *postgresUsageRepo) Delete(ctx context.Context, userID int64) error {
	query := `DELETE FROM usage_records WHERE user_id = $1`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		r.log.Errorw("Failed to delete usage record from DB", "error", err, "userID", userID)
		return fmt.Errorf("%w: delete usage record: %v", ErrStoreUnavailable, err)
	}

	r.log.Infow("Usage record deleted", "userID", userID)
	return nil
}

// ListExpired возвращает пользователей с истекшей активной подпиской
func (r *postgresUsageRepo) ListExpired(ctx context.Context, now time.Time) ([]int64, error) {
	query := `
        SELECT user_id
        FROM usage_records
        WHERE subscription_status = 'active'
          AND next_billing_date IS NOT NULL
          AND next_billing_date < $1`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		r.log.Errorw("Failed to list expired subscriptions", "error", err)
		return nil, fmt.Errorf("%w: list expired: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan expired row: %v", ErrStoreUnavailable, err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate expired rows: %v", ErrStoreUnavailable, err)
	}

	return userIDs, nil
}

// scanUsageRecord читает одну строку usage_records
func scanUsageRecord(row pgx.Row) (domain.UsageRecord, error) {
	var rec domain.UsageRecord
	var status string
	var cycle *string

	err := row.Scan(
		&rec.UserID, &rec.FreeCaptionsUsed, &status, &rec.PlanID, &cycle,
		&rec.NextBillingDate, &rec.SubscriptionStartDate, &rec.PaymentMethodID,
		&rec.ExternalSubscriptionID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.UsageRecord{}, err
	}

	rec.SubscriptionStatus = domain.SubscriptionStatus(status)
	if cycle != nil {
		bc := domain.BillingCycle(*cycle)
		rec.BillingCycle = &bc
	}
	return rec, nil
}
