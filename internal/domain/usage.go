package domain

import (
	"time"
)

// SubscriptionStatus статус подписки пользователя
type SubscriptionStatus string

const (
	SubscriptionStatusInactive      SubscriptionStatus = "inactive"
	SubscriptionStatusActive        SubscriptionStatus = "active"
	SubscriptionStatusCancelled     SubscriptionStatus = "cancelled"
	SubscriptionStatusPaymentFailed SubscriptionStatus = "payment_failed"
	SubscriptionStatusExpired       SubscriptionStatus = "expired"
)

// BillingCycle период оплаты подписки
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// UsageRecord представляет собой запись использования для одного пользователя.
// Создается при первом контакте (первый логин или первый вебхук) и
// удаляется только по явному запросу на удаление аккаунта.
type UsageRecord struct {
	UserID                 int64              `json:"user_id"`
	FreeCaptionsUsed       int                `json:"free_captions_used"`
	SubscriptionStatus     SubscriptionStatus `json:"subscription_status"`
	PlanID                 *string            `json:"plan_id,omitempty"`
	BillingCycle           *BillingCycle      `json:"billing_cycle,omitempty"`
	NextBillingDate        *time.Time         `json:"next_billing_date,omitempty"`
	SubscriptionStartDate  *time.Time         `json:"subscription_start_date,omitempty"`
	PaymentMethodID        *string            `json:"payment_method_id,omitempty"`
	ExternalSubscriptionID *string            `json:"external_subscription_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// NewUsageRecord возвращает запись по умолчанию для пользователя,
// которого хранилище еще не видело: счетчик 0, подписка неактивна.
func NewUsageRecord(userID int64) UsageRecord {
	now := time.Now()
	return UsageRecord{
		UserID:             userID,
		FreeCaptionsUsed:   0,
		SubscriptionStatus: SubscriptionStatusInactive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// SubscriptionUpdate частичное обновление полей подписки.
// nil-поля не трогаются (семантика COALESCE в хранилище).
// ClearPlan сбрасывает plan_id и биллинговые поля в NULL:
// COALESCE сам по себе не умеет очищать значения.
type SubscriptionUpdate struct {
	Status                 *SubscriptionStatus
	PlanID                 *string
	BillingCycle           *BillingCycle
	NextBillingDate        *time.Time
	SubscriptionStartDate  *time.Time
	PaymentMethodID        *string
	ExternalSubscriptionID *string
	ClearPlan              bool
}

// Apply накладывает обновление на запись. Используется in-memory
// хранилищем; Postgres делает то же самое на уровне SQL.
func (u SubscriptionUpdate) Apply(rec *UsageRecord) {
	if u.Status != nil {
		rec.SubscriptionStatus = *u.Status
	}
	if u.PlanID != nil {
		rec.PlanID = u.PlanID
	}
	if u.BillingCycle != nil {
		rec.BillingCycle = u.BillingCycle
	}
	if u.NextBillingDate != nil {
		rec.NextBillingDate = u.NextBillingDate
	}
	if u.SubscriptionStartDate != nil {
		rec.SubscriptionStartDate = u.SubscriptionStartDate
	}
	if u.PaymentMethodID != nil {
		rec.PaymentMethodID = u.PaymentMethodID
	}
	if u.ExternalSubscriptionID != nil {
		rec.ExternalSubscriptionID = u.ExternalSubscriptionID
	}
	if u.ClearPlan {
		rec.PlanID = nil
		rec.BillingCycle = nil
		rec.NextBillingDate = nil
		rec.PaymentMethodID = nil
	}
	rec.UpdatedAt = time.Now()
}
