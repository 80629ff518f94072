package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// WebhookEventType тип события от коммерческого провайдера
type WebhookEventType string

const (
	WebhookEventSubscriptionCreated   WebhookEventType = "subscription.created"
	WebhookEventSubscriptionUpdated   WebhookEventType = "subscription.updated"
	WebhookEventSubscriptionCancelled WebhookEventType = "subscription.cancelled"
	WebhookEventMembershipWentValid   WebhookEventType = "membership.went_valid"
	WebhookEventMembershipWentInvalid WebhookEventType = "membership.went_invalid"
	WebhookEventPaymentSucceeded      WebhookEventType = "payment.succeeded"
	WebhookEventPaymentFailed         WebhookEventType = "payment.failed"
)

// FlexibleID числовой идентификатор, который провайдер присылает
// то числом, то строкой. 0 означает отсутствие значения.
type FlexibleID int64

// UnmarshalJSON принимает и `123`, и `"123"`; null и пустая строка дают 0
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = FlexibleID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexibleID(v)
	return nil
}

// WebhookData полезная нагрузка события
type WebhookData struct {
	UserID          FlexibleID `json:"user_id"`
	PlanID          string     `json:"plan_id,omitempty"`
	Status          string     `json:"status,omitempty"`
	BillingCycle    string     `json:"billing_cycle,omitempty"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	PaymentID       string     `json:"payment_id,omitempty"`
	PaymentMethodID string     `json:"payment_method_id,omitempty"`
	Amount          float64    `json:"amount,omitempty"`
	Currency        string     `json:"currency,omitempty"`
}

// WebhookPayload входящее вебхук-событие. Провайдер исторически
// присылает тип то в поле event, то в поле type.
type WebhookPayload struct {
	Event string      `json:"event,omitempty"`
	Type  string      `json:"type,omitempty"`
	Data  WebhookData `json:"data"`
}

// EventType возвращает тип события независимо от того, в каком поле он пришел
func (p WebhookPayload) EventType() WebhookEventType {
	if p.Event != "" {
		return WebhookEventType(p.Event)
	}
	return WebhookEventType(p.Type)
}

// DedupeKey ключ идемпотентности события: внешний ID платежа или подписки.
// Пустая строка означает, что дедупликация по ID невозможна.
func (p WebhookPayload) DedupeKey() string {
	if p.Data.PaymentID != "" {
		return string(p.EventType()) + ":" + p.Data.PaymentID
	}
	if p.Data.SubscriptionID != "" {
		return string(p.EventType()) + ":" + p.Data.SubscriptionID
	}
	return ""
}
