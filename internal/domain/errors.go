package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")

	// ErrLimitExceeded лимит бесплатных генераций исчерпан.
	// Это не ошибка системы, а нормальный исход проверки прав:
	// наружу уходит paywall-ответ, а не 5xx.
	ErrLimitExceeded = errors.New("free caption limit exceeded")

	// ErrInvalidWebhookPayload в событии отсутствуют или искажены
	// обязательные поля (например, user_id)
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrSignatureInvalid подпись вебхука не прошла проверку
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrGenerationFailed генерация подписей не удалась
	ErrGenerationFailed = errors.New("caption generation failed")

	// ErrPlatformNotAllowed платформа недоступна на текущем тарифе
	ErrPlatformNotAllowed = errors.New("platform not available on current plan")
)

// LimitExceededError ошибка превышения лимита с деталями для paywall-ответа
type LimitExceededError struct {
	Used  int
	Limit int
}

// Error реализует интерфейс error
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("free caption limit exceeded: %d of %d used", e.Used, e.Limit)
}

// Is позволяет errors.Is(err, ErrLimitExceeded)
func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// NewLimitExceededError создает новую ошибку превышения лимита
func NewLimitExceededError(used, limit int) *LimitExceededError {
	return &LimitExceededError{Used: used, Limit: limit}
}

// WebhookPayloadError ошибка разбора вебхук-события с указанием поля
type WebhookPayloadError struct {
	Field   string
	Message string
}

// Error реализует интерфейс error
func (e *WebhookPayloadError) Error() string {
	return fmt.Sprintf("invalid webhook payload: %s - %s", e.Field, e.Message)
}

// Is позволяет errors.Is(err, ErrInvalidWebhookPayload)
func (e *WebhookPayloadError) Is(target error) bool {
	return target == ErrInvalidWebhookPayload
}

// NewWebhookPayloadError создает новую ошибку разбора вебхука
func NewWebhookPayloadError(field, message string) *WebhookPayloadError {
	return &WebhookPayloadError{Field: field, Message: message}
}
