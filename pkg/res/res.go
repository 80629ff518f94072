package res

import (
	"encoding/json"
	"net/http"

	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// ErrorResponse представляет формат JSON-ответа для ошибок.
type ErrorResponse struct {
	Error     string `json:"error"`                // Сообщение об ошибке (для пользователя)
	ErrorCode int    `json:"error_code,omitempty"` // Код ошибки (для программной обработки)
	Details   any    `json:"details,omitempty"`    // Детали ошибки (например, ошибки валидации)
}

// PaywallResponse отдельный формат ответа для случая, когда лимит
// бесплатных генераций исчерпан. Это не ошибка сервера, а сигнал
// клиенту показать экран апгрейда.
type PaywallResponse struct {
	UpgradeRequired bool   `json:"upgrade_required"`
	Message         string `json:"message"`
	CaptionsUsed    int    `json:"captions_used"`
	CaptionLimit    int    `json:"caption_limit"`
}

// JsonResponse отправляет JSON-ответ с заданным статусом.
func JsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// JsonErrorResponse отправляет JSON ответ ошибки и логирует ее.
func JsonErrorResponse(w http.ResponseWriter, errResponse ErrorResponse, status int, log *logger.Logger) {
	JsonResponse(w, errResponse, status)
	log.Errorw("Error response sent", "status", status, "error", errResponse.Error)
}
