package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/captioncrafter/entitlement-service/internal/config"
	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/service"
	"github.com/captioncrafter/entitlement-service/internal/whop"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/captioncrafter/entitlement-service/pkg/res"
)

const (
	// Ограничение на размер тела запроса вебхука
	maxRequestBodySize = int64(65536)
)

// WebhookHandler обрабатывает входящие вебхуки от Whop.
type WebhookHandler struct {
	reconciler    service.ReconcilerService
	log           *logger.Logger
	webhookSecret string
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(cfg *config.Config, reconciler service.ReconcilerService, log *logger.Logger) (*WebhookHandler, error) {
	if cfg.Whop.WebhookSecret == "" {
		log.Errorw("Whop webhook secret is not configured in config.Whop.WebhookSecret")
		return nil, errors.New("whop webhook secret is not configured")
	}
	return &WebhookHandler{
		reconciler:    reconciler,
		log:           log,
		webhookSecret: cfg.Whop.WebhookSecret,
	}, nil
}

// HandleWhopWebhook - обработчик для Gin, принимающий вебхуки Whop.
// Провайдеру важно ответить быстро: вся небыстрая работа уходит в
// сервис реконсиляции и его фоновые задачи.
func (h *WebhookHandler) HandleWhopWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	// Читаем тело ОДИН РАЗ с ограничением размера
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		return
	}

	// Проверка подписи до какого-либо разбора тела
	sigHeader := c.GetHeader(whop.SignatureHeader)
	if err := whop.VerifySignature(h.webhookSecret, payload, sigHeader); err != nil {
		h.log.Warnw("Webhook signature verification failed", "error", err, "client_ip", c.ClientIP())
		res.JsonResponse(c.Writer, res.ErrorResponse{
			Error:     "Webhook signature verification failed",
			ErrorCode: http.StatusUnauthorized,
		}, http.StatusUnauthorized)
		return
	}

	var event domain.WebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		// Подпись верна, но тело не разбирается: ретраи провайдера с тем
		// же телом бессмысленны, отвечаем успехом и логируем
		h.log.Warnw("Failed to parse verified webhook payload, acknowledging anyway", "error", err)
		c.Status(http.StatusOK)
		return
	}

	h.log.Infow("Received verified Whop event", "eventType", event.EventType())

	if err := h.reconciler.ApplyWebhookEvent(ctx, event); err != nil {
		var payloadErr *domain.WebhookPayloadError
		if errors.As(err, &payloadErr) {
			// Неполная полезная нагрузка - постоянная проблема этого
			// события, а не наша: подтверждаем доставку
			c.Status(http.StatusOK)
			return
		}

		h.log.Errorw("Error processing webhook event", "error", err, "eventType", event.EventType())
		// Временная ошибка (например, хранилище недоступно и fallback
		// тоже отказал): отвечаем 500, провайдер повторит доставку
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error processing webhook"}, http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}
