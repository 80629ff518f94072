package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/service"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/captioncrafter/entitlement-service/pkg/req"
	"github.com/captioncrafter/entitlement-service/pkg/res"
)

// CaptionHandler обрабатывает запросы на генерацию подписей.
type CaptionHandler struct {
	service service.UsageService
	log     *logger.Logger
}

// NewCaptionHandler создает новый экземпляр CaptionHandler.
func NewCaptionHandler(service service.UsageService, log *logger.Logger) *CaptionHandler {
	return &CaptionHandler{
		service: service,
		log:     log,
	}
}

type GenerateCaptionsResponse struct {
	UserID   int64            `json:"user_id"`
	Captions []domain.Caption `json:"captions"`
}

// GenerateCaptions обрабатывает POST /users/:user_id/captions.
// Отказ по лимиту - это бизнес-ответ (402 с PaywallResponse), а не
// ошибка сервера: клиент по нему рисует экран апгрейда.
func (h *CaptionHandler) GenerateCaptions(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUserID(c, h.log)
	if !ok {
		return
	}

	requestBody, err := req.HandleBody[domain.CaptionRequest](c.Writer, c.Request, h.log)
	if err != nil {
		return
	}

	captions, err := h.service.GenerateCaptions(ctx, userID, *requestBody)
	if err != nil {
		h.respondGenerateError(c, userID, err)
		return
	}

	res.JsonResponse(c.Writer, GenerateCaptionsResponse{
		UserID:   userID,
		Captions: captions,
	}, http.StatusOK)
}

func (h *CaptionHandler) respondGenerateError(c *gin.Context, userID int64, err error) {
	var limitErr *domain.LimitExceededError
	if errors.As(err, &limitErr) {
		h.log.Infow("Generation blocked by paywall", "userID", userID, "used", limitErr.Used)
		res.JsonResponse(c.Writer, res.PaywallResponse{
			UpgradeRequired: true,
			Message:         paywallMessage(limitErr.Limit),
			CaptionsUsed:    limitErr.Used,
			CaptionLimit:    limitErr.Limit,
		}, http.StatusPaymentRequired)
		return
	}

	if errors.Is(err, domain.ErrPlatformNotAllowed) {
		h.log.Infow("Platform not available on current plan", "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{
			Error:     "Platform not available on your plan",
			ErrorCode: http.StatusForbidden,
		}, http.StatusForbidden)
		return
	}

	if errors.Is(err, domain.ErrInvalidInput) {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid request data", Details: err.Error()}, http.StatusUnprocessableEntity)
		return
	}

	h.log.Errorw("Caption generation failed", "error", err, "userID", userID)
	res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Caption generation failed"}, http.StatusInternalServerError, h.log)
}

func paywallMessage(limit int) string {
	return fmt.Sprintf("Free limit of %d captions reached. Upgrade to continue.", limit)
}
