package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/middleware"
	"github.com/captioncrafter/entitlement-service/internal/service"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/captioncrafter/entitlement-service/pkg/res"
)

// UsageHandler обрабатывает HTTP запросы, связанные с использованием и правами.
type UsageHandler struct {
	service service.UsageService
	log     *logger.Logger
}

// NewUsageHandler создает новый экземпляр UsageHandler.
func NewUsageHandler(service service.UsageService, log *logger.Logger) *UsageHandler {
	return &UsageHandler{
		service: service,
		log:     log,
	}
}

// --- DTO ---

type UsageResponse struct {
	UserID             int64   `json:"user_id"`
	FreeCaptionsUsed   int     `json:"free_captions_used"`
	SubscriptionStatus string  `json:"subscription_status"`
	PlanID             *string `json:"plan_id,omitempty"`
	BillingCycle       *string `json:"billing_cycle,omitempty"`
	NextBillingDate    *string `json:"next_billing_date,omitempty"`
}

type RecordGenerationResponse struct {
	UserID       int64 `json:"user_id"`
	CaptionsUsed int   `json:"captions_used"`
}

// --- Обработчики ---

// GetUsage обрабатывает GET /users/:user_id/usage
func (h *UsageHandler) GetUsage(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUserID(c, h.log)
	if !ok {
		return
	}

	rec, err := h.service.GetUsage(ctx, userID)
	if err != nil {
		h.log.Errorw("Failed to get usage", "error", err, "userID", userID)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Failed to load usage"}, http.StatusInternalServerError, h.log)
		return
	}

	res.JsonResponse(c.Writer, toUsageResponse(rec), http.StatusOK)
}

// GetEntitlements обрабатывает GET /users/:user_id/entitlements
func (h *UsageHandler) GetEntitlements(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUserID(c, h.log)
	if !ok {
		return
	}

	ent, err := h.service.Entitlements(ctx, userID)
	if err != nil {
		h.log.Errorw("Failed to resolve entitlements", "error", err, "userID", userID)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Failed to resolve entitlements"}, http.StatusInternalServerError, h.log)
		return
	}

	res.JsonResponse(c.Writer, ent, http.StatusOK)
}

// RecordGeneration обрабатывает POST /users/:user_id/usage/record.
// Учитывает генерацию, выполненную вне этого сервиса; отказ по лимиту
// отдается как paywall, а не как ошибка.
func (h *UsageHandler) RecordGeneration(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUserID(c, h.log)
	if !ok {
		return
	}

	used, err := h.service.RecordGeneration(ctx, userID)
	if err != nil {
		var limitErr *domain.LimitExceededError
		if errors.As(err, &limitErr) {
			res.JsonResponse(c.Writer, res.PaywallResponse{
				UpgradeRequired: true,
				Message:         paywallMessage(limitErr.Limit),
				CaptionsUsed:    limitErr.Used,
				CaptionLimit:    limitErr.Limit,
			}, http.StatusPaymentRequired)
			return
		}
		h.log.Errorw("Failed to record generation", "error", err, "userID", userID)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Failed to record generation"}, http.StatusInternalServerError, h.log)
		return
	}

	res.JsonResponse(c.Writer, RecordGenerationResponse{UserID: userID, CaptionsUsed: used}, http.StatusOK)
}

// ResetUsage обрабатывает POST /users/:user_id/usage/reset
func (h *UsageHandler) ResetUsage(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUserID(c, h.log)
	if !ok {
		return
	}

	if err := h.service.ResetUsage(ctx, userID); err != nil {
		h.log.Errorw("Failed to reset usage", "error", err, "userID", userID)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Failed to reset usage"}, http.StatusInternalServerError, h.log)
		return
	}

	h.log.Infow("Usage counter reset", "userID", userID)
	c.Status(http.StatusNoContent)
}

// DeleteUser обрабатывает DELETE /users/:user_id
func (h *UsageHandler) DeleteUser(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := parseUserID(c, h.log)
	if !ok {
		return
	}

	if err := h.service.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.Status(http.StatusNoContent)
			return
		}
		h.log.Errorw("Failed to delete user record", "error", err, "userID", userID)
		res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: "Failed to delete user record"}, http.StatusInternalServerError, h.log)
		return
	}

	h.log.Infow("User usage record deleted", "userID", userID)
	c.Status(http.StatusNoContent)
}

// parseUserID разбирает :user_id из пути; при ошибке пишет 400 и
// возвращает false. Если аутентификация положила в контекст субъект
// токена, путь обязан совпадать с ним: чужие записи недоступны.
func parseUserID(c *gin.Context, log *logger.Logger) (int64, bool) {
	raw := c.Param("user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		log.Warnw("Invalid user_id in path", "raw", raw)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid user_id"}, http.StatusBadRequest)
		return 0, false
	}

	if v, exists := c.Get(string(middleware.ContextUserIDKey)); exists {
		if tokenID, ok := v.(int64); ok && tokenID != userID {
			log.Warnw("Token subject does not match path user_id", "tokenID", tokenID, "userID", userID)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Forbidden"}, http.StatusForbidden)
			return 0, false
		}
	}

	return userID, true
}

func toUsageResponse(rec domain.UsageRecord) UsageResponse {
	resp := UsageResponse{
		UserID:             rec.UserID,
		FreeCaptionsUsed:   rec.FreeCaptionsUsed,
		SubscriptionStatus: string(rec.SubscriptionStatus),
		PlanID:             rec.PlanID,
	}
	if rec.BillingCycle != nil {
		cycle := string(*rec.BillingCycle)
		resp.BillingCycle = &cycle
	}
	if rec.NextBillingDate != nil {
		date := rec.NextBillingDate.Format("2006-01-02T15:04:05Z07:00")
		resp.NextBillingDate = &date
	}
	return resp
}
