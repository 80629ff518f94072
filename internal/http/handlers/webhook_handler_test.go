package handlers_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/captioncrafter/entitlement-service/internal/config"
	"github.com/captioncrafter/entitlement-service/internal/domain"
	"github.com/captioncrafter/entitlement-service/internal/http/handlers"
	"github.com/captioncrafter/entitlement-service/internal/repository"
	"github.com/captioncrafter/entitlement-service/internal/whop"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

const testWebhookSecret = "whsec_test"

// stubReconciler записывает примененные события
type stubReconciler struct {
	applied []domain.WebhookPayload
	err     error
}

func (s *stubReconciler) ApplyWebhookEvent(ctx context.Context, payload domain.WebhookPayload) error {
	s.applied = append(s.applied, payload)
	return s.err
}

func newWebhookRouter(t *testing.T, reconciler *stubReconciler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Whop.WebhookSecret = testWebhookSecret

	handler, err := handlers.NewWebhookHandler(cfg, reconciler, logger.New(logger.ERROR))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/v1/webhooks/whop", handler.HandleWhopWebhook)
	return router
}

func postWebhook(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/whop", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(whop.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleWhopWebhook_ValidEvent(t *testing.T) {
	reconciler := &stubReconciler{}
	router := newWebhookRouter(t, reconciler)

	body := []byte(`{"event":"payment.succeeded","data":{"user_id":42,"plan_id":"plan_pro","payment_id":"pay_1"}}`)
	w := postWebhook(router, body, whop.SignPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, reconciler.applied, 1)
	assert.Equal(t, domain.WebhookEventPaymentSucceeded, reconciler.applied[0].EventType())
	assert.Equal(t, int64(42), int64(reconciler.applied[0].Data.UserID))
}

func TestHandleWhopWebhook_InvalidSignatureRejected(t *testing.T) {
	reconciler := &stubReconciler{}
	router := newWebhookRouter(t, reconciler)

	body := []byte(`{"event":"payment.succeeded","data":{"user_id":42}}`)

	w := postWebhook(router, body, whop.SignPayload("wrong_secret", body))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postWebhook(router, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// До сервиса неподписанные события не доходят
	assert.Empty(t, reconciler.applied)
}

func TestHandleWhopWebhook_MissingUserIDStillAcknowledged(t *testing.T) {
	reconciler := &stubReconciler{err: domain.NewWebhookPayloadError("user_id", "missing")}
	router := newWebhookRouter(t, reconciler)

	body := []byte(`{"event":"subscription.created","data":{"plan_id":"plan_pro"}}`)
	w := postWebhook(router, body, whop.SignPayload(testWebhookSecret, body))

	// Неполное событие - проблема события, а не доставки: отвечаем 200,
	// чтобы провайдер не ретраил бесполезное тело
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleWhopWebhook_StoreOutageReturnsServerError(t *testing.T) {
	reconciler := &stubReconciler{err: fmt.Errorf("%w: connection refused", repository.ErrStoreUnavailable)}
	router := newWebhookRouter(t, reconciler)

	body := []byte(`{"event":"payment.succeeded","data":{"user_id":90,"payment_id":"pay_90"}}`)
	w := postWebhook(router, body, whop.SignPayload(testWebhookSecret, body))

	// 5xx заставляет провайдера повторить доставку после восстановления базы
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleWhopWebhook_UnparseableBodyAcknowledged(t *testing.T) {
	reconciler := &stubReconciler{}
	router := newWebhookRouter(t, reconciler)

	body := []byte(`not json at all`)
	w := postWebhook(router, body, whop.SignPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, reconciler.applied)
}

func TestHandleWhopWebhook_StringUserIDAccepted(t *testing.T) {
	reconciler := &stubReconciler{}
	router := newWebhookRouter(t, reconciler)

	body := []byte(`{"type":"membership.went_valid","data":{"user_id":"77","plan_id":"plan_basic"}}`)
	w := postWebhook(router, body, whop.SignPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, reconciler.applied, 1)
	assert.Equal(t, int64(77), int64(reconciler.applied[0].Data.UserID))
	assert.Equal(t, domain.WebhookEventMembershipWentValid, reconciler.applied[0].EventType())
}
