package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/captioncrafter/entitlement-service/internal/config"
	"github.com/captioncrafter/entitlement-service/internal/http/handlers"
	"github.com/captioncrafter/entitlement-service/internal/middleware"
	"github.com/captioncrafter/entitlement-service/internal/service"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config           *config.Config
	UsageService     service.UsageService
	Reconciler       service.ReconcilerService
	UsageHandler     *handlers.UsageHandler
	CaptionHandler   *handlers.CaptionHandler
	WebhookHandler   *handlers.WebhookHandler
	AuthMiddleware   *middleware.JWTMiddleware
	LoggerMiddleware gin.HandlerFunc
	MetricsRegistry  *prometheus.Registry
	Logger           *logger.Logger
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(cfg *config.Config, usageService service.UsageService, reconciler service.ReconcilerService, registry *prometheus.Registry, log *logger.Logger) *App {
	// Инициализируем обработчики HTTP
	usageHandler := handlers.NewUsageHandler(usageService, log)
	captionHandler := handlers.NewCaptionHandler(usageService, log)

	// Инициализируем обработчик вебхуков
	webhookHandler, err := handlers.NewWebhookHandler(cfg, reconciler, log)
	if err != nil {
		log.Fatalw("Failed to initialize webhook handler", "error", err)
	}

	// Инициализируем middleware аутентификации
	validator := &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}
	authMiddleware := middleware.NewJWTMiddleware(cfg, log, validator)

	// Инициализируем middleware логирования
	loggerMiddleware := middleware.RequestLogger(log)

	return &App{
		Config:           cfg,
		UsageService:     usageService,
		Reconciler:       reconciler,
		UsageHandler:     usageHandler,
		CaptionHandler:   captionHandler,
		WebhookHandler:   webhookHandler,
		AuthMiddleware:   authMiddleware,
		LoggerMiddleware: loggerMiddleware,
		MetricsRegistry:  registry,
		Logger:           log,
	}
}
