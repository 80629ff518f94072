package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/captioncrafter/entitlement-service/internal/app"
	"github.com/captioncrafter/entitlement-service/internal/http/handlers"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Промежуточное ПО для всех запросов
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	// Метрики Prometheus
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.MetricsRegistry, promhttp.HandlerOpts{})))

	// Группа API
	api := router.Group("/api/v1")
	{
		// Публичные маршруты (без аутентификации)
		// Обработчик вебхуков Whop: подпись проверяется в самом обработчике
		api.POST("/webhooks/whop", app.WebhookHandler.HandleWhopWebhook)

		// Здоровье сервиса
		api.GET("/health", handlers.HealthCheck)

		// Защищенные маршруты (требуют аутентификации)
		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())

		users := auth.Group("/users")
		{
			// Текущее использование пользователя
			users.GET("/:user_id/usage", app.UsageHandler.GetUsage)

			// Права пользователя: можно ли генерировать, остаток, фичи тарифа
			users.GET("/:user_id/entitlements", app.UsageHandler.GetEntitlements)

			// Генерация подписей (учитывается в лимите)
			users.POST("/:user_id/captions", app.CaptionHandler.GenerateCaptions)

			// Учет генерации, выполненной внешним сервисом
			users.POST("/:user_id/usage/record", app.UsageHandler.RecordGeneration)

			// Сброс счетчика бесплатных генераций
			users.POST("/:user_id/usage/reset", app.UsageHandler.ResetUsage)

			// Удаление записи пользователя
			users.DELETE("/:user_id", app.UsageHandler.DeleteUser)
		}
	}

	log.Infow("API routes successfully configured")
}
