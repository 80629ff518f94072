package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/captioncrafter/entitlement-service/internal/app"
	"github.com/captioncrafter/entitlement-service/internal/caption"
	"github.com/captioncrafter/entitlement-service/internal/config"
	"github.com/captioncrafter/entitlement-service/internal/http/routes"
	"github.com/captioncrafter/entitlement-service/internal/kafka"
	"github.com/captioncrafter/entitlement-service/internal/metrics"
	"github.com/captioncrafter/entitlement-service/internal/repository"
	"github.com/captioncrafter/entitlement-service/internal/service"
	"github.com/captioncrafter/entitlement-service/internal/whop"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
)

// expirySweepInterval как часто помечать истекшие подписки
const expirySweepInterval = 24 * time.Hour

var log *logger.Logger

func init() {
	// Загружаем переменные окружения; отсутствие .env не ошибка
	_ = godotenv.Load()

	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus
	promRegistry := prometheus.NewRegistry()
	usageMetrics := metrics.NewUsageMetrics(promRegistry, log)

	// Подключение к базе данных
	dbPool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatalw("Failed to create database pool", "error", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		// Стартуем даже без базы: запросы пойдут во встроенное
		// хранилище, пока база не поднимется
		log.Warnw("Database unreachable at startup, running degraded", "error", err)
	}

	var repo repository.UsageRepository = repository.NewPostgresUsageRepository(dbPool, log)

	// Кеш Redis поверх постоянного хранилища, если он настроен
	if cfg.Redis.Addr != "" {
		cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warnw("Redis unavailable, continuing without cache", "error", err)
		} else {
			repo = repository.NewCachedUsageRepository(repo, cache, log)
		}
	}

	// Встроенное хранилище на случай недоступности базы
	fallback := repository.NewMemoryUsageStore(log)

	// Kafka продюсер событий подписок (опционален)
	var producer kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Warnw("Kafka unavailable, subscription events will not be published", "error", err)
			producer = nil
		} else {
			defer producer.Close()
		}
	}

	// Клиент Whop для перепроверки членств (опционален)
	var whopClient whop.Client
	if cfg.Whop.APIKey != "" {
		whopClient = whop.NewClient(cfg.Whop.APIKey, cfg.Whop.BaseURL, log)
	}

	// Генератор подписей: OpenAI с запасным шаблонным генератором
	templateGen := caption.NewTemplateGenerator(log)
	generator := caption.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, templateGen, log)

	usageService := service.NewUsageService(repo, fallback, generator, producer, usageMetrics, log)
	reconciler := service.NewReconcilerService(repo, fallback, whopClient, producer, usageMetrics, log)

	// Ежедневная пометка истекших подписок
	go runExpirySweep(ctx, usageService)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	application := app.NewApp(cfg, usageService, reconciler, promRegistry, log)

	router := gin.New()
	routes.SetupRoutes(router, application, log)

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	go func() {
		log.Infow("Starting HTTP server", "port", cfg.App.Port, "env", cfg.App.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("Server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("Shutting down server")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalw("Server forced to shutdown", "error", err)
	}

	log.Infow("Server stopped gracefully")
}

// runExpirySweep раз в сутки помечает истекшие активные подписки.
// Первый проход выполняется сразу при старте.
func runExpirySweep(ctx context.Context, svc service.UsageService) {
	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		n, err := svc.SweepExpired(sweepCtx)
		if err != nil {
			log.Errorw("Expiry sweep failed", "error", err)
			return
		}
		if n > 0 {
			log.Infow("Expiry sweep completed", "expired", n)
		}
	}

	sweep()

	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
