package metrics

import (
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UsageMetrics интерфейс для метрик генераций и биллинга
type UsageMetrics interface {
	IncCaptionGenerated(platform string)
	IncPaywallBlocked()
	IncWebhookEvent(eventType string, status string)
	IncStoreFallback(op string)
	IncSubscriptionExpired()
}

type usageMetrics struct {
	log               *logger.Logger
	captionsGenerated *prometheus.CounterVec
	paywallBlocked    prometheus.Counter
	webhookEvents     *prometheus.CounterVec
	storeFallbacks    *prometheus.CounterVec
	expiredSweeps     prometheus.Counter
}

// NewUsageMetrics создает новые метрики использования
func NewUsageMetrics(registry *prometheus.Registry, log *logger.Logger) UsageMetrics {
	captionsGenerated := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "captions_generated_total",
			Help: "The total number of generated captions by platform",
		},
		[]string{"platform"},
	)

	paywallBlocked := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "paywall_blocked_total",
			Help: "The total number of generation requests blocked by the free limit",
		},
	)

	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "The total number of processed webhook events by type and outcome",
		},
		[]string{"type", "status"},
	)

	storeFallbacks := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_store_fallback_total",
			Help: "The total number of operations served by the in-memory fallback store",
		},
		[]string{"op"},
	)

	expiredSweeps := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "The total number of subscriptions marked expired by the sweep",
		},
	)

	return &usageMetrics{
		log:               log,
		captionsGenerated: captionsGenerated,
		paywallBlocked:    paywallBlocked,
		webhookEvents:     webhookEvents,
		storeFallbacks:    storeFallbacks,
		expiredSweeps:     expiredSweeps,
	}
}

// IncCaptionGenerated увеличивает счетчик сгенерированных подписей
func (m *usageMetrics) IncCaptionGenerated(platform string) {
	m.captionsGenerated.WithLabelValues(platform).Inc()
}

// IncPaywallBlocked увеличивает счетчик заблокированных запросов
func (m *usageMetrics) IncPaywallBlocked() {
	m.paywallBlocked.Inc()
}

// IncWebhookEvent увеличивает счетчик вебхук-событий
func (m *usageMetrics) IncWebhookEvent(eventType string, status string) {
	m.webhookEvents.WithLabelValues(eventType, status).Inc()
}

// IncStoreFallback увеличивает счетчик операций через fallback-хранилище
func (m *usageMetrics) IncStoreFallback(op string) {
	m.storeFallbacks.WithLabelValues(op).Inc()
}

// IncSubscriptionExpired увеличивает счетчик истекших подписок
func (m *usageMetrics) IncSubscriptionExpired() {
	m.expiredSweeps.Inc()
}

// NoOpMetrics возвращает метрики-заглушку (для тестов)
func NoOpMetrics() UsageMetrics {
	return NewUsageMetrics(prometheus.NewRegistry(), logger.New(logger.ERROR))
}
