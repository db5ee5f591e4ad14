package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kirillgpt_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kirillgpt_messages_processed_total",
		Help: "Total number of messages processed",
	}, []string{"status"})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kirillgpt_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kirillgpt_ai_request_duration_seconds",
		Help:    "Duration of generative AI requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "status"})

	aiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kirillgpt_ai_requests_total",
		Help: "Total number of generative AI requests",
	}, []string{"kind", "status"})

	aiRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirillgpt_ai_retries_total",
		Help: "Total number of retried text generation attempts",
	})

	// Settings cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirillgpt_settings_cache_hits_total",
		Help: "Total number of settings cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirillgpt_settings_cache_misses_total",
		Help: "Total number of settings cache misses",
	})

	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kirillgpt_rate_limit_exceeded_total",
		Help: "Total number of rate limit rejections",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kirillgpt_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kirillgpt_storage_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Admin broadcast metrics
	broadcastEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kirillgpt_broadcast_events_total",
		Help: "Total number of broadcast events published",
	}, []string{"type"})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kirillgpt_ws_connections",
		Help: "Number of authenticated admin WebSocket connections",
	})

	activeUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kirillgpt_active_users",
		Help: "Number of users with conversation history",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordMessageProcessed records a processed message
func (m *Metrics) RecordMessageProcessed(status string) {
	messagesProcessed.WithLabelValues(status).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordAIRequest records a generative request; kind is "text" or "image"
func (m *Metrics) RecordAIRequest(kind, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	aiRequestsTotal.WithLabelValues(kind, status).Inc()
}

// RecordAIRetry records a retried text attempt
func (m *Metrics) RecordAIRetry() {
	aiRetries.Inc()
}

// RecordCacheHit records a settings cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a settings cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitExceeded records a rate limit rejection
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBroadcastEvent records a published admin event
func (m *Metrics) RecordBroadcastEvent(eventType string) {
	broadcastEvents.WithLabelValues(eventType).Inc()
}

// SetWSConnections sets the number of live admin WebSocket connections
func (m *Metrics) SetWSConnections(count int) {
	wsConnections.Set(float64(count))
}

// SetActiveUsers sets the number of active users
func (m *Metrics) SetActiveUsers(count int) {
	activeUsers.Set(float64(count))
}

// StartMetricsServer serves metrics until ctx is cancelled
func StartMetricsServer(ctx context.Context, port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
