package main

import (
	"context"
	"time"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/aggregate"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/alerts"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/classify"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/config"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/database"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/handlers"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/metrics"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/monitoring"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/redis"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/server"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/store"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/stream"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/version"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/websocket"
)

const metricsBroadcastInterval = 10 * time.Second

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("barometer")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Barometer (sentiment stream pipeline)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("barometer", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("barometer", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		ClassifierCalls: metricsCollector.NewCounter("classifier_calls_total", "Classifier invocations", []string{"classifier", "status"}),
		HubConnections:  metricsCollector.NewGauge("websocket_hub_connections_active", "Active WebSocket hub connections", []string{"channel"}),
		HubMessages:     metricsCollector.NewCounter("websocket_hub_messages_total", "WebSocket hub messages", []string{"type", "direction"}),
		HubDropped:      metricsCollector.NewCounter("websocket_hub_dropped_total", "Messages shed from slow client queues", []string{"reason"}),
		AlertsFired:     metricsCollector.NewCounter("alerts_fired_total", "Alerts fired", []string{"rule"}),
	}
	serviceMetrics.StreamMessages, serviceMetrics.ProcessingDuration, serviceMetrics.PendingMessages = metricsCollector.CreateStreamMetrics()
	serviceMetrics.DBQueries, serviceMetrics.DBDuration, serviceMetrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Connect PostgreSQL
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	resultStore := store.NewStore(db, logger)

	if config.GetEnvBool("DB_AUTO_MIGRATE", true) {
		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := resultStore.EnsureSchema(migrateCtx); err != nil {
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
		migrateCancel()
	}

	// Connect Redis (message log and response cache)
	redisURL := config.RequireEnv("REDIS_URL")
	redisClient, err := redis.NewClientFromURL(context.Background(), redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Message log
	streamKey := config.GetEnv("STREAM_KEY", "social_posts")
	groupName := config.GetEnv("STREAM_GROUP", "sentiment-workers")
	messageLog := stream.NewLog(redisClient, streamKey, groupName)

	// Classifier chain: local lexicon first, external LLM as fallback
	chain := classify.NewChain(
		logger,
		config.GetEnvDuration("CLASSIFIER_TIMEOUT", 10*time.Second),
		classify.NewLexiconClassifier(),
		classify.NewExternalClassifier(classify.LoadExternalConfig()),
	)

	// Stream consumer
	consumerConfig := stream.DefaultConsumerConfig()
	consumerConfig.Workers = config.GetEnvInt("STREAM_WORKERS", consumerConfig.Workers)
	consumerConfig.BatchSize = int64(config.GetEnvInt("STREAM_BATCH_SIZE", int(consumerConfig.BatchSize)))
	consumerConfig.MaxDeliveries = int64(config.GetEnvInt("STREAM_MAX_DELIVERIES", int(consumerConfig.MaxDeliveries)))
	consumerConfig.ProcessingDeadline = config.GetEnvDuration("STREAM_PROCESSING_DEADLINE", consumerConfig.ProcessingDeadline)
	consumer := stream.NewConsumer(messageLog, chain, resultStore, logger, serviceMetrics, consumerConfig)

	// Alert rules are parsed before the cache so its event tail is sized to
	// cover the largest configured window
	rules := alerts.DefaultRules()
	rules[0].Window = config.GetEnvDuration("ALERT_WINDOW", rules[0].Window)
	rules[0].Threshold = config.GetEnvFloat("ALERT_THRESHOLD", rules[0].Threshold)
	rules[0].MinCount = int64(config.GetEnvInt("ALERT_MIN_COUNT", int(rules[0].MinCount)))
	rules[0].Cooldown = config.GetEnvDuration("ALERT_COOLDOWN", rules[0].Cooldown)

	// Aggregation cache
	cacheConfig := aggregate.DefaultConfig()
	cacheConfig.CacheTTL = config.GetEnvDuration("AGGREGATE_CACHE_TTL", cacheConfig.CacheTTL)
	for _, rule := range rules {
		if rule.Window > cacheConfig.MaxRuleWindow {
			cacheConfig.MaxRuleWindow = rule.Window
		}
	}
	cache := aggregate.New(resultStore, redisClient, logger, cacheConfig)

	rebuildCtx, rebuildCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := cache.Rebuild(rebuildCtx); err != nil {
		// Serve from an empty snapshot; reads fall through to the store
		logger.WithError(err).Warn("Cold aggregate rebuild failed, starting empty")
	}
	rebuildCancel()

	// Alert detector
	detector := alerts.NewDetector(cache, resultStore, logger, rules)
	detector.OnFired(func(rule string) {
		serviceMetrics.AlertsFired.WithLabelValues(rule).Inc()
	})

	// WebSocket hub
	hub := websocket.NewHub(logger)
	hub.SetHooks(
		func(n int) { serviceMetrics.HubConnections.WithLabelValues("live").Set(float64(n)) },
		func() { serviceMetrics.HubMessages.WithLabelValues("broadcast", "out").Inc() },
		func() { serviceMetrics.HubDropped.WithLabelValues("slow_client").Inc() },
	)
	go hub.Run()

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("message_log", monitoring.MessageLogHealthCheck(messageLog))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbConfig.URL,
		"REDIS_URL":    redisURL,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start stream consumer
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Stream consumer stopped")
		}
	}()

	// Dispatch acknowledged results to the cache, detector and hub in order
	go runDispatcher(ctx, consumer, cache, detector, hub, logger)

	// Broadcast fired alerts
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case alert := <-detector.Fired():
				hub.BroadcastEvent("alert", map[string]interface{}{
					"alert_type":      alert.AlertType,
					"threshold_value": alert.ThresholdValue,
					"actual_value":    alert.ActualValue,
					"window_start":    alert.WindowStart,
					"window_end":      alert.WindowEnd,
					"post_count":      alert.PostCount,
					"details":         alert.Details,
				})
			}
		}
	}()

	// Periodic live metrics broadcast
	go func() {
		ticker := time.NewTicker(metricsBroadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := cache.Snapshot()
				hub.BroadcastEvent("sentiment_update", map[string]interface{}{
					"distribution": snapshot.Distribution,
					"percentages":  snapshot.Percentages,
					"total":        snapshot.Total,
					"top_emotions": snapshot.TopEmotions,
				})
			}
		}
	}()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "barometer", healthChecker, metricsCollector)

	// Setup API and WebSocket routes
	apiHandlers := handlers.NewHandlers(resultStore, cache, hub, logger)
	apiHandlers.SetupRoutes(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("barometer", "8000")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

// runDispatcher is the single consumer of acknowledged results. It applies
// each result to the aggregate snapshot, evaluates alert rules and broadcasts
// the post, preserving acknowledge order end to end.
func runDispatcher(ctx context.Context, consumer *stream.Consumer, cache *aggregate.Cache, detector *alerts.Detector, hub *websocket.Hub, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-consumer.Events():
			if !ok {
				return
			}
			cache.Apply(event)
			detector.Evaluate(ctx)
			hub.BroadcastEvent("new_post", newPostPayload(event))
		}
	}
}

func newPostPayload(event models.ResultEvent) map[string]interface{} {
	return map[string]interface{}{
		"post_id":          event.Post.PostID,
		"source":           event.Post.Source,
		"content":          event.Post.Content,
		"author":           event.Post.Author,
		"created_at":       event.Post.CreatedAt,
		"sentiment_label":  event.Analysis.SentimentLabel,
		"confidence_score": event.Analysis.ConfidenceScore,
		"emotion":          event.Analysis.Emotion,
		"model_name":       event.Analysis.ModelName,
	}
}
