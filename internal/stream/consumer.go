package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/classify"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/metrics"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

// MessageLog is the consumer-group message log contract
type MessageLog interface {
	EnsureGroup(ctx context.Context) error
	ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration) ([]Delivery, error)
	AutoClaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Delivery, error)
	DeliveryCount(ctx context.Context, id string) (int64, error)
	Ack(ctx context.Context, ids ...string) error
	PendingCount(ctx context.Context) (int64, error)
	Stream() string
}

// ResultStore persists posts and analysis results idempotently
type ResultStore interface {
	SaveResult(ctx context.Context, post models.Post, analysis models.AnalysisResult) (bool, error)
}

// FallbackClassifier is the ordered classifier chain contract
type FallbackClassifier interface {
	Classify(ctx context.Context, text string) (classify.Outcome, error)
}

// ConsumerConfig tunes the stream consumer
type ConsumerConfig struct {
	Workers            int           // parallel workers in this instance
	BatchSize          int64         // messages claimed per read
	Block              time.Duration // read blocking time when idle
	MaxDeliveries      int64         // deliveries before recording a degraded result
	ProcessingDeadline time.Duration // pending idle time before reclaim
	ClaimInterval      time.Duration // how often to scan for reclaimable messages
	SaveRetries        int
	SaveRetryBaseDelay time.Duration
	SaveRetryMaxDelay  time.Duration
}

// DefaultConsumerConfig returns sensible consumer defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:            2,
		BatchSize:          10,
		Block:              5 * time.Second,
		MaxDeliveries:      3,
		ProcessingDeadline: time.Minute,
		ClaimInterval:      30 * time.Second,
		SaveRetries:        3,
		SaveRetryBaseDelay: 100 * time.Millisecond,
		SaveRetryMaxDelay:  2 * time.Second,
	}
}

// Consumer pulls messages from the log under a shared consumer group,
// classifies them with fallback, persists results and acknowledges only
// after persistence succeeded. Acknowledged results are emitted on Events()
// in acknowledge order.
type Consumer struct {
	log        MessageLog
	classifier FallbackClassifier
	store      ResultStore
	logger     logging.Logger
	metrics    *metrics.Metrics
	cfg        ConsumerConfig

	events     chan models.ResultEvent
	savePolicy retrypolicy.RetryPolicy[any]
	healthy    atomic.Bool
	closeOnce  sync.Once
}

// NewConsumer creates a stream consumer
func NewConsumer(log MessageLog, classifier FallbackClassifier, store ResultStore, logger logging.Logger, m *metrics.Metrics, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}

	savePolicy := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.SaveRetryBaseDelay, cfg.SaveRetryMaxDelay).
		WithMaxRetries(cfg.SaveRetries).
		WithJitterFactor(0.1).
		Build()

	c := &Consumer{
		log:        log,
		classifier: classifier,
		store:      store,
		logger:     logger,
		metrics:    m,
		cfg:        cfg,
		events:     make(chan models.ResultEvent, 256),
		savePolicy: savePolicy,
	}
	c.healthy.Store(true)
	return c
}

// Events returns the ordered stream of acknowledged results
func (c *Consumer) Events() <-chan models.ResultEvent {
	return c.events
}

// Healthy reports whether the consumer can currently reach the message log
func (c *Consumer) Healthy() bool {
	return c.healthy.Load()
}

// Start runs the consumer until ctx is cancelled. Cancellation stops claiming
// new messages; in-flight work either completes or leaves its message
// unacknowledged for reclaim by another group member.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.log.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	instance := uuid.New().String()[:8]

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		name := fmt.Sprintf("worker-%s-%d", instance, i)
		go func() {
			defer wg.Done()
			c.runWorker(ctx, name)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runClaimLoop(ctx, fmt.Sprintf("reclaim-%s", instance))
	}()

	wg.Wait()
	c.closeOnce.Do(func() { close(c.events) })
	return ctx.Err()
}

func (c *Consumer) runWorker(ctx context.Context, name string) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, err := c.log.ReadGroup(ctx, name, c.cfg.BatchSize, c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Log unreachable: report unhealthy and keep retrying with backoff
			c.healthy.Store(false)
			c.logger.WithError(err).WithField("consumer", name).Error("Message log read failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		c.healthy.Store(true)
		backoff = time.Second

		for _, delivery := range deliveries {
			c.process(ctx, delivery)
		}
	}
}

func (c *Consumer) runClaimLoop(ctx context.Context, name string) {
	if c.cfg.ClaimInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deliveries, err := c.log.AutoClaim(ctx, name, c.cfg.ProcessingDeadline, c.cfg.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WithError(err).Warn("Reclaim scan failed")
				continue
			}
			if len(deliveries) > 0 {
				c.logger.WithField("count", len(deliveries)).Info("Reclaimed stale pending messages")
			}
			for _, delivery := range deliveries {
				c.process(ctx, delivery)
			}

			if c.metrics != nil {
				if pending, err := c.log.PendingCount(ctx); err == nil {
					c.metrics.PendingMessages.WithLabelValues(c.log.Stream()).Set(float64(pending))
				}
			}
		}
	}
}

// process handles a single delivery end to end. The message is acknowledged
// in exactly two cases: its payload is malformed, or its result (possibly
// degraded) has been durably persisted.
func (c *Consumer) process(ctx context.Context, delivery Delivery) {
	start := time.Now()

	post, err := parsePost(delivery.Values)
	if err != nil {
		var malformed *MalformedMessageError
		if errors.As(err, &malformed) {
			c.logger.WithError(err).WithField("message_id", delivery.ID).Warn("Dropping malformed message")
			c.count("malformed")
			if ackErr := c.log.Ack(ctx, delivery.ID); ackErr != nil {
				c.logger.WithError(ackErr).WithField("message_id", delivery.ID).Error("Failed to ack malformed message")
			}
			return
		}
		c.logger.WithError(err).WithField("message_id", delivery.ID).Error("Failed to parse message")
		return
	}

	analysis, ok := c.classifyWithFallback(ctx, delivery, post)
	if !ok {
		return
	}

	post.IngestedAt = time.Now().UTC()

	saveErr := failsafe.With(c.savePolicy).WithContext(ctx).Run(func() error {
		_, err := c.store.SaveResult(ctx, post, analysis)
		return err
	})
	if saveErr != nil {
		// Leave unacknowledged; the message is reclaimed and retried later
		c.logger.WithError(saveErr).WithFields(logging.Fields{
			"message_id": delivery.ID,
			"post_id":    post.PostID,
		}).Error("Persistence failed, leaving message unacknowledged")
		c.count("persist_failed")
		return
	}

	if err := c.log.Ack(ctx, delivery.ID); err != nil {
		// Redelivery after a failed ack is tolerated: persistence is idempotent
		c.logger.WithError(err).WithField("message_id", delivery.ID).Error("Failed to acknowledge message")
		return
	}

	c.count("processed")
	if c.metrics != nil {
		c.metrics.ProcessingDuration.WithLabelValues(c.log.Stream()).Observe(time.Since(start).Seconds())
	}

	event := models.ResultEvent{Post: post, Analysis: analysis}
	select {
	case c.events <- event:
	case <-ctx.Done():
	}
}

// classifyWithFallback runs the classifier chain. When the chain is exhausted
// the message is redelivered until MaxDeliveries, after which a degraded
// result is recorded instead of blocking the stream indefinitely.
func (c *Consumer) classifyWithFallback(ctx context.Context, delivery Delivery, post models.Post) (models.AnalysisResult, bool) {
	outcome, err := c.classifier.Classify(ctx, post.Content)
	if err == nil {
		if c.metrics != nil {
			c.metrics.ClassifierCalls.WithLabelValues(outcome.Source, "success").Inc()
		}
		return models.AnalysisResult{
			PostID:          post.PostID,
			ModelName:       outcome.Result.ModelName,
			SentimentLabel:  outcome.Result.SentimentLabel,
			ConfidenceScore: outcome.Result.ConfidenceScore,
			Emotion:         outcome.Result.Emotion,
			AnalyzedAt:      time.Now().UTC(),
		}, true
	}

	if ctx.Err() != nil {
		return models.AnalysisResult{}, false
	}

	if !errors.Is(err, classify.ErrExhausted) {
		c.logger.WithError(err).WithField("post_id", post.PostID).Error("Classifier chain failed")
	}
	if c.metrics != nil {
		c.metrics.ClassifierCalls.WithLabelValues("chain", "exhausted").Inc()
	}

	deliveries, countErr := c.log.DeliveryCount(ctx, delivery.ID)
	if countErr != nil {
		c.logger.WithError(countErr).WithField("message_id", delivery.ID).Warn("Could not read delivery count")
		deliveries = 1
	}

	if deliveries < c.cfg.MaxDeliveries {
		// Leave unacknowledged for redelivery
		c.logger.WithFields(logging.Fields{
			"post_id":    post.PostID,
			"deliveries": deliveries,
		}).Warn("Classification failed, message left for redelivery")
		c.count("retried")
		return models.AnalysisResult{}, false
	}

	// Retry budget exhausted: record a degraded result instead of losing throughput
	c.logger.WithFields(logging.Fields{
		"post_id":    post.PostID,
		"deliveries": deliveries,
	}).Warn("Classification retries exhausted, recording degraded result")
	c.count("degraded")

	return models.AnalysisResult{
		PostID:          post.PostID,
		ModelName:       models.ModelDegraded,
		SentimentLabel:  models.SentimentUnknown,
		ConfidenceScore: 0,
		Emotion:         models.EmotionNeutral,
		AnalyzedAt:      time.Now().UTC(),
	}, true
}

func (c *Consumer) count(status string) {
	if c.metrics != nil {
		c.metrics.StreamMessages.WithLabelValues(c.log.Stream(), status).Inc()
	}
}

// parsePost validates a raw log entry into a Post. Payload fields vary by
// producer; only the required set is enforced here.
func parsePost(values map[string]interface{}) (models.Post, error) {
	post := models.Post{
		PostID:  stringField(values, "post_id"),
		Source:  stringField(values, "source"),
		Content: stringField(values, "content"),
		Author:  stringField(values, "author"),
	}

	if post.PostID == "" {
		return models.Post{}, &MalformedMessageError{Reason: "missing post_id"}
	}
	if post.Source == "" {
		return models.Post{}, &MalformedMessageError{Reason: "missing source"}
	}
	if post.Content == "" {
		return models.Post{}, &MalformedMessageError{Reason: "missing content"}
	}

	rawCreated := stringField(values, "created_at")
	if rawCreated == "" {
		return models.Post{}, &MalformedMessageError{Reason: "missing created_at"}
	}
	createdAt, err := parseTimestamp(rawCreated)
	if err != nil {
		return models.Post{}, &MalformedMessageError{Reason: fmt.Sprintf("invalid created_at %q", rawCreated)}
	}
	post.CreatedAt = createdAt

	return post, nil
}

func stringField(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// parseTimestamp accepts RFC3339 and the producer's occasional zone-less
// ISO variant with a stray trailing Z.
func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	trimmed := strings.TrimSuffix(raw, "Z")
	if t, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", trimmed); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
