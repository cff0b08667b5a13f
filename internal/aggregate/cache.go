package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

// StoreReader is the persistence read path the cache rebuilds from
type StoreReader interface {
	SentimentCounts(ctx context.Context, since time.Time, source string) (map[string]int64, error)
	EmotionCounts(ctx context.Context, since time.Time, source string) (map[string]int64, error)
	Series(ctx context.Context, period string, start, end time.Time, source string) ([]models.SeriesPoint, error)
}

// Config tunes the aggregation cache
type Config struct {
	Retention     time.Duration // how far back in-memory buckets are kept
	Bucket        time.Duration // in-memory bucket granularity
	CacheTTL      time.Duration // Redis response cache TTL
	MaxRuleWindow time.Duration // longest alert window that must be answerable
}

// DefaultConfig returns sensible cache defaults
func DefaultConfig() Config {
	return Config{
		Retention:     7 * 24 * time.Hour,
		Bucket:        time.Hour,
		CacheTTL:      60 * time.Second,
		MaxRuleWindow: 15 * time.Minute,
	}
}

type recentEvent struct {
	at    time.Time
	label string
}

// Cache owns the rolling aggregate snapshot. All mutation goes through
// Apply and Rebuild (single-writer); reads get immutable copies. Query
// responses are additionally cached in Redis with a short TTL so dashboard
// polling does not hammer the store.
type Cache struct {
	store  StoreReader
	redis  goredis.UniversalClient
	logger logging.Logger
	cfg    Config

	mu       sync.RWMutex
	labels   map[string]int64
	emotions map[string]int64
	buckets  map[time.Time]map[string]int64
	total    int64
	recent   []recentEvent

	sf singleflight.Group
}

// New creates an aggregation cache. redis may be nil; response caching is
// then skipped and every read goes to the store.
func New(store StoreReader, redis goredis.UniversalClient, logger logging.Logger, cfg Config) *Cache {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.Bucket <= 0 {
		cfg.Bucket = time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.MaxRuleWindow <= 0 {
		cfg.MaxRuleWindow = 15 * time.Minute
	}
	return &Cache{
		store:    store,
		redis:    redis,
		logger:   logger,
		cfg:      cfg,
		labels:   make(map[string]int64),
		emotions: make(map[string]int64),
		buckets:  make(map[time.Time]map[string]int64),
	}
}

// Rebuild repopulates the in-memory snapshot from the store. Used on cold
// start; the snapshot is never authoritative and can be rebuilt at any time.
func (c *Cache) Rebuild(ctx context.Context) error {
	since := time.Now().UTC().Add(-c.cfg.Retention)

	labels, err := c.store.SentimentCounts(ctx, since, "")
	if err != nil {
		return fmt.Errorf("rebuild sentiment counts: %w", err)
	}
	emotions, err := c.store.EmotionCounts(ctx, since, "")
	if err != nil {
		return fmt.Errorf("rebuild emotion counts: %w", err)
	}
	series, err := c.store.Series(ctx, bucketPeriod(c.cfg.Bucket), since, time.Now().UTC(), "")
	if err != nil {
		return fmt.Errorf("rebuild series: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.labels = make(map[string]int64, len(labels))
	c.total = 0
	for label, count := range labels {
		c.labels[label] = count
		c.total += count
	}
	c.emotions = make(map[string]int64, len(emotions))
	for emotion, count := range emotions {
		c.emotions[emotion] = count
	}
	c.buckets = make(map[time.Time]map[string]int64, len(series))
	for _, point := range series {
		c.buckets[point.Timestamp.UTC()] = map[string]int64{
			models.SentimentPositive: point.PositiveCount,
			models.SentimentNegative: point.NegativeCount,
			models.SentimentNeutral:  point.NeutralCount,
		}
	}
	c.recent = nil

	c.logger.WithFields(logging.Fields{
		"total":   c.total,
		"buckets": len(c.buckets),
	}).Info("Aggregate snapshot rebuilt from store")
	return nil
}

// Apply folds one analysis result into the snapshot in O(1). Buckets older
// than the retention horizon are evicted lazily here.
func (c *Cache) Apply(event models.ResultEvent) {
	analyzedAt := event.Analysis.AnalyzedAt.UTC()
	bucket := analyzedAt.Truncate(c.cfg.Bucket)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.labels[event.Analysis.SentimentLabel]++
	c.emotions[event.Analysis.Emotion]++
	c.total++

	counts, ok := c.buckets[bucket]
	if !ok {
		counts = make(map[string]int64, 3)
		c.buckets[bucket] = counts
	}
	counts[event.Analysis.SentimentLabel]++

	c.recent = append(c.recent, recentEvent{at: analyzedAt, label: event.Analysis.SentimentLabel})
	c.pruneLocked(time.Now().UTC())
}

func (c *Cache) pruneLocked(now time.Time) {
	horizon := now.Add(-c.cfg.Retention)
	for bucket, counts := range c.buckets {
		if bucket.Before(horizon) {
			for label, count := range counts {
				c.labels[label] -= count
				c.total -= count
			}
			delete(c.buckets, bucket)
		}
	}

	windowHorizon := now.Add(-c.cfg.MaxRuleWindow)
	cut := 0
	for cut < len(c.recent) && c.recent[cut].at.Before(windowHorizon) {
		cut++
	}
	if cut > 0 {
		c.recent = append([]recentEvent(nil), c.recent[cut:]...)
	}
}

// WindowCounts returns per-label counts for a sliding window ending now,
// answered from the in-memory event tail.
func (c *Cache) WindowCounts(window time.Duration) models.WindowCounts {
	cutoff := time.Now().UTC().Add(-window)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var counts models.WindowCounts
	for _, e := range c.recent {
		if e.at.Before(cutoff) {
			continue
		}
		switch e.label {
		case models.SentimentPositive:
			counts.Positive++
		case models.SentimentNegative:
			counts.Negative++
		case models.SentimentNeutral:
			counts.Neutral++
		}
	}
	return counts
}

// Snapshot returns the current running distribution as an immutable copy.
// It backs the periodic metrics broadcast.
func (c *Cache) Snapshot() models.Distribution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dist := make(map[string]int64, 3)
	for _, label := range []string{models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral} {
		dist[label] = c.labels[label]
	}

	return models.Distribution{
		Distribution: dist,
		Percentages:  Percentages(dist),
		Total:        c.total,
		TopEmotions:  topEmotions(c.emotions, 3),
		CachedAt:     time.Now().UTC(),
	}
}

// MemorySeries returns the in-memory bucket series between start and end,
// ordered by bucket time. It must agree with a cold rebuild from the store
// over the same range.
func (c *Cache) MemorySeries(start, end time.Time) []models.SeriesPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := make([]models.SeriesPoint, 0, len(c.buckets))
	for bucket, counts := range c.buckets {
		if bucket.Before(start) || bucket.After(end) {
			continue
		}
		points = append(points, models.SeriesPoint{
			Timestamp:     bucket,
			PositiveCount: counts[models.SentimentPositive],
			NegativeCount: counts[models.SentimentNegative],
			NeutralCount:  counts[models.SentimentNeutral],
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points
}

// Distribution answers the "distribution over last H hours" read query:
// Redis response cache first, then a store scan, collapsed by singleflight.
func (c *Cache) Distribution(ctx context.Context, hours int, source string) (models.Distribution, error) {
	key := fmt.Sprintf("sentiment:distribution:%d:%s", hours, orAll(source))

	if cached, ok := c.readCached(ctx, key); ok {
		var dist models.Distribution
		if err := json.Unmarshal(cached, &dist); err == nil {
			dist.Cached = true
			return dist, nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

		counts, err := c.store.SentimentCounts(ctx, since, source)
		if err != nil {
			return nil, err
		}
		emotions, err := c.store.EmotionCounts(ctx, since, source)
		if err != nil {
			return nil, err
		}

		dist := make(map[string]int64, 3)
		var total int64
		for _, label := range []string{models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral} {
			dist[label] = counts[label]
			total += counts[label]
		}

		response := models.Distribution{
			TimeframeHours: hours,
			Source:         source,
			Distribution:   dist,
			Percentages:    Percentages(dist),
			Total:          total,
			TopEmotions:    topEmotions(emotions, 3),
			CachedAt:       time.Now().UTC(),
		}

		c.writeCached(ctx, key, response)
		return response, nil
	})
	if err != nil {
		return models.Distribution{}, fmt.Errorf("distribution query: %w", err)
	}
	return result.(models.Distribution), nil
}

// SeriesCached answers the "aggregate series by period" read query with the
// same Redis-then-store strategy.
func (c *Cache) SeriesCached(ctx context.Context, period string, start, end time.Time, source string) ([]models.SeriesPoint, error) {
	key := fmt.Sprintf("sentiment:series:%s:%d:%d:%s", period, start.Unix(), end.Unix(), orAll(source))

	if cached, ok := c.readCached(ctx, key); ok {
		var points []models.SeriesPoint
		if err := json.Unmarshal(cached, &points); err == nil {
			return points, nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		points, err := c.store.Series(ctx, period, start, end, source)
		if err != nil {
			return nil, err
		}
		c.writeCached(ctx, key, points)
		return points, nil
	})
	if err != nil {
		return nil, fmt.Errorf("series query: %w", err)
	}
	return result.([]models.SeriesPoint), nil
}

func (c *Cache) readCached(ctx context.Context, key string) ([]byte, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *Cache) writeCached(ctx context.Context, key string, value interface{}) {
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, payload, c.cfg.CacheTTL).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Response cache write failed")
	}
}

// Percentages converts per-label counts into percentages that sum to 100
// within rounding (two decimal places).
func Percentages(counts map[string]int64) map[string]float64 {
	var total int64
	for _, count := range counts {
		total += count
	}

	percentages := make(map[string]float64, len(counts))
	for label, count := range counts {
		if total == 0 {
			percentages[label] = 0
			continue
		}
		percentages[label] = math.Round(float64(count)/float64(total)*100*100) / 100
	}
	return percentages
}

func topEmotions(counts map[string]int64, n int) map[string]int64 {
	type kv struct {
		emotion string
		count   int64
	}
	sorted := make([]kv, 0, len(counts))
	for emotion, count := range counts {
		if count > 0 {
			sorted = append(sorted, kv{emotion, count})
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].emotion < sorted[j].emotion
	})

	top := make(map[string]int64, n)
	for i, e := range sorted {
		if i >= n {
			break
		}
		top[e.emotion] = e.count
	}
	return top
}

func bucketPeriod(bucket time.Duration) string {
	switch {
	case bucket >= 24*time.Hour:
		return "day"
	case bucket >= time.Hour:
		return "hour"
	default:
		return "minute"
	}
}

func orAll(source string) string {
	if source == "" {
		return "all"
	}
	return source
}
