package aggregate

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

type fakeReader struct {
	sentiments map[string]int64
	emotions   map[string]int64
	series     []models.SeriesPoint

	sentimentCalls int
}

func (f *fakeReader) SentimentCounts(ctx context.Context, since time.Time, source string) (map[string]int64, error) {
	f.sentimentCalls++
	return f.sentiments, nil
}

func (f *fakeReader) EmotionCounts(ctx context.Context, since time.Time, source string) (map[string]int64, error) {
	return f.emotions, nil
}

func (f *fakeReader) Series(ctx context.Context, period string, start, end time.Time, source string) ([]models.SeriesPoint, error) {
	return f.series, nil
}

func event(label, emotion string, at time.Time) models.ResultEvent {
	return models.ResultEvent{
		Analysis: models.AnalysisResult{
			SentimentLabel: label,
			Emotion:        emotion,
			AnalyzedAt:     at,
		},
	}
}

func TestPercentagesSumToHundred(t *testing.T) {
	counts := map[string]int64{
		models.SentimentPositive: 1,
		models.SentimentNegative: 1,
		models.SentimentNeutral:  1,
	}

	percentages := Percentages(counts)
	var sum float64
	for _, p := range percentages {
		if p != 33.33 {
			t.Fatalf("expected 33.33 per label, got %f", p)
		}
		sum += p
	}
	if math.Abs(sum-100) > 0.05 {
		t.Fatalf("percentages should sum to 100 within rounding, got %f", sum)
	}
}

func TestPercentagesEmpty(t *testing.T) {
	percentages := Percentages(map[string]int64{models.SentimentPositive: 0})
	if percentages[models.SentimentPositive] != 0 {
		t.Fatalf("zero total should yield zero percentages")
	}
}

func TestApplyAndSnapshot(t *testing.T) {
	cache := New(&fakeReader{}, nil, logging.NewLogger(), DefaultConfig())

	now := time.Now().UTC()
	cache.Apply(event(models.SentimentPositive, models.EmotionJoy, now))
	cache.Apply(event(models.SentimentPositive, models.EmotionJoy, now))
	cache.Apply(event(models.SentimentNegative, models.EmotionAnger, now))

	snapshot := cache.Snapshot()
	if snapshot.Total != 3 {
		t.Fatalf("expected total 3, got %d", snapshot.Total)
	}
	if snapshot.Distribution[models.SentimentPositive] != 2 {
		t.Fatalf("expected 2 positive, got %d", snapshot.Distribution[models.SentimentPositive])
	}
	if snapshot.Percentages[models.SentimentNegative] != 33.33 {
		t.Fatalf("expected 33.33 negative, got %f", snapshot.Percentages[models.SentimentNegative])
	}
	if snapshot.TopEmotions[models.EmotionJoy] != 2 {
		t.Fatalf("expected joy on top, got %v", snapshot.TopEmotions)
	}
}

func TestWindowCountsSlidingWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRuleWindow = time.Hour
	cache := New(&fakeReader{}, nil, logging.NewLogger(), cfg)

	now := time.Now().UTC()
	cache.Apply(event(models.SentimentNegative, models.EmotionAnger, now))
	cache.Apply(event(models.SentimentNegative, models.EmotionAnger, now.Add(-time.Minute)))
	cache.Apply(event(models.SentimentPositive, models.EmotionJoy, now.Add(-30*time.Minute)))

	counts := cache.WindowCounts(5 * time.Minute)
	if counts.Negative != 2 || counts.Positive != 0 {
		t.Fatalf("expected 2 negative in window, got %+v", counts)
	}
	if counts.Total() != 2 {
		t.Fatalf("expected window total 2, got %d", counts.Total())
	}

	wide := cache.WindowCounts(time.Hour)
	if wide.Total() != 3 {
		t.Fatalf("expected 3 in wide window, got %d", wide.Total())
	}
}

func TestWindowCountsCoversConfiguredRuleWindow(t *testing.T) {
	// The event tail must be sized to the largest rule window, or counts for
	// wide windows silently miss older events
	cfg := DefaultConfig()
	cfg.MaxRuleWindow = 30 * time.Minute
	cache := New(&fakeReader{}, nil, logging.NewLogger(), cfg)

	now := time.Now().UTC()
	cache.Apply(event(models.SentimentNegative, models.EmotionAnger, now.Add(-20*time.Minute)))
	cache.Apply(event(models.SentimentNegative, models.EmotionAnger, now))

	counts := cache.WindowCounts(30 * time.Minute)
	if counts.Negative != 2 {
		t.Fatalf("expected both events inside the configured window, got %+v", counts)
	}
}

func TestIncrementalMatchesColdRebuild(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Hour)
	events := []models.ResultEvent{
		event(models.SentimentPositive, models.EmotionJoy, now.Add(10*time.Minute)),
		event(models.SentimentPositive, models.EmotionJoy, now.Add(20*time.Minute)),
		event(models.SentimentNegative, models.EmotionAnger, now.Add(-time.Hour).Add(5*time.Minute)),
		event(models.SentimentNeutral, models.EmotionNeutral, now.Add(-time.Hour).Add(40*time.Minute)),
	}

	incremental := New(&fakeReader{}, nil, logging.NewLogger(), DefaultConfig())
	for _, e := range events {
		incremental.Apply(e)
	}

	// A store rebuild of the same events, bucketed by hour
	reader := &fakeReader{
		sentiments: map[string]int64{
			models.SentimentPositive: 2,
			models.SentimentNegative: 1,
			models.SentimentNeutral:  1,
		},
		emotions: map[string]int64{models.EmotionJoy: 2, models.EmotionAnger: 1, models.EmotionNeutral: 1},
		series: []models.SeriesPoint{
			{Timestamp: now.Add(-time.Hour), NegativeCount: 1, NeutralCount: 1},
			{Timestamp: now, PositiveCount: 2},
		},
	}
	rebuilt := New(reader, nil, logging.NewLogger(), DefaultConfig())
	if err := rebuilt.Rebuild(context.Background()); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	start := now.Add(-2 * time.Hour)
	end := now.Add(time.Hour)
	got := incremental.MemorySeries(start, end)
	want := rebuilt.MemorySeries(start, end)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("incremental series diverged from cold rebuild:\n got %+v\nwant %+v", got, want)
	}

	if incremental.Snapshot().Total != rebuilt.Snapshot().Total {
		t.Fatalf("totals diverged: %d vs %d", incremental.Snapshot().Total, rebuilt.Snapshot().Total)
	}
}

func TestDistributionFromStore(t *testing.T) {
	reader := &fakeReader{
		sentiments: map[string]int64{
			models.SentimentPositive: 6,
			models.SentimentNegative: 3,
			models.SentimentNeutral:  1,
		},
		emotions: map[string]int64{
			models.EmotionJoy:     5,
			models.EmotionAnger:   3,
			models.EmotionSadness: 1,
			models.EmotionFear:    1,
		},
	}
	cache := New(reader, nil, logging.NewLogger(), DefaultConfig())

	dist, err := cache.Distribution(context.Background(), 24, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist.Total != 10 {
		t.Fatalf("expected total 10, got %d", dist.Total)
	}
	if dist.Percentages[models.SentimentPositive] != 60.0 {
		t.Fatalf("expected 60%% positive, got %f", dist.Percentages[models.SentimentPositive])
	}
	if dist.TimeframeHours != 24 {
		t.Fatalf("expected timeframe recorded, got %d", dist.TimeframeHours)
	}
	if dist.Cached {
		t.Fatalf("first read should not be marked cached")
	}
	if len(dist.TopEmotions) != 3 {
		t.Fatalf("expected top 3 emotions, got %v", dist.TopEmotions)
	}
	if _, ok := dist.TopEmotions[models.EmotionJoy]; !ok {
		t.Fatalf("joy should be in top emotions")
	}
}

func TestRetentionEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = time.Hour
	cache := New(&fakeReader{}, nil, logging.NewLogger(), cfg)

	cache.Apply(event(models.SentimentPositive, models.EmotionJoy, time.Now().UTC().Add(-3*time.Hour)))
	cache.Apply(event(models.SentimentNegative, models.EmotionAnger, time.Now().UTC()))

	snapshot := cache.Snapshot()
	if snapshot.Total != 1 {
		t.Fatalf("stale bucket should be evicted, total %d", snapshot.Total)
	}
	if snapshot.Distribution[models.SentimentPositive] != 0 {
		t.Fatalf("evicted bucket counts should be subtracted")
	}
}
