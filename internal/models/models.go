package models

import "time"

// Sentiment labels produced by classifiers
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentUnknown  = "unknown"
)

// Emotion labels produced by classifiers
const (
	EmotionJoy      = "joy"
	EmotionAnger    = "anger"
	EmotionSadness  = "sadness"
	EmotionFear     = "fear"
	EmotionSurprise = "surprise"
	EmotionNeutral  = "neutral"
)

// ModelDegraded marks analysis rows recorded after all classifiers failed
const ModelDegraded = "degraded"

// Post represents an ingested social media post
type Post struct {
	PostID     string    `json:"post_id"`
	Source     string    `json:"source"`
	Content    string    `json:"content"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

// AnalysisResult represents one classifier verdict for a post.
// At most one row exists per (post_id, model_name).
type AnalysisResult struct {
	PostID          string    `json:"post_id"`
	ModelName       string    `json:"model_name"`
	SentimentLabel  string    `json:"sentiment_label"`
	ConfidenceScore float64   `json:"confidence_score"`
	Emotion         string    `json:"emotion"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// PostWithAnalysis is a joined row for the posts listing endpoint
type PostWithAnalysis struct {
	Post     Post           `json:"post"`
	Analysis AnalysisResult `json:"analysis"`
}

// ResultEvent flows from the stream consumer to the aggregation cache,
// alert detector and broadcast hub, in acknowledge order.
type ResultEvent struct {
	Post     Post           `json:"post"`
	Analysis AnalysisResult `json:"analysis"`
}

// AlertRecord represents a persisted alert occurrence
type AlertRecord struct {
	ID             int64            `json:"id"`
	AlertType      string           `json:"alert_type"`
	ThresholdValue float64          `json:"threshold_value"`
	ActualValue    float64          `json:"actual_value"`
	WindowStart    time.Time        `json:"window_start"`
	WindowEnd      time.Time        `json:"window_end"`
	PostCount      int64            `json:"post_count"`
	TriggeredAt    time.Time        `json:"triggered_at"`
	Details        map[string]int64 `json:"details"`
}

// Distribution is the sentiment distribution over a lookback window
type Distribution struct {
	TimeframeHours int                `json:"timeframe_hours"`
	Source         string             `json:"source,omitempty"`
	Distribution   map[string]int64   `json:"distribution"`
	Percentages    map[string]float64 `json:"percentages"`
	Total          int64              `json:"total"`
	TopEmotions    map[string]int64   `json:"top_emotions,omitempty"`
	Cached         bool               `json:"cached"`
	CachedAt       time.Time          `json:"cached_at"`
}

// SeriesPoint is one time bucket of the aggregate series
type SeriesPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	PositiveCount int64     `json:"positive_count"`
	NegativeCount int64     `json:"negative_count"`
	NeutralCount  int64     `json:"neutral_count"`
	AvgConfidence float64   `json:"avg_confidence"`
}

// WindowCounts summarizes sentiment counts inside a sliding window,
// fed to the alert detector on each aggregate update.
type WindowCounts struct {
	Positive int64
	Negative int64
	Neutral  int64
}

// Total returns the number of posts observed in the window
func (w WindowCounts) Total() int64 {
	return w.Positive + w.Negative + w.Neutral
}
