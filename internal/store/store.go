package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/database"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

// Store provides durable persistence for posts, analysis results and alerts
type Store struct {
	db     database.PostgresConn
	logger logging.Logger
}

// NewStore creates a new store backed by the given database connection
func NewStore(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying connection for health checks
func (s *Store) DB() database.PostgresConn {
	return s.db
}

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables and indexes if they do not exist.
// Every statement is idempotent, so running it on each startup is safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("Database schema ensured")
	return nil
}

// SaveResult persists a post and its analysis in one transaction. Both writes
// are idempotent: redelivered messages update ingested_at on the post and skip
// the analysis insert, so reprocessing never creates duplicate rows.
// The returned bool reports whether the analysis row was newly inserted.
func (s *Store) SaveResult(ctx context.Context, post models.Post, analysis models.AnalysisResult) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (post_id, source, content, author, created_at, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (post_id) DO UPDATE SET ingested_at = EXCLUDED.ingested_at`,
		post.PostID, post.Source, post.Content, post.Author, post.CreatedAt, post.IngestedAt)
	if err != nil {
		return false, fmt.Errorf("upsert post %s: %w", post.PostID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO analysis_results (post_id, model_name, sentiment_label, confidence_score, emotion, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (post_id, model_name) DO NOTHING`,
		analysis.PostID, analysis.ModelName, analysis.SentimentLabel,
		analysis.ConfidenceScore, analysis.Emotion, analysis.AnalyzedAt)
	if err != nil {
		return false, fmt.Errorf("insert analysis for %s: %w", analysis.PostID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit result for %s: %w", post.PostID, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		// Driver cannot report it; treat as inserted
		return true, nil
	}
	return inserted > 0, nil
}

// InsertAlert persists an alert record and fills in its database ID
func (s *Store) InsertAlert(ctx context.Context, alert *models.AlertRecord) error {
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO alerts (alert_type, threshold_value, actual_value, window_start, window_end, post_count, triggered_at, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		alert.AlertType, alert.ThresholdValue, alert.ActualValue,
		alert.WindowStart, alert.WindowEnd, alert.PostCount, alert.TriggeredAt, details).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// SentimentCounts returns per-label analysis counts since the given time,
// optionally filtered by post source.
func (s *Store) SentimentCounts(ctx context.Context, since time.Time, source string) (map[string]int64, error) {
	query := `
		SELECT ar.sentiment_label, COUNT(*)
		FROM analysis_results ar
		JOIN posts p ON ar.post_id = p.post_id
		WHERE ar.analyzed_at >= $1`
	args := []interface{}{since}

	if source != "" {
		query += " AND p.source = $2"
		args = append(args, source)
	}
	query += " GROUP BY ar.sentiment_label"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sentiment counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("scan sentiment count: %w", err)
		}
		counts[label] = count
	}
	return counts, rows.Err()
}

// EmotionCounts returns per-emotion analysis counts since the given time
func (s *Store) EmotionCounts(ctx context.Context, since time.Time, source string) (map[string]int64, error) {
	query := `
		SELECT ar.emotion, COUNT(*)
		FROM analysis_results ar
		JOIN posts p ON ar.post_id = p.post_id
		WHERE ar.analyzed_at >= $1`
	args := []interface{}{since}

	if source != "" {
		query += " AND p.source = $2"
		args = append(args, source)
	}
	query += " GROUP BY ar.emotion"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query emotion counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var emotion string
		var count int64
		if err := rows.Scan(&emotion, &count); err != nil {
			return nil, fmt.Errorf("scan emotion count: %w", err)
		}
		counts[emotion] = count
	}
	return counts, rows.Err()
}

// Series returns the time-bucketed sentiment series between start and end.
// Period must be one of minute, hour, day.
func (s *Store) Series(ctx context.Context, period string, start, end time.Time, source string) ([]models.SeriesPoint, error) {
	switch period {
	case "minute", "hour", "day":
	default:
		return nil, fmt.Errorf("invalid aggregation period %q", period)
	}

	query := `
		SELECT date_trunc($1, ar.analyzed_at) AS bucket, ar.sentiment_label, COUNT(*), AVG(ar.confidence_score)
		FROM analysis_results ar
		JOIN posts p ON ar.post_id = p.post_id
		WHERE ar.analyzed_at >= $2 AND ar.analyzed_at <= $3`
	args := []interface{}{period, start, end}

	if source != "" {
		query += " AND p.source = $4"
		args = append(args, source)
	}
	query += " GROUP BY bucket, ar.sentiment_label ORDER BY bucket"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aggregate series: %w", err)
	}
	defer rows.Close()

	points := make([]models.SeriesPoint, 0)
	index := make(map[time.Time]int)
	confidenceSum := make(map[time.Time]float64)

	for rows.Next() {
		var bucket time.Time
		var label string
		var count int64
		var avgConfidence float64
		if err := rows.Scan(&bucket, &label, &count, &avgConfidence); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}

		i, ok := index[bucket]
		if !ok {
			points = append(points, models.SeriesPoint{Timestamp: bucket})
			i = len(points) - 1
			index[bucket] = i
		}

		switch label {
		case models.SentimentPositive:
			points[i].PositiveCount = count
		case models.SentimentNegative:
			points[i].NegativeCount = count
		case models.SentimentNeutral:
			points[i].NeutralCount = count
		}
		confidenceSum[bucket] += avgConfidence * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range points {
		total := points[i].PositiveCount + points[i].NegativeCount + points[i].NeutralCount
		if total > 0 {
			points[i].AvgConfidence = confidenceSum[points[i].Timestamp] / float64(total)
		}
	}

	return points, nil
}

// PostFilter narrows the posts listing
type PostFilter struct {
	Limit     int
	Offset    int
	Source    string
	Sentiment string
	Start     time.Time
	End       time.Time
}

// Posts returns post/analysis joins newest first
func (s *Store) Posts(ctx context.Context, filter PostFilter) ([]models.PostWithAnalysis, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	query := `
		SELECT p.post_id, p.source, p.content, p.author, p.created_at, p.ingested_at,
		       ar.model_name, ar.sentiment_label, ar.confidence_score, ar.emotion, ar.analyzed_at
		FROM posts p
		JOIN analysis_results ar ON ar.post_id = p.post_id
		WHERE 1=1`
	args := make([]interface{}, 0, 6)

	if filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(" AND p.source = $%d", len(args))
	}
	if filter.Sentiment != "" {
		args = append(args, filter.Sentiment)
		query += fmt.Sprintf(" AND ar.sentiment_label = $%d", len(args))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		query += fmt.Sprintf(" AND p.created_at >= $%d", len(args))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		query += fmt.Sprintf(" AND p.created_at <= $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY p.created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	results := make([]models.PostWithAnalysis, 0, filter.Limit)
	for rows.Next() {
		var row models.PostWithAnalysis
		if err := rows.Scan(
			&row.Post.PostID, &row.Post.Source, &row.Post.Content, &row.Post.Author,
			&row.Post.CreatedAt, &row.Post.IngestedAt,
			&row.Analysis.ModelName, &row.Analysis.SentimentLabel,
			&row.Analysis.ConfidenceScore, &row.Analysis.Emotion, &row.Analysis.AnalyzedAt,
		); err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}
		row.Analysis.PostID = row.Post.PostID
		results = append(results, row)
	}
	return results, rows.Err()
}

// RecentAlerts returns the most recently triggered alerts
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_type, threshold_value, actual_value, window_start, window_end, post_count, triggered_at, details
		FROM alerts
		ORDER BY triggered_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.AlertRecord, 0, limit)
	for rows.Next() {
		var alert models.AlertRecord
		var details []byte
		if err := rows.Scan(
			&alert.ID, &alert.AlertType, &alert.ThresholdValue, &alert.ActualValue,
			&alert.WindowStart, &alert.WindowEnd, &alert.PostCount, &alert.TriggeredAt, &details,
		); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &alert.Details); err != nil {
				s.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Unreadable alert details payload")
			}
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// WindowCounts returns sentiment counts for a sliding window ending at end
func (s *Store) WindowCounts(ctx context.Context, start, end time.Time) (models.WindowCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sentiment_label, COUNT(*)
		FROM analysis_results
		WHERE analyzed_at >= $1 AND analyzed_at <= $2
		GROUP BY sentiment_label`, start, end)
	if err != nil {
		return models.WindowCounts{}, fmt.Errorf("query window counts: %w", err)
	}
	defer rows.Close()

	var counts models.WindowCounts
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return models.WindowCounts{}, fmt.Errorf("scan window count: %w", err)
		}
		switch label {
		case models.SentimentPositive:
			counts.Positive = count
		case models.SentimentNegative:
			counts.Negative = count
		case models.SentimentNeutral:
			counts.Neutral = count
		}
	}
	return counts, rows.Err()
}
