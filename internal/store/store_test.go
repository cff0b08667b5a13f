package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init: %v", err)
	}
	return NewStore(db, logging.NewLogger()), mock, func() { db.Close() }
}

func samplePost() models.Post {
	return models.Post{
		PostID:     "abc123",
		Source:     "reddit",
		Content:    "this is great",
		Author:     "tester",
		CreatedAt:  time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
		IngestedAt: time.Date(2026, 8, 31, 12, 0, 1, 0, time.UTC),
	}
}

func sampleAnalysis() models.AnalysisResult {
	return models.AnalysisResult{
		PostID:          "abc123",
		ModelName:       "lexicon-v1",
		SentimentLabel:  models.SentimentPositive,
		ConfidenceScore: 0.9,
		Emotion:         models.EmotionJoy,
		AnalyzedAt:      time.Date(2026, 8, 31, 12, 0, 2, 0, time.UTC),
	}
}

func TestEnsureSchemaAppliesDDL(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS posts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveResultInsertsNewRow(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	post := samplePost()
	analysis := sampleAnalysis()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO posts").
		WithArgs(post.PostID, post.Source, post.Content, post.Author, post.CreatedAt, post.IngestedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO analysis_results").
		WithArgs(analysis.PostID, analysis.ModelName, analysis.SentimentLabel,
			analysis.ConfidenceScore, analysis.Emotion, analysis.AnalyzedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := s.SaveResult(context.Background(), post, analysis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inserted {
		t.Fatalf("expected inserted=true for a new row")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveResultIsIdempotent(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	post := samplePost()
	analysis := sampleAnalysis()

	// Redelivery: the analysis insert hits the conflict and affects no rows
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO posts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO analysis_results").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	inserted, err := s.SaveResult(context.Background(), post, analysis)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted {
		t.Fatalf("expected inserted=false on duplicate delivery")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveResultRollsBackOnFailure(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO posts").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if _, err := s.SaveResult(context.Background(), samplePost(), sampleAnalysis()); err == nil {
		t.Fatalf("expected error to propagate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertAlertFillsID(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery("INSERT INTO alerts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	alert := models.AlertRecord{
		AlertType:      "negative_sentiment_spike",
		ThresholdValue: 0.6,
		ActualValue:    0.8,
		WindowStart:    time.Now().UTC().Add(-5 * time.Minute),
		WindowEnd:      time.Now().UTC(),
		PostCount:      12,
		TriggeredAt:    time.Now().UTC(),
		Details:        map[string]int64{models.SentimentNegative: 10},
	}
	if err := s.InsertAlert(context.Background(), &alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alert.ID != 42 {
		t.Fatalf("expected id 42, got %d", alert.ID)
	}
}

func TestSentimentCounts(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	since := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT ar.sentiment_label, COUNT").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"sentiment_label", "count"}).
			AddRow(models.SentimentPositive, int64(5)).
			AddRow(models.SentimentNegative, int64(2)))

	counts, err := s.SentimentCounts(context.Background(), since, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[models.SentimentPositive] != 5 || counts[models.SentimentNegative] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestSentimentCountsWithSourceFilter(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	since := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery("SELECT ar.sentiment_label, COUNT").
		WithArgs(since, "reddit").
		WillReturnRows(sqlmock.NewRows([]string{"sentiment_label", "count"}).
			AddRow(models.SentimentNeutral, int64(3)))

	counts, err := s.SentimentCounts(context.Background(), since, "reddit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[models.SentimentNeutral] != 3 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestPostsAppliesFilters(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	rows := sqlmock.NewRows([]string{
		"post_id", "source", "content", "author", "created_at", "ingested_at",
		"model_name", "sentiment_label", "confidence_score", "emotion", "analyzed_at",
	}).AddRow(
		"abc123", "reddit", "this is great", "tester",
		time.Now().UTC(), time.Now().UTC(),
		"lexicon-v1", models.SentimentPositive, 0.9, models.EmotionJoy, time.Now().UTC(),
	)

	mock.ExpectQuery("SELECT p.post_id").
		WithArgs("reddit", models.SentimentPositive, 10, 0).
		WillReturnRows(rows)

	posts, err := s.Posts(context.Background(), PostFilter{
		Limit:     10,
		Source:    "reddit",
		Sentiment: models.SentimentPositive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected one post, got %d", len(posts))
	}
	if posts[0].Analysis.PostID != "abc123" {
		t.Fatalf("analysis should carry the post id")
	}
}

func TestRecentAlertsDecodesDetails(t *testing.T) {
	s, mock, done := newMockStore(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "alert_type", "threshold_value", "actual_value",
		"window_start", "window_end", "post_count", "triggered_at", "details",
	}).AddRow(
		int64(1), "negative_sentiment_spike", 0.6, 0.75,
		now.Add(-5*time.Minute), now, int64(12), now, []byte(`{"negative":9,"positive":3}`),
	)

	mock.ExpectQuery("SELECT id, alert_type").
		WithArgs(5).
		WillReturnRows(rows)

	alerts, err := s.RecentAlerts(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Details["negative"] != 9 {
		t.Fatalf("details not decoded: %v", alerts[0].Details)
	}
}
