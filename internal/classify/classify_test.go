package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

type stubClassifier struct {
	name   string
	result Result
	err    error
	calls  int
}

func (s *stubClassifier) Name() string { return s.name }

func (s *stubClassifier) Classify(ctx context.Context, text string) (Result, error) {
	s.calls++
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

func TestLexiconPositive(t *testing.T) {
	l := NewLexiconClassifier()

	result, err := l.Classify(context.Background(), "I love this, it is a great product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SentimentLabel != models.SentimentPositive {
		t.Fatalf("expected positive, got %s", result.SentimentLabel)
	}
	if result.ConfidenceScore <= 0.5 || result.ConfidenceScore > 1.0 {
		t.Fatalf("confidence out of range: %f", result.ConfidenceScore)
	}
	if result.Emotion != models.EmotionJoy {
		t.Fatalf("expected joy, got %s", result.Emotion)
	}
	if result.ModelName != "lexicon-v1" {
		t.Fatalf("unexpected model name %s", result.ModelName)
	}
}

func TestLexiconNegative(t *testing.T) {
	l := NewLexiconClassifier()

	result, err := l.Classify(context.Background(), "terrible experience, I hate this broken thing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SentimentLabel != models.SentimentNegative {
		t.Fatalf("expected negative, got %s", result.SentimentLabel)
	}
	if result.Emotion != models.EmotionAnger {
		t.Fatalf("expected anger, got %s", result.Emotion)
	}
}

func TestLexiconNeutralAndEmptyText(t *testing.T) {
	l := NewLexiconClassifier()

	result, err := l.Classify(context.Background(), "the meeting is at three tomorrow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SentimentLabel != models.SentimentNeutral {
		t.Fatalf("expected neutral, got %s", result.SentimentLabel)
	}
	if result.ConfidenceScore != 0.5 {
		t.Fatalf("expected 0.5 confidence, got %f", result.ConfidenceScore)
	}

	empty, err := l.Classify(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.SentimentLabel != models.SentimentNeutral || empty.ConfidenceScore != 0.0 {
		t.Fatalf("empty text should be neutral with zero confidence, got %s/%f",
			empty.SentimentLabel, empty.ConfidenceScore)
	}
}

func TestLexiconShortTextSkipsEmotion(t *testing.T) {
	l := NewLexiconClassifier()

	result, err := l.Classify(context.Background(), "love it")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Emotion != models.EmotionNeutral {
		t.Fatalf("short text should keep neutral emotion, got %s", result.Emotion)
	}
}

func TestChainFirstSuccessIsTerminal(t *testing.T) {
	first := &stubClassifier{name: "local", result: Result{
		SentimentLabel:  models.SentimentNeutral,
		ConfidenceScore: 0.5,
		Emotion:         models.EmotionNeutral,
		ModelName:       "local",
	}}
	second := &stubClassifier{name: "remote"}

	chain := NewChain(logging.NewLogger(), time.Second, first, second)
	outcome, err := chain.Classify(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Source != "local" || outcome.Attempts != 1 {
		t.Fatalf("expected first adapter to win, got source=%s attempts=%d", outcome.Source, outcome.Attempts)
	}
	if second.calls != 0 {
		t.Fatalf("second adapter should not be consulted after success")
	}
}

func TestChainFallsBackOnFailure(t *testing.T) {
	first := &stubClassifier{name: "local", err: errors.New("model unavailable")}
	second := &stubClassifier{name: "remote", result: Result{
		SentimentLabel: models.SentimentPositive,
		ModelName:      "remote",
	}}

	chain := NewChain(logging.NewLogger(), time.Second, first, second)
	outcome, err := chain.Classify(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Source != "remote" || outcome.Attempts != 2 {
		t.Fatalf("expected fallback to remote, got source=%s attempts=%d", outcome.Source, outcome.Attempts)
	}
}

func TestChainExhausted(t *testing.T) {
	first := &stubClassifier{name: "local", err: errors.New("down")}
	second := &stubClassifier{name: "remote", err: errors.New("also down")}

	chain := NewChain(logging.NewLogger(), time.Second, first, second)
	_, err := chain.Classify(context.Background(), "text")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestChainHonorsContextCancellation(t *testing.T) {
	first := &stubClassifier{name: "local", err: errors.New("down")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewChain(logging.NewLogger(), time.Second, first)
	_, err := chain.Classify(ctx, "text")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if first.calls != 0 {
		t.Fatalf("cancelled context should not reach adapters")
	}
}
