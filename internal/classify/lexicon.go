package classify

import (
	"context"
	"strings"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

// LexiconClassifier is the fast in-process model: a deterministic keyword
// scorer standing in for local inference. It never blocks on the network.
type LexiconClassifier struct {
	name string
}

// NewLexiconClassifier creates the local lexicon-based classifier
func NewLexiconClassifier() *LexiconClassifier {
	return &LexiconClassifier{name: "lexicon-v1"}
}

func (l *LexiconClassifier) Name() string {
	return l.name
}

var positiveWords = map[string]bool{
	"love": true, "great": true, "good": true, "awesome": true, "amazing": true,
	"excellent": true, "fantastic": true, "happy": true, "best": true, "wonderful": true,
	"perfect": true, "brilliant": true, "enjoy": true, "like": true, "thanks": true,
	"thank": true, "impressive": true, "recommend": true, "beautiful": true, "glad": true,
}

var negativeWords = map[string]bool{
	"hate": true, "terrible": true, "bad": true, "awful": true, "horrible": true,
	"worst": true, "sad": true, "angry": true, "broken": true, "disappointed": true,
	"disappointing": true, "useless": true, "poor": true, "annoying": true, "fail": true,
	"failed": true, "slow": true, "bug": true, "scam": true, "refund": true,
}

var emotionWords = map[string]string{
	"love": models.EmotionJoy, "happy": models.EmotionJoy, "enjoy": models.EmotionJoy,
	"glad": models.EmotionJoy, "excited": models.EmotionJoy, "awesome": models.EmotionJoy,
	"hate": models.EmotionAnger, "angry": models.EmotionAnger, "furious": models.EmotionAnger,
	"annoying": models.EmotionAnger, "scam": models.EmotionAnger,
	"sad": models.EmotionSadness, "disappointed": models.EmotionSadness,
	"crying": models.EmotionSadness, "miss": models.EmotionSadness,
	"afraid": models.EmotionFear, "scared": models.EmotionFear, "worried": models.EmotionFear,
	"wow": models.EmotionSurprise, "unexpected": models.EmotionSurprise,
	"surprised": models.EmotionSurprise, "unbelievable": models.EmotionSurprise,
}

// Classify scores text against the sentiment and emotion lexicons.
// Empty text maps to neutral with zero confidence; very short text gets a
// neutral emotion without scoring.
func (l *LexiconClassifier) Classify(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if text == "" {
		return Result{
			SentimentLabel:  models.SentimentNeutral,
			ConfidenceScore: 0.0,
			Emotion:         models.EmotionNeutral,
			ModelName:       l.name,
		}, nil
	}

	var positive, negative int
	emotionHits := make(map[string]int)

	for _, token := range tokenize(text) {
		if positiveWords[token] {
			positive++
		}
		if negativeWords[token] {
			negative++
		}
		if emotion, ok := emotionWords[token]; ok {
			emotionHits[emotion]++
		}
	}

	result := Result{
		SentimentLabel:  models.SentimentNeutral,
		ConfidenceScore: 0.5,
		Emotion:         models.EmotionNeutral,
		ModelName:       l.name,
	}

	matched := positive + negative
	switch {
	case positive > negative:
		result.SentimentLabel = models.SentimentPositive
		result.ConfidenceScore = 0.5 + 0.5*float64(positive-negative)/float64(matched)
	case negative > positive:
		result.SentimentLabel = models.SentimentNegative
		result.ConfidenceScore = 0.5 + 0.5*float64(negative-positive)/float64(matched)
	}

	// Emotion scoring is unreliable on very short text
	if len(text) >= 10 {
		best := 0
		for emotion, hits := range emotionHits {
			if hits > best || (hits == best && emotion < result.Emotion) {
				best = hits
				result.Emotion = emotion
			}
		}
	}

	return result, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}
