package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

func newTestExternal(url string) *ExternalClassifier {
	return NewExternalClassifier(ExternalConfig{
		APIURL:  url,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 2 * time.Second,
	})
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func TestExternalClassifySingleRequest(t *testing.T) {
	var requests atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %s", req.Model)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "service is down again") {
			t.Errorf("prompt should carry the post text")
		}

		chatReply(t, w, "negative, anger")
	}))
	defer srv.Close()

	e := newTestExternal(srv.URL)
	result, err := e.Classify(context.Background(), "the service is down again")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if requests.Load() != 1 {
		t.Fatalf("expected exactly one request, got %d", requests.Load())
	}
	if result.SentimentLabel != models.SentimentNegative {
		t.Fatalf("expected negative, got %s", result.SentimentLabel)
	}
	if result.Emotion != models.EmotionAnger {
		t.Fatalf("expected anger, got %s", result.Emotion)
	}
	if result.ConfidenceScore != externalConfidence {
		t.Fatalf("unexpected confidence %f", result.ConfidenceScore)
	}
	if result.ModelName != "test-model" {
		t.Fatalf("unexpected model name %s", result.ModelName)
	}
}

func TestExternalClassifyUnparseableReplyDefaultsNeutral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatReply(t, w, "I cannot classify that")
	}))
	defer srv.Close()

	e := newTestExternal(srv.URL)
	result, err := e.Classify(context.Background(), "some text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SentimentLabel != models.SentimentNeutral || result.Emotion != models.EmotionNeutral {
		t.Fatalf("expected neutral defaults, got %s/%s", result.SentimentLabel, result.Emotion)
	}
}

func TestExternalClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := newTestExternal(srv.URL)
	if _, err := e.Classify(context.Background(), "some text"); err == nil {
		t.Fatalf("expected error on non-2xx status")
	}
}

func TestExternalClassifyMissingKey(t *testing.T) {
	e := NewExternalClassifier(ExternalConfig{APIURL: "http://localhost", Model: "m"})
	if _, err := e.Classify(context.Background(), "text"); err == nil {
		t.Fatalf("expected error without API key")
	}
}

func TestExternalClassifyTruncatesLongText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages[1].Content) > maxPromptChars+500 {
			t.Errorf("prompt not truncated: %d chars", len(req.Messages[1].Content))
		}
		chatReply(t, w, "positive, joy")
	}))
	defer srv.Close()

	e := newTestExternal(srv.URL)
	long := strings.Repeat("a", 3*maxPromptChars)
	if _, err := e.Classify(context.Background(), long); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExternalClassifyTruncatesOnRuneBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !utf8.ValidString(req.Messages[1].Content) {
			t.Errorf("truncation split a rune, prompt is not valid UTF-8")
		}
		if strings.ContainsRune(req.Messages[1].Content, utf8.RuneError) {
			t.Errorf("prompt carries a replacement character")
		}
		chatReply(t, w, "neutral, neutral")
	}))
	defer srv.Close()

	// The leading ASCII byte shifts every two-byte rune off the byte limit,
	// so a naive byte slice would cut mid-rune
	e := newTestExternal(srv.URL)
	long := "a" + strings.Repeat("é", maxPromptChars)
	if _, err := e.Classify(context.Background(), long); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
