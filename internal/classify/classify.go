package classify

import (
	"context"
	"errors"
	"time"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
)

// ErrExhausted is returned when every classifier in the chain failed
var ErrExhausted = errors.New("classify: all classifiers failed")

// Result is a single classifier verdict
type Result struct {
	SentimentLabel  string
	ConfidenceScore float64
	Emotion         string
	ModelName       string
}

// Classifier turns text into a sentiment/emotion verdict. Implementations
// must honor ctx cancellation and deadlines.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) (Result, error)
}

// Outcome reports which adapter in the chain produced the result
type Outcome struct {
	Result   Result
	Source   string
	Attempts int
}

// Chain tries an ordered list of classifiers with a per-adapter timeout.
// The first success is terminal, regardless of its confidence.
type Chain struct {
	classifiers []Classifier
	timeout     time.Duration
	logger      logging.Logger
}

// NewChain creates a fallback chain. Adapters are tried in the order given.
func NewChain(logger logging.Logger, timeout time.Duration, classifiers ...Classifier) *Chain {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Chain{
		classifiers: classifiers,
		timeout:     timeout,
		logger:      logger,
	}
}

// Classify walks the chain until one adapter succeeds. A failed or timed-out
// adapter is logged and the next one is consulted; ErrExhausted is returned
// when none succeed.
func (c *Chain) Classify(ctx context.Context, text string) (Outcome, error) {
	attempts := 0
	for _, classifier := range c.classifiers {
		if ctx.Err() != nil {
			return Outcome{Attempts: attempts}, ctx.Err()
		}

		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := classifier.Classify(callCtx, text)
		cancel()

		if err != nil {
			c.logger.WithError(err).WithFields(logging.Fields{
				"classifier": classifier.Name(),
				"attempt":    attempts,
			}).Warn("Classifier failed, trying next adapter")
			continue
		}

		return Outcome{Result: result, Source: classifier.Name(), Attempts: attempts}, nil
	}

	return Outcome{Attempts: attempts}, ErrExhausted
}
