package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/logging"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

// Rule describes one threshold condition over a sliding window
type Rule struct {
	Name      string
	Window    time.Duration
	Threshold float64 // ratio of negative posts in the window, 0..1
	MinCount  int64   // minimum posts in the window before the rule can fire
	Cooldown  time.Duration
}

// DefaultRules returns the built-in rule set
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "negative_sentiment_spike",
			Window:    5 * time.Minute,
			Threshold: 0.6,
			MinCount:  10,
			Cooldown:  15 * time.Minute,
		},
	}
}

// WindowSource answers sliding-window sentiment counts ending now
type WindowSource interface {
	WindowCounts(window time.Duration) models.WindowCounts
}

// AlertStore persists fired alerts
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *models.AlertRecord) error
}

type ruleState int

const (
	stateIdle ruleState = iota
	stateCooldown
)

type ruleRuntime struct {
	rule    Rule
	state   ruleState
	firedAt time.Time
}

// Detector evaluates alert rules against the rolling aggregate on every
// result event. Each rule is an independent state machine: idle until the
// condition holds, then a cooldown anchored at the fire time. When the
// cooldown expires the rule re-arms, so a breach that persists past the
// cooldown fires again.
type Detector struct {
	source WindowSource
	store  AlertStore
	logger logging.Logger
	now    func() time.Time

	mu    sync.Mutex
	rules []*ruleRuntime
	fired chan models.AlertRecord

	onFired func(rule string)
}

// NewDetector creates a detector over the given rules. Fired alerts are
// persisted via store and also delivered on the Fired channel for broadcast.
func NewDetector(source WindowSource, store AlertStore, logger logging.Logger, rules []Rule) *Detector {
	runtimes := make([]*ruleRuntime, 0, len(rules))
	for _, r := range rules {
		runtimes = append(runtimes, &ruleRuntime{rule: r})
	}
	return &Detector{
		source: source,
		store:  store,
		logger: logger,
		now:    time.Now,
		rules:  runtimes,
		fired:  make(chan models.AlertRecord, 16),
	}
}

// Fired exposes alerts as they fire, for live broadcast
func (d *Detector) Fired() <-chan models.AlertRecord {
	return d.fired
}

// OnFired registers a hook invoked with the rule name each time an alert
// fires. Used for metrics.
func (d *Detector) OnFired(fn func(rule string)) {
	d.onFired = fn
}

// Evaluate runs every rule against the current window counts. A failure in
// one rule (or in alert persistence) never blocks the others or the caller's
// event loop.
func (d *Detector) Evaluate(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	for _, rt := range d.rules {
		d.evaluateRule(ctx, rt, now)
	}
}

func (d *Detector) evaluateRule(ctx context.Context, rt *ruleRuntime, now time.Time) {
	counts := d.source.WindowCounts(rt.rule.Window)
	total := counts.Total()

	var ratio float64
	if total > 0 {
		ratio = float64(counts.Negative) / float64(total)
	}
	breaching := total >= rt.rule.MinCount && ratio >= rt.rule.Threshold

	switch rt.state {
	case stateIdle:
		if breaching {
			rt.state = stateCooldown
			rt.firedAt = now
			d.fire(ctx, rt, counts, ratio, now)
		}
	case stateCooldown:
		if now.Sub(rt.firedAt) >= rt.rule.Cooldown {
			rt.state = stateIdle
			if breaching {
				rt.state = stateCooldown
				rt.firedAt = now
				d.fire(ctx, rt, counts, ratio, now)
			}
		}
	}
}

func (d *Detector) fire(ctx context.Context, rt *ruleRuntime, counts models.WindowCounts, ratio float64, now time.Time) {
	record := models.AlertRecord{
		AlertType:      rt.rule.Name,
		ThresholdValue: rt.rule.Threshold,
		ActualValue:    ratio,
		WindowStart:    now.Add(-rt.rule.Window),
		WindowEnd:      now,
		PostCount:      counts.Total(),
		TriggeredAt:    now,
		Details: map[string]int64{
			models.SentimentPositive: counts.Positive,
			models.SentimentNegative: counts.Negative,
			models.SentimentNeutral:  counts.Neutral,
		},
	}

	if err := d.store.InsertAlert(ctx, &record); err != nil {
		d.logger.WithError(err).WithField("rule", rt.rule.Name).Error("Failed to persist alert")
	}

	d.logger.WithFields(logging.Fields{
		"rule":       rt.rule.Name,
		"ratio":      ratio,
		"threshold":  rt.rule.Threshold,
		"post_count": record.PostCount,
	}).Warn("Alert fired")

	if d.onFired != nil {
		d.onFired(rt.rule.Name)
	}

	select {
	case d.fired <- record:
	default:
		d.logger.WithField("rule", rt.rule.Name).Warn("Alert broadcast channel full, dropping")
	}
}
