package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Delivery is one claimed message from the log
type Delivery struct {
	ID     string
	Values map[string]interface{}
}

// Log wraps a Redis Stream with consumer-group semantics: every entry is
// claimed by exactly one live group member and stays on the pending list
// until acknowledged.
type Log struct {
	client goredis.UniversalClient
	stream string
	group  string
}

// NewLog creates a message log on the given stream and consumer group
func NewLog(client goredis.UniversalClient, stream, group string) *Log {
	return &Log{client: client, stream: stream, group: group}
}

// Stream returns the stream key
func (l *Log) Stream() string {
	return l.stream
}

// EnsureGroup creates the consumer group, creating the stream if needed.
// An already existing group is not an error.
func (l *Log) EnsureGroup(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", l.group, l.stream, err)
	}
	return nil
}

// Publish appends an entry to the stream and returns its ID. The producer
// proper lives outside this service; tests and backfill tooling use this.
func (l *Log) Publish(ctx context.Context, values map[string]interface{}) (string, error) {
	id, err := l.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: l.stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", l.stream, err)
	}
	return id, nil
}

// ReadGroup claims up to count new messages for the named consumer, blocking
// up to block when the stream is empty. An empty result is not an error.
func (l *Log) ReadGroup(ctx context.Context, consumer string, count int64, block time.Duration) ([]Delivery, error) {
	streams, err := l.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    l.group,
		Consumer: consumer,
		Streams:  []string{l.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read group %s: %w", l.group, err)
	}

	var deliveries []Delivery
	for _, s := range streams {
		for _, msg := range s.Messages {
			deliveries = append(deliveries, Delivery{ID: msg.ID, Values: msg.Values})
		}
	}
	return deliveries, nil
}

// AutoClaim transfers ownership of messages that have been pending longer
// than minIdle to the named consumer, reclaiming work from dead workers.
func (l *Log) AutoClaim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Delivery, error) {
	messages, _, err := l.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   l.stream,
		Group:    l.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("autoclaim on %s: %w", l.stream, err)
	}

	deliveries := make([]Delivery, 0, len(messages))
	for _, msg := range messages {
		deliveries = append(deliveries, Delivery{ID: msg.ID, Values: msg.Values})
	}
	return deliveries, nil
}

// DeliveryCount reports how many times a pending message has been delivered
func (l *Log) DeliveryCount(ctx context.Context, id string) (int64, error) {
	pending, err := l.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: l.stream,
		Group:  l.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("pending lookup for %s: %w", id, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

// Ack removes messages from the pending list. Only acknowledged messages are
// considered processed by the group.
func (l *Log) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, l.stream, l.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %v on %s: %w", ids, l.stream, err)
	}
	return nil
}

// PendingCount returns the size of the group's pending list
func (l *Log) PendingCount(ctx context.Context) (int64, error) {
	summary, err := l.client.XPending(ctx, l.stream, l.group).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("pending summary on %s: %w", l.stream, err)
	}
	return summary.Count, nil
}

// HealthCheck pings the backing Redis
func (l *Log) HealthCheck(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("message log health check failed: %w", err)
	}
	return nil
}
