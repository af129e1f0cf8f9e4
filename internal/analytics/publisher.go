// Package analytics carries accepted events past the ingestion boundary and
// into persistence.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/beacon/beacon/internal/model"
)

const (
	// StreamKey is the Redis stream for accepted events.
	StreamKey = "stream:events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PayloadField is the stream entry field holding the encoded event.
	PayloadField = "payload"

	// MaxUserAgentLength bounds the stored user agent.
	MaxUserAgentLength = 500
)

// Forwarder hands an accepted event to the downstream system.
type Forwarder interface {
	Forward(ctx context.Context, event model.Event) error
}

// StreamPublisher appends events to a Redis stream.
type StreamPublisher struct {
	redis redis.Cmdable
}

// NewStreamPublisher creates a publisher writing to StreamKey.
func NewStreamPublisher(client redis.Cmdable) *StreamPublisher {
	return &StreamPublisher{redis: client}
}

// Publish adds an event to the stream and returns its stream ID.
func (p *StreamPublisher) Publish(ctx context.Context, event model.Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",
		Values: map[string]interface{}{
			PayloadField: string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// Forward implements Forwarder.
func (p *StreamPublisher) Forward(ctx context.Context, event model.Event) error {
	_, err := p.Publish(ctx, event)
	return err
}

// StreamLengths reports the main and dead-letter stream lengths.
func (p *StreamPublisher) StreamLengths(ctx context.Context) (stream, deadLetter int64, err error) {
	stream, err = p.redis.XLen(ctx, StreamKey).Result()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("xlen %s: %w", StreamKey, err)
	}
	deadLetter, err = p.redis.XLen(ctx, DeadLetterStreamKey).Result()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("xlen %s: %w", DeadLetterStreamKey, err)
	}
	return stream, deadLetter, nil
}

// TruncateUserAgent truncates user agent to MaxUserAgentLength bytes.
func TruncateUserAgent(ua string) string {
	if len(ua) > MaxUserAgentLength {
		return ua[:MaxUserAgentLength]
	}
	return ua
}

// ExtractReferrerDomain extracts the domain from a referrer URL.
// Returns "(direct)" for empty referrer.
func ExtractReferrerDomain(ref string) string {
	if ref == "" {
		return "(direct)"
	}

	parsed, err := url.Parse(ref)
	if err != nil || parsed.Host == "" {
		return "(unknown)"
	}

	return parsed.Host
}
