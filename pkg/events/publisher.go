// Package events publishes media resolution events over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/mediaref/pkg/logging"
)

// Event types. The channel is the configured prefix followed by the type.
const (
	EventMediaResolved               = "media.resolved"
	EventMediaDisambiguationRequired = "media.disambiguation_required"
	DefaultChannelPrefix             = "events."
	eventSource                      = "mediaref"
	eventVersion                     = "1.0"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Source        string    `json:"source"`
	Version       string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with a fresh ID and the current time.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    eventSource,
		Version:   eventVersion,
	}
}

// MediaResolvedEvent is published when a turn resolved to zero or more media items.
type MediaResolvedEvent struct {
	BaseEvent

	ConversationID string   `json:"conversation_id"`
	ResolutionID   string   `json:"resolution_id"`
	Turn           int      `json:"turn"`
	Method         string   `json:"method"`
	Confidence     float64  `json:"confidence"`
	MatchedIndices []int    `json:"matched_indices"`
	UserIntent     string   `json:"user_intent"`
	PersistentIDs  []string `json:"persistent_ids"`
}

// DisambiguationRequiredEvent is published when the user has to pick a media item.
type DisambiguationRequiredEvent struct {
	BaseEvent

	ConversationID   string `json:"conversation_id"`
	ResolutionID     string `json:"resolution_id"`
	Turn             int    `json:"turn"`
	Reason           string `json:"reason"`
	CandidateIndices []int  `json:"candidate_indices"`
	SuggestedAction  string `json:"suggested_action,omitempty"`
}

// ResolvedParams contains parameters for publishing a resolved event.
type ResolvedParams struct {
	ConversationID string
	ResolutionID   string
	Turn           int
	Method         string
	Confidence     float64
	MatchedIndices []int
	UserIntent     string
	PersistentIDs  []string
}

// DisambiguationParams contains parameters for publishing a disambiguation event.
type DisambiguationParams struct {
	ConversationID   string
	ResolutionID     string
	Turn             int
	Reason           string
	CandidateIndices []int
	SuggestedAction  string
}

// redisPublisher is the part of *redis.Client the publisher needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Publisher publishes resolution events to Redis.
type Publisher struct {
	client redisPublisher
	prefix string
	logger logging.Logger
}

// NewPublisher creates a new event publisher. An empty prefix uses DefaultChannelPrefix.
func NewPublisher(client *redis.Client, prefix string, logger logging.Logger) *Publisher {
	return newPublisher(client, prefix, logger)
}

func newPublisher(client redisPublisher, prefix string, logger logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		logger: logger.With(logging.Component("event_publisher")),
	}
}

// Channel returns the Redis channel for an event type.
func (p *Publisher) Channel(eventType string) string {
	return p.prefix + eventType
}

// PublishResolved publishes a media.resolved event.
func (p *Publisher) PublishResolved(ctx context.Context, params ResolvedParams) error {
	event := MediaResolvedEvent{
		BaseEvent:      NewBaseEvent(EventMediaResolved),
		ConversationID: params.ConversationID,
		ResolutionID:   params.ResolutionID,
		Turn:           params.Turn,
		Method:         params.Method,
		Confidence:     params.Confidence,
		MatchedIndices: nonNilInts(params.MatchedIndices),
		UserIntent:     params.UserIntent,
		PersistentIDs:  params.PersistentIDs,
	}
	if event.PersistentIDs == nil {
		event.PersistentIDs = []string{}
	}
	event.CorrelationID = &event.ResolutionID
	return p.publish(ctx, p.Channel(EventMediaResolved), event)
}

// PublishDisambiguationRequired publishes a media.disambiguation_required event.
func (p *Publisher) PublishDisambiguationRequired(ctx context.Context, params DisambiguationParams) error {
	event := DisambiguationRequiredEvent{
		BaseEvent:        NewBaseEvent(EventMediaDisambiguationRequired),
		ConversationID:   params.ConversationID,
		ResolutionID:     params.ResolutionID,
		Turn:             params.Turn,
		Reason:           params.Reason,
		CandidateIndices: nonNilInts(params.CandidateIndices),
		SuggestedAction:  params.SuggestedAction,
	}
	event.CorrelationID = &event.ResolutionID
	return p.publish(ctx, p.Channel(EventMediaDisambiguationRequired), event)
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))
	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

// NopPublisher discards events. It is used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) PublishResolved(context.Context, ResolvedParams) error { return nil }

func (NopPublisher) PublishDisambiguationRequired(context.Context, DisambiguationParams) error {
	return nil
}

func (NopPublisher) Close() error { return nil }
