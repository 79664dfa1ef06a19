package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
)

const (
	TopicRevocations = "passage.revocations"
	TopicCodes       = "passage.codes"
)

// RevocationEvent tells other instances and auditors that a token was revoked
type RevocationEvent struct {
	SubjectID string    `json:"subject_id"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
	Reason    string    `json:"reason"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     TopicRevocations,
	}
}

// PublishRevocation publishes a revocation event keyed by token ID
func (p *WatermillPublisher) PublishRevocation(ctx context.Context, subjectID string, entry core.RevocationEntry) error {
	event := RevocationEvent{
		SubjectID: subjectID,
		TokenID:   entry.TokenID,
		ExpiresAt: entry.ExpiresAt,
		RevokedAt: entry.RevokedAt,
		Reason:    entry.Reason,
	}
	return publishJSON(ctx, p.publisher, p.topic, entry.TokenID, event)
}

func publishJSON(ctx context.Context, publisher message.Publisher, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
