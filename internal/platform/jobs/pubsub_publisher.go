package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/lilacbloom/api/internal/services"
)

// PubSubEventPublisher publishes storefront domain events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEvent enqueues a domain event message on the configured topic.
func (p *PubSubEventPublisher) PublishEvent(ctx context.Context, message services.EventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	if strings.TrimSpace(message.Type) == "" {
		return "", errors.New("pubsub event publisher: event type is required")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", message.Type)
	setAttr(attrs, "entityId", message.EntityID)
	setAttr(attrs, "sessionId", message.SessionID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
