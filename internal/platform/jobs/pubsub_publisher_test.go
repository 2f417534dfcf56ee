package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lilacbloom/api/internal/services"
)

func TestPubSubEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "storefront-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	msg := services.EventMessage{
		Type:       "order.created",
		EntityID:   "cs_123",
		SessionID:  "cs_123",
		Email:      "shopper@example.com",
		Amount:     13500,
		Currency:   "GBP",
		OccurredAt: occurredAt,
	}

	if _, err := publisher.PublishEvent(ctx, msg); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.EventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != msg.Type || payload.EntityID != msg.EntityID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.created" {
		t.Fatalf("expected event type attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["sessionId"]; attr != "cs_123" {
		t.Fatalf("expected session attribute, got %q", attr)
	}
}

func TestPubSubEventPublisherRequiresType(t *testing.T) {
	publisher := &PubSubEventPublisher{topic: &pubsub.Topic{}, marshal: json.Marshal}
	if _, err := publisher.PublishEvent(context.Background(), services.EventMessage{}); err == nil {
		t.Fatal("expected error for missing event type")
	}
}
