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

	domain "github.com/stackmart/api/internal/domain"
)

func newTestTopic(t *testing.T, name string) (*pubsub.Topic, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return topic, srv
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	topic, srv := newTestTopic(t, "order-events")

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	event := domain.OrderEvent{
		Type:       "order.status.changed",
		TenantID:   "tenant-1",
		OrderID:    "ord_42",
		UserID:     "user-1",
		Status:     domain.OrderStatusShipped,
		Payment:    domain.PaymentStatusCaptured,
		Total:      120.50,
		Currency:   "USD",
		OccurredAt: occurredAt,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Attributes["eventType"] != "order.status.changed" {
		t.Fatalf("unexpected eventType attribute %q", msgs[0].Attributes["eventType"])
	}
	if msgs[0].Attributes["orderId"] != "ord_42" {
		t.Fatalf("unexpected orderId attribute %q", msgs[0].Attributes["orderId"])
	}
	if msgs[0].Attributes["status"] != "SHIPPED" {
		t.Fatalf("unexpected status attribute %q", msgs[0].Attributes["status"])
	}

	var decoded domain.OrderEvent
	if err := json.Unmarshal(msgs[0].Data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.OrderID != event.OrderID || decoded.Total != event.Total {
		t.Fatalf("payload mismatch: %+v", decoded)
	}
}

func TestPubSubInventoryEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	topic, srv := newTestTopic(t, "inventory-events")

	publisher, err := NewPubSubInventoryEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubInventoryEventPublisher: %v", err)
	}

	event := domain.InventoryStockEvent{
		Type:       "inventory.debited",
		TenantID:   "tenant-1",
		SKU:        "SKU-9",
		OrderRef:   "ord_42",
		Delta:      -3,
		Stock:      7,
		Threshold:  5,
		OccurredAt: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishInventoryEvent(ctx, event); err != nil {
		t.Fatalf("PublishInventoryEvent: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Attributes["sku"] != "SKU-9" {
		t.Fatalf("unexpected sku attribute %q", msgs[0].Attributes["sku"])
	}
	if msgs[0].Attributes["orderRef"] != "ord_42" {
		t.Fatalf("unexpected orderRef attribute %q", msgs[0].Attributes["orderRef"])
	}

	var decoded domain.InventoryStockEvent
	if err := json.Unmarshal(msgs[0].Data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.Delta != -3 || decoded.Stock != 7 {
		t.Fatalf("payload mismatch: %+v", decoded)
	}
}

func TestPublishersRequireTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewPubSubInventoryEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
