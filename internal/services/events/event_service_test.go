package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

func TestSubscribeRejectsNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	if err := svc.Subscribe(interfaces.EventBatchCreated, nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var delivered atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		delivered.Add(1)
		return nil
	}
	if err := svc.Subscribe(interfaces.EventBatchStatusChange, handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := svc.Subscribe(interfaces.EventBatchStatusChange, handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventBatchStatusChange,
		Payload: "payload",
	})
	if err != nil {
		t.Fatalf("PublishSync failed: %v", err)
	}
	if delivered.Load() != 2 {
		t.Errorf("delivered = %d, want 2", delivered.Load())
	}
}

func TestPublishAsyncEventuallyDelivers(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	received := make(chan interfaces.Event, 1)
	err := svc.Subscribe(interfaces.EventSubTaskProgress, func(ctx context.Context, event interfaces.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventSubTaskProgress,
		Payload: 42,
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.Payload != 42 {
			t.Errorf("payload = %v, want 42", event.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishToEventTypeWithoutSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	if err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventBatchCreated}); err != nil {
		t.Errorf("Publish with no subscribers returned %v", err)
	}
}

func TestPublishSyncReportsHandlerFailures(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	if err := svc.Subscribe(interfaces.EventBatchProgress, func(ctx context.Context, event interfaces.Event) error {
		return context.Canceled
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventBatchProgress}); err == nil {
		t.Error("expected error from failing handler")
	}
}

func TestCloseDropsSubscriptions(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	var delivered atomic.Int32
	_ = svc.Subscribe(interfaces.EventBatchCreated, func(ctx context.Context, event interfaces.Event) error {
		delivered.Add(1)
		return nil
	})

	if err := svc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventBatchCreated})

	if delivered.Load() != 0 {
		t.Errorf("handler ran after Close")
	}
}
