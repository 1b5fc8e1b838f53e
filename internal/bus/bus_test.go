package bus

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

func newTestBus(t *testing.T) *MessageBus {
	t.Helper()
	l, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "c.db"), "c1")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return New(l, "c1", logging.Nop())
}

func TestPublishValidatesBeforeAppending(t *testing.T) {
	b := newTestBus(t)
	_, err := b.Publish(context.Background(), message.Message{Topic: "", Sender: "user"})
	if err == nil {
		t.Fatalf("expected validation error for missing topic")
	}
}

func TestSubscribeTopicReceivesOnlyMatchingTopic(t *testing.T) {
	b := newTestBus(t)
	var mu sync.Mutex
	var seen []string
	b.SubscribeTopic("PLAN_READY", func(m message.Message) {
		mu.Lock()
		seen = append(seen, m.Topic)
		mu.Unlock()
	})

	ctx := context.Background()
	if _, err := b.Publish(ctx, message.Message{Topic: "ISSUE_OPENED", Sender: "user"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Publish(ctx, message.Message{Topic: "PLAN_READY", Sender: "planner"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "PLAN_READY" {
		t.Fatalf("expected exactly one PLAN_READY delivery, got %v", seen)
	}
}

func TestSubscribeAllReceivesEveryTopicInOrder(t *testing.T) {
	b := newTestBus(t)
	var mu sync.Mutex
	var order []string
	b.Subscribe(func(m message.Message) {
		mu.Lock()
		order = append(order, "all:"+m.Topic)
		mu.Unlock()
	})
	b.SubscribeTopic("ISSUE_OPENED", func(m message.Message) {
		mu.Lock()
		order = append(order, "specific:"+m.Topic)
		mu.Unlock()
	})

	if _, err := b.Publish(context.Background(), message.Message{Topic: "ISSUE_OPENED", Sender: "user"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"all:ISSUE_OPENED", "specific:ISSUE_OPENED"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("expected delivery in registration order %v, got %v", want, order)
	}
}

func TestPanickingSubscriberDoesNotBreakSiblings(t *testing.T) {
	b := newTestBus(t)
	var delivered bool
	b.Subscribe(func(m message.Message) {
		panic("boom")
	})
	b.Subscribe(func(m message.Message) {
		delivered = true
	})

	if _, err := b.Publish(context.Background(), message.Message{Topic: "ISSUE_OPENED", Sender: "user"}); err != nil {
		t.Fatalf("publish should not fail even if a subscriber panics: %v", err)
	}
	if !delivered {
		t.Fatalf("expected sibling subscriber to still be invoked")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	count := 0
	unsub := b.Subscribe(func(m message.Message) { count++ })
	ctx := context.Background()
	if _, err := b.Publish(ctx, message.Message{Topic: "ISSUE_OPENED", Sender: "user"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	unsub()
	if _, err := b.Publish(ctx, message.Message{Topic: "ISSUE_OPENED", Sender: "user"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}
