// Package bus implements the in-process publish/subscribe layer that
// sits above one cluster's Ledger. It validates and persists every
// message before fanning it out, so subscribers always observe the
// stored (id/timestamp-assigned) form.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

// Handler processes one delivered message. A Handler that panics is
// recovered by the bus and logged; it never prevents delivery to
// siblings or corrupts the publish call.
type Handler func(message.Message)

// Unsubscribe removes a subscription registered via Subscribe,
// SubscribeTopic, or SubscribeTopics. Calling it more than once is safe.
type Unsubscribe func()

// MessageBus is the pub/sub layer above one cluster's Ledger.
type MessageBus struct {
	ledger    *ledger.Ledger
	clusterID string
	logger    logging.Logger

	mu   sync.RWMutex
	subs []*subscription
}

type subscription struct {
	topics map[string]struct{} // nil means "all topics"
	handler Handler
}

func (s *subscription) matches(topic string) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// New builds a MessageBus above an already-open Ledger.
func New(l *ledger.Ledger, clusterID string, logger logging.Logger) *MessageBus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &MessageBus{ledger: l, clusterID: clusterID, logger: logger}
}

// Publish validates msg, appends it through the Ledger, and synchronously
// invokes every matching subscriber in registration order. It returns the
// stored form of the message (with id/timestamp assigned).
func (b *MessageBus) Publish(ctx context.Context, msg message.Message) (message.Message, error) {
	if msg.ClusterID == "" {
		msg.ClusterID = b.clusterID
	}
	msg.Normalize()
	if err := msg.Validate(); err != nil {
		return message.Message{}, err
	}

	stored, err := b.ledger.Append(ctx, msg)
	if err != nil {
		return message.Message{}, err
	}

	for _, sub := range b.snapshotSubscribers() {
		if !sub.matches(stored.Topic) {
			continue
		}
		b.deliver(sub, stored)
	}
	return stored, nil
}

// Subscribe registers fn for every message published on this bus.
func (b *MessageBus) Subscribe(fn Handler) Unsubscribe {
	return b.addSubscription(&subscription{topics: nil, handler: fn})
}

// SubscribeTopic registers fn for messages on a single topic.
func (b *MessageBus) SubscribeTopic(topic string, fn Handler) Unsubscribe {
	return b.addSubscription(&subscription{topics: map[string]struct{}{topic: {}}, handler: fn})
}

// SubscribeTopics registers fn for messages on any of the given topics.
func (b *MessageBus) SubscribeTopics(topics []string, fn Handler) Unsubscribe {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return b.addSubscription(&subscription{topics: set, handler: fn})
}

// Query passes through to the underlying Ledger, scoping ClusterID when
// the caller left it empty.
func (b *MessageBus) Query(ctx context.Context, opts ledger.QueryOptions) ([]message.Message, error) {
	if opts.ClusterID == "" {
		opts.ClusterID = b.clusterID
	}
	return b.ledger.Query(ctx, opts)
}

// FindLast passes through to the underlying Ledger.
func (b *MessageBus) FindLast(ctx context.Context, opts ledger.QueryOptions) (*message.Message, error) {
	if opts.ClusterID == "" {
		opts.ClusterID = b.clusterID
	}
	return b.ledger.FindLast(ctx, opts)
}

func (b *MessageBus) addSubscription(sub *subscription) Unsubscribe {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { b.removeSubscription(sub) })
	}
}

func (b *MessageBus) removeSubscription(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// snapshotSubscribers copies the current subscriber list under a read
// lock so a handler mutating subscriptions mid-fan-out (subscribing or
// unsubscribing) never invalidates the iteration in progress.
func (b *MessageBus) snapshotSubscribers() []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*subscription, len(b.subs))
	copy(out, b.subs)
	return out
}

func (b *MessageBus) deliver(sub *subscription, msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus: subscriber panicked", fmt.Errorf("%v", r), "topic", msg.Topic, "cluster_id", b.clusterID)
		}
	}()
	sub.handler(msg)
}
