package agentcontext

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/contextpack"
	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

const (
	strategyLatest = "latest"
	strategyOldest = "oldest"
	strategyAll    = "all"
)

// defaultPriorityForTopic picks a contextpack.Priority for a source that
// does not declare one explicitly.
func defaultPriorityForTopic(topic string) contextpack.Priority {
	switch topic {
	case message.TopicStateSnapshot, message.TopicIssueOpened, message.TopicPlanReady:
		return contextpack.PriorityRequired
	case message.TopicValidationResult, message.TopicImplementationReady:
		return contextpack.PriorityHigh
	default:
		return contextpack.PriorityMedium
	}
}

func resolvedPriority(src cluster.Source) contextpack.Priority {
	if src.Priority != "" {
		return contextpack.Priority(src.Priority)
	}
	return defaultPriorityForTopic(src.Topic)
}

func resolvedCompactStrategy(strategy, compactStrategy string) string {
	if compactStrategy != "" {
		return compactStrategy
	}
	if strategy == strategyAll {
		return strategyLatest
	}
	if strategy == "" {
		return strategyLatest
	}
	return strategy
}

func resolvedCompactAmount(amount int) int {
	if amount > 0 {
		return amount
	}
	return 1
}

// sourcePack builds a contextpack.Pack that queries b for one
// contextStrategy source entry. order is the pack's position in the
// final rendered context.
func sourcePack(b *bus.MessageBus, src cluster.Source, anchors Anchors, order int, warnDeprecatedLimit func(topic string)) (contextpack.Pack, error) {
	amount, usedLimit := src.ResolvedAmount()
	if usedLimit && warnDeprecatedLimit != nil {
		warnDeprecatedLimit(src.Topic)
	}
	strategy := src.Strategy
	if strategy == "" {
		strategy = strategyLatest
	}
	compactStrategy := resolvedCompactStrategy(strategy, src.CompactStrategy)
	compactAmount := resolvedCompactAmount(src.CompactAmount)

	since, err := resolveSince(src.Since, anchors)
	if err != nil {
		return contextpack.Pack{}, err
	}

	render := func(strat string, amt int) func() string {
		return func() string {
			msgs, err := queryBySourceStrategy(b, src.Topic, src.Sender, since, strat, amt)
			if err != nil {
				return fmt.Sprintf("### %s\n(error resolving source: %v)\n", src.Topic, err)
			}
			return renderMessages(src.Topic, msgs)
		}
	}

	return contextpack.Pack{
		ID:       fmt.Sprintf("source:%s:%d", src.Topic, order),
		Section:  src.Topic,
		Priority: resolvedPriority(src),
		Order:    order,
		Render:   render(strategy, amount),
		Compact:  render(compactStrategy, compactAmount),
	}, nil
}

func queryBySourceStrategy(b *bus.MessageBus, topic, sender string, since *int64, strategy string, amount int) ([]message.Message, error) {
	opts := ledger.QueryOptions{Topic: topic, Sender: sender, Since: since}
	switch strategy {
	case strategyOldest:
		opts.Order = "asc"
		if amount > 0 {
			opts.Limit = amount
		}
		return b.Query(context.Background(), opts)
	case strategyAll:
		opts.Order = "asc"
		if amount > 0 {
			opts.Limit = amount
		}
		return b.Query(context.Background(), opts)
	default: // latest
		opts.Order = "desc"
		if amount > 0 {
			opts.Limit = amount
		} else {
			opts.Limit = 1
		}
		msgs, err := b.Query(context.Background(), opts)
		if err != nil {
			return nil, err
		}
		reverseMessages(msgs)
		return msgs, nil
	}
}

func reverseMessages(msgs []message.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func renderMessages(topic string, msgs []message.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n", topic)
	for _, m := range msgs {
		fmt.Fprintf(&sb, "- [%s] %s\n", m.Sender, renderContent(m))
	}
	return sb.String()
}

func renderContent(m message.Message) string {
	if m.Content.Text != "" {
		return m.Content.Text
	}
	if len(m.Content.Data) == 0 {
		return "(no content)"
	}
	return fmt.Sprintf("%v", m.Content.Data)
}
