package agentcontext

import (
	"context"

	"github.com/zeroshot-run/zeroshot/internal/config"
	"github.com/zeroshot-run/zeroshot/internal/contextpack"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

func metricsEnabled() bool       { return config.ContextMetricsEnabled() }
func metricsLedgerEnabled() bool { return config.ContextMetricsLedgerEnabled() }

// publishMetrics emits a CONTEXT_METRICS message so downstream tooling
// (exports, dashboards) can reconstruct how much of the token budget
// each agent run consumed without re-deriving it from the ledger.
func (cb *Builder) publishMetrics(agentID string, result contextpack.Result) {
	decisions := make([]any, 0, len(result.Decisions))
	for _, d := range result.Decisions {
		decisions = append(decisions, map[string]any{
			"pack_id":   d.PackID,
			"status":    string(d.Status),
			"variant":   string(d.Variant),
			"chars":     d.Chars,
			"tokens":    d.Tokens,
			"truncated": d.Truncated,
			"reason":    d.Reason,
		})
	}
	msg := message.Message{
		Topic:  message.TopicContextMetrics,
		Sender: message.SenderSystem,
		Content: message.Content{
			Data: map[string]any{
				"agent_id":           agentID,
				"used_tokens":        result.UsedTokens,
				"max_tokens":         result.MaxTokens,
				"over_budget_tokens": result.OverBudgetTokens,
				"chars":              len(result.Context),
				"decisions":          decisions,
			},
		},
	}
	if _, err := cb.bus.Publish(context.Background(), msg); err != nil {
		cb.logger.Error("agentcontext: publish context metrics", err, "agent_id", agentID)
	}
}
