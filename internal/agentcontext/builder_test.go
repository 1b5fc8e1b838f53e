package agentcontext

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

func newTestBus(t *testing.T) *bus.MessageBus {
	t.Helper()
	l, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "c.db"), "c1")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return bus.New(l, "c1", logging.Nop())
}

func triggering(topic string) message.Message {
	return message.Message{Topic: topic, Sender: "system", Content: message.Content{Text: "go"}}
}

func TestBuildIncludesHeaderInstructionsAndTriggeringMessage(t *testing.T) {
	b := newTestBus(t)
	cb := New(b, logging.Nop())

	agent := cluster.AgentConfig{ID: "worker-1", Role: "worker", Prompt: "Implement the feature."}
	result, err := cb.Build(Input{Agent: agent, Iteration: 1, TriggeringMessage: triggering(message.TopicIssueOpened)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(result.Context, "Implement the feature.") {
		t.Fatalf("expected instructions in context, got %q", result.Context)
	}
	if !strings.Contains(result.Context, "worker-1") {
		t.Fatalf("expected header with agent id, got %q", result.Context)
	}
	if !strings.Contains(result.Context, "Triggering Message") {
		t.Fatalf("expected triggering message section, got %q", result.Context)
	}
}

func TestBuildInjectsValidatorSkipSectionForCannotValidateCriteria(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	_, err := b.Publish(ctx, message.Message{
		Topic:  message.TopicValidationResult,
		Sender: "validator",
		Content: message.Content{Data: map[string]any{
			"criteria": []any{
				map[string]any{"id": "AC-1", "status": "CANNOT_VALIDATE", "reason": "no test harness for this repo"},
				map[string]any{"id": "AC-2", "status": "CANNOT_VALIDATE_YET", "reason": "implementation pending"},
				map[string]any{"id": "AC-3", "status": "PASSED"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	cb := New(b, logging.Nop())
	agent := cluster.AgentConfig{ID: "validator-1", Role: "validator", Prompt: "Validate the acceptance criteria."}
	result, err := cb.Build(Input{Agent: agent, Iteration: 2, TriggeringMessage: triggering(message.TopicImplementationReady)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(result.Context, "AC-1") {
		t.Fatalf("expected permanently unverifiable AC-1 to be listed, got %q", result.Context)
	}
	if strings.Contains(result.Context, "AC-2") {
		t.Fatalf("expected CANNOT_VALIDATE_YET criterion to be excluded, got %q", result.Context)
	}
	if strings.Contains(result.Context, "AC-3") {
		t.Fatalf("expected passed criterion to be excluded, got %q", result.Context)
	}
}

func TestBuildDemotesPlatformMismatchCriteriaForIsolatedAgents(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	_, err := b.Publish(ctx, message.Message{
		Topic:  message.TopicValidationResult,
		Sender: "validator",
		Content: message.Content{Data: map[string]any{
			"criteria": []any{
				map[string]any{"id": "AC-1", "status": "CANNOT_VALIDATE", "reason": "requires macOS Keychain access"},
				map[string]any{"id": "AC-2", "status": "CANNOT_VALIDATE", "reason": "no network access in this sandbox"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	cb := New(b, logging.Nop())
	agent := cluster.AgentConfig{ID: "validator-1", Role: "validator", Prompt: "Validate.", Isolation: "worktree"}
	result, err := cb.Build(Input{Agent: agent, Iteration: 1, TriggeringMessage: triggering(message.TopicImplementationReady)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(result.Context, "AC-1") {
		t.Fatalf("expected platform-mismatch AC-1 to be dropped for isolated agent, got %q", result.Context)
	}
	if !strings.Contains(result.Context, "AC-2") {
		t.Fatalf("expected non-platform AC-2 to remain, got %q", result.Context)
	}
}

func TestBuildDemotesPackageArchMismatchCriteriaForIsolatedAgents(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	_, err := b.Publish(ctx, message.Message{
		Topic:  message.TopicValidationResult,
		Sender: "validator",
		Content: message.Content{Data: map[string]any{
			"criteria": []any{
				map[string]any{"id": "AC-1", "status": "CANNOT_VALIDATE", "reason": "EBADPLATFORM @esbuild/linux-x64"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	cb := New(b, logging.Nop())
	agent := cluster.AgentConfig{ID: "validator-1", Role: "validator", Prompt: "Validate.", Isolation: "worktree"}
	result, err := cb.Build(Input{Agent: agent, Iteration: 1, TriggeringMessage: triggering(message.TopicImplementationReady)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(result.Context, "AC-1") {
		t.Fatalf("expected EBADPLATFORM criterion to be dropped for isolated agent, got %q", result.Context)
	}
}

func TestBuildResolvesSinceAnchorsForDynamicSources(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	_, err := b.Publish(ctx, message.Message{Topic: message.TopicPlanReady, Sender: "planner", Content: message.Content{Text: "the plan"}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	cb := New(b, logging.Nop())
	agent := cluster.AgentConfig{
		ID:   "worker-1",
		Role: "worker",
		Prompt: "Build it.",
		ContextStrategy: &cluster.ContextStrategy{
			Sources: []cluster.Source{
				{Topic: message.TopicPlanReady, Since: "cluster_start", Strategy: "latest"},
			},
		},
	}
	result, err := cb.Build(Input{Agent: agent, Iteration: 1, Anchors: Anchors{ClusterStart: 0}, TriggeringMessage: triggering(message.TopicIssueOpened)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(result.Context, "the plan") {
		t.Fatalf("expected plan source content in context, got %q", result.Context)
	}
}

func TestBuildRejectsUnknownSinceToken(t *testing.T) {
	b := newTestBus(t)
	cb := New(b, logging.Nop())
	agent := cluster.AgentConfig{
		ID:   "worker-1",
		Role: "worker",
		ContextStrategy: &cluster.ContextStrategy{
			Sources: []cluster.Source{{Topic: message.TopicPlanReady, Since: "yesterday"}},
		},
	}
	_, err := cb.Build(Input{Agent: agent, TriggeringMessage: triggering(message.TopicIssueOpened)})
	if err == nil {
		t.Fatalf("expected ConfigError for unrecognized since token")
	}
}

func TestBuildIncludesJSONSchemaSectionWhenConfigured(t *testing.T) {
	b := newTestBus(t)
	cb := New(b, logging.Nop())
	agent := cluster.AgentConfig{
		ID:           "worker-1",
		Role:         "worker",
		Prompt:       "Report status.",
		OutputFormat: "json",
		JSONSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{"type": "string"},
			},
			"required": []any{"status"},
		},
	}
	result, err := cb.Build(Input{Agent: agent, TriggeringMessage: triggering(message.TopicIssueOpened)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(result.Context, "\"status\"") {
		t.Fatalf("expected json schema section in context, got %q", result.Context)
	}
}
