package agentwrapper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
	"github.com/zeroshot-run/zeroshot/internal/taskrunner"
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

func waitForState(t *testing.T, w *Wrapper, want cluster.AgentState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Snapshot().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, w.Snapshot().State)
}

func TestWrapperExecutesOnMatchingTriggerAndReturnsToIdle(t *testing.T) {
	b := newTestBus(t)
	runner := taskrunner.NewMockRunner()
	runner.Enqueue(taskrunner.Result{Success: true, Output: `{"summary":"done"}`}, nil)

	cfg := cluster.AgentConfig{
		ID:       "planner",
		Role:     "planner",
		Prompt:   "Write a plan.",
		Triggers: []cluster.Trigger{{Topic: message.TopicIssueOpened}},
		Hooks: cluster.Hooks{OnComplete: &cluster.Hook{
			Action: cluster.HookActionPublishMessage,
			Config: map[string]any{"topic": message.TopicPlanReady},
		}},
	}
	w := New(cfg, b, Options{Runner: runner})

	w.HandleMessage(context.Background(), message.Message{Topic: message.TopicIssueOpened, Sender: "user", ClusterID: "c1"})
	waitForState(t, w, cluster.AgentIdle)

	snap := w.Snapshot()
	if snap.Iteration != 1 {
		t.Fatalf("expected iteration 1, got %d", snap.Iteration)
	}

	msgs, err := b.Query(context.Background(), ledger.QueryOptions{Topic: message.TopicPlanReady})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one PLAN_READY message published, got %d", len(msgs))
	}
}

func TestWrapperIgnoresTriggerWithFalsyLogic(t *testing.T) {
	b := newTestBus(t)
	runner := taskrunner.NewMockRunner()
	cfg := cluster.AgentConfig{
		ID:     "gatekeeper",
		Role:   "worker",
		Prompt: "Act.",
		Triggers: []cluster.Trigger{{
			Topic:  message.TopicIssueOpened,
			Logic:  "return false",
		}},
	}
	w := New(cfg, b, Options{Runner: runner})
	w.HandleMessage(context.Background(), message.Message{Topic: message.TopicIssueOpened, Sender: "user", ClusterID: "c1"})

	time.Sleep(20 * time.Millisecond)
	if len(runner.Calls()) != 0 {
		t.Fatalf("expected logic=false to suppress execution, got %d runner calls", len(runner.Calls()))
	}
	if w.Snapshot().State != cluster.AgentIdle {
		t.Fatalf("expected agent to remain idle, got %s", w.Snapshot().State)
	}
}

func TestWrapperStopsClusterOnStopTrigger(t *testing.T) {
	b := newTestBus(t)
	var stopped string
	cfg := cluster.AgentConfig{
		ID:   "closer",
		Role: "closer",
		Triggers: []cluster.Trigger{{
			Topic:  message.TopicClusterComplete,
			Action: cluster.ActionStopCluster,
		}},
	}
	w := New(cfg, b, Options{OnStop: func(reason string) { stopped = reason }})
	w.HandleMessage(context.Background(), message.Message{Topic: message.TopicClusterComplete, Sender: "system", ClusterID: "c1"})

	if stopped == "" {
		t.Fatalf("expected OnStop to be invoked")
	}
	if w.Snapshot().State != cluster.AgentStopped {
		t.Fatalf("expected agent state stopped, got %s", w.Snapshot().State)
	}
}

func TestWrapperReturnsToIdleAfterRunnerFailure(t *testing.T) {
	b := newTestBus(t)
	runner := taskrunner.NewMockRunner()
	runner.Enqueue(taskrunner.Result{Success: false, Error: "exit status 1"}, nil)

	cfg := cluster.AgentConfig{
		ID:       "worker",
		Role:     "worker",
		Prompt:   "Act.",
		Triggers: []cluster.Trigger{{Topic: message.TopicIssueOpened}},
	}
	w := New(cfg, b, Options{Runner: runner})
	w.HandleMessage(context.Background(), message.Message{Topic: message.TopicIssueOpened, Sender: "user", ClusterID: "c1"})

	waitForState(t, w, cluster.AgentIdle)
	if w.Snapshot().IsTerminal() {
		t.Fatalf("expected a transient runner failure to leave the agent retriggerable, got terminal state %s", w.Snapshot().State)
	}
}

func TestWrapperStopsAfterMaxIterations(t *testing.T) {
	b := newTestBus(t)
	runner := taskrunner.NewMockRunner()
	runner.Enqueue(taskrunner.Result{Success: true, Output: "ok"}, nil)

	cfg := cluster.AgentConfig{
		ID:            "onceonly",
		Role:          "worker",
		Prompt:        "Act.",
		MaxIterations: 1,
		Triggers:      []cluster.Trigger{{Topic: message.TopicIssueOpened}},
	}
	w := New(cfg, b, Options{Runner: runner})
	w.HandleMessage(context.Background(), message.Message{Topic: message.TopicIssueOpened, Sender: "user", ClusterID: "c1"})
	waitForState(t, w, cluster.AgentStopped)
}
