package taskrunner

import (
	"context"
	"testing"
)

func TestMockRunnerReturnsQueuedResponsesInOrder(t *testing.T) {
	m := NewMockRunner()
	m.Enqueue(Result{Success: true, Output: "first"}, nil)
	m.Enqueue(Result{Success: false, Error: "boom"}, nil)

	r1, err := m.Run(context.Background(), "p1", Options{AgentID: "a"})
	if err != nil || r1.Output != "first" {
		t.Fatalf("unexpected first result: %+v, err=%v", r1, err)
	}
	r2, err := m.Run(context.Background(), "p2", Options{AgentID: "a"})
	if err != nil || r2.Success || r2.Error != "boom" {
		t.Fatalf("unexpected second result: %+v, err=%v", r2, err)
	}
	if len(m.Calls()) != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", len(m.Calls()))
	}
}

func TestMockRunnerDefaultsToSuccessWhenQueueEmpty(t *testing.T) {
	m := NewMockRunner()
	r, err := m.Run(context.Background(), "p", Options{})
	if err != nil || !r.Success {
		t.Fatalf("expected default success, got %+v, err=%v", r, err)
	}
}

func TestProcessRunnerReportsFailureOnNonzeroExit(t *testing.T) {
	r := NewProcessRunner("false")
	result, err := r.Run(context.Background(), "prompt", Options{AgentID: "a"})
	if err == nil {
		t.Fatalf("expected error for nonzero exit")
	}
	if result.Success {
		t.Fatalf("expected Success=false on nonzero exit")
	}
}

func TestProcessRunnerCapturesStdout(t *testing.T) {
	r := NewProcessRunner("cat")
	result, err := r.Run(context.Background(), "hello", Options{AgentID: "a"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Output != "hello" {
		t.Fatalf("expected stdout to echo stdin, got %q", result.Output)
	}
}
