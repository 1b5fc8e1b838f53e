package cluster

import "testing"

func TestResolveModelFirstMatchWins(t *testing.T) {
	rules := []ModelRule{
		{Iterations: "1-3", Model: "sonnet"},
		{Iterations: "all", Model: "opus"},
	}
	model, err := ResolveModel(rules, 2)
	if err != nil || model != "sonnet" {
		t.Fatalf("expected sonnet for iteration 2, got %q, err=%v", model, err)
	}
	model, err = ResolveModel(rules, 5)
	if err != nil || model != "opus" {
		t.Fatalf("expected opus for iteration 5, got %q, err=%v", model, err)
	}
}

func TestResolveModelOpenEndedPattern(t *testing.T) {
	rules := []ModelRule{
		{Iterations: "1-2", Model: "sonnet"},
		{Iterations: "3+", Model: "opus"},
	}
	model, err := ResolveModel(rules, 10)
	if err != nil || model != "opus" {
		t.Fatalf("expected opus for iteration 10, got %q, err=%v", model, err)
	}
}

func TestResolveModelErrorsWithoutCatchAll(t *testing.T) {
	rules := []ModelRule{{Iterations: "1-2", Model: "sonnet"}}
	if _, err := ResolveModel(rules, 5); err == nil {
		t.Fatalf("expected error when no rule matches")
	}
}

func TestHasCatchAllRule(t *testing.T) {
	if HasCatchAllRule([]ModelRule{{Iterations: "1-2"}}) {
		t.Fatalf("expected no catch-all")
	}
	if !HasCatchAllRule([]ModelRule{{Iterations: "1-2"}, {Iterations: "all"}}) {
		t.Fatalf("expected catch-all detected")
	}
}
