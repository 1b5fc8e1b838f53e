package contextpack

import "testing"

func TestEstimateTokensCeilsAndZero(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"a":    1,
		"abcd": 1,
		"abcde": 2,
		"abcdefgh": 2,
		"abcdefghi": 3,
	}
	for s, want := range cases {
		if got := EstimateTokens(s); got != want {
			t.Fatalf("EstimateTokens(%q) = %d, want %d", s, got, want)
		}
	}
}

func TestRequiredPacksNeverDropped(t *testing.T) {
	b := Builder{MaxTokens: 1}
	result := b.Build([]Pack{
		{ID: "issue", Priority: PriorityRequired, Order: 0, Render: func() string { return "full issue text that is somewhat long" }},
		{ID: "trigger", Priority: PriorityRequired, Order: 1, Preserve: true, Render: func() string { return "triggering message" }},
	})
	for _, d := range result.Decisions {
		if d.Status != StatusIncluded {
			t.Fatalf("required pack %s was skipped: %+v", d.PackID, d)
		}
	}
}

func TestOptionalPackSkippedWhenOverBudget(t *testing.T) {
	b := Builder{MaxTokens: 1}
	result := b.Build([]Pack{
		{ID: "required", Priority: PriorityRequired, Order: 0, Render: func() string { return "x" }},
		{ID: "optional", Priority: PriorityLow, Order: 1, Render: func() string { return "this is a long optional string that should not fit" }},
	})
	var optionalDecision Decision
	for _, d := range result.Decisions {
		if d.PackID == "optional" {
			optionalDecision = d
		}
	}
	if optionalDecision.Status != StatusSkipped || optionalDecision.Reason != "budget" {
		t.Fatalf("expected optional pack skipped for budget, got %+v", optionalDecision)
	}
}

func TestOptionalPackUsesCompactWhenFullDoesNotFit(t *testing.T) {
	full := ""
	for i := 0; i < 300000; i++ {
		full += "x"
	}
	b := Builder{MaxTokens: 2000}
	result := b.Build([]Pack{
		{ID: "issue", Priority: PriorityRequired, Order: 0, Render: func() string { return "issue" }},
		{ID: "huge", Priority: PriorityLow, Order: 1, Render: func() string { return full }, Compact: func() string { return "compact" }},
	})
	if len(result.Context) >= 2000*4 {
		t.Fatalf("expected compacted context to fit under budget, got %d chars", len(result.Context))
	}
	var huge Decision
	for _, d := range result.Decisions {
		if d.PackID == "huge" {
			huge = d
		}
	}
	if huge.Status != StatusIncluded || huge.Variant != VariantCompact {
		t.Fatalf("expected huge pack included as compact, got %+v", huge)
	}
}

func TestCharGuardCapsTotalLength(t *testing.T) {
	long := ""
	for i := 0; i < 10; i++ {
		long += "0123456789"
	}
	b := Builder{MaxTokens: 1_000_000, MaxChars: 50}
	result := b.Build([]Pack{
		{ID: "required", Priority: PriorityRequired, Order: 0, Preserve: true, Render: func() string { return long }},
	})
	if len(result.Context) > 50 {
		t.Fatalf("expected context length <= 50, got %d", len(result.Context))
	}
}

func TestRenderFollowsOriginalOrderNotSelectionOrder(t *testing.T) {
	b := Builder{MaxTokens: 1_000_000}
	result := b.Build([]Pack{
		{ID: "second", Priority: PriorityLow, Order: 1, Render: func() string { return "B" }},
		{ID: "first", Priority: PriorityRequired, Order: 0, Render: func() string { return "A" }},
	})
	if result.Context != "AB" {
		t.Fatalf("expected context in original order AB, got %q", result.Context)
	}
}
