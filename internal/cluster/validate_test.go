package cluster

import "testing"

func validConfig() Config {
	return Config{Agents: []AgentConfig{
		{
			ID: "worker", Role: "implementation",
			Triggers: []Trigger{{Topic: "ISSUE_OPENED", Action: ActionExecuteTask}},
			Hooks:    Hooks{OnComplete: &Hook{Action: HookActionPublishMessage, Config: map[string]any{"topic": "CLUSTER_COMPLETE"}}},
		},
		{
			ID: "completion", Role: "orchestrator",
			Triggers: []Trigger{{Topic: "CLUSTER_COMPLETE", Action: ActionStopCluster}},
		},
	}}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	report := Validate(validConfig())
	if !report.OK() {
		t.Fatalf("expected valid config, got errors: %v", report.Errors)
	}
}

func TestValidateRejectsMissingID(t *testing.T) {
	cfg := validConfig()
	cfg.Agents[0].ID = ""
	report := Validate(cfg)
	if report.OK() {
		t.Fatalf("expected error for missing id")
	}
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Agents[1].ID = cfg.Agents[0].ID
	report := Validate(cfg)
	if report.OK() {
		t.Fatalf("expected error for duplicate id")
	}
}

func TestValidateRejectsMissingIssueOpenedConsumer(t *testing.T) {
	cfg := validConfig()
	cfg.Agents[0].Triggers[0].Topic = "SOMETHING_ELSE"
	report := Validate(cfg)
	found := false
	for _, e := range report.Errors {
		if containsSubstring(e, "ISSUE_OPENED") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ISSUE_OPENED consumer error, got %v", report.Errors)
	}
}

func TestValidateRejectsMultipleStopClusterHandlers(t *testing.T) {
	cfg := validConfig()
	cfg.Agents = append(cfg.Agents, AgentConfig{
		ID: "completion2", Role: "orchestrator",
		Triggers: []Trigger{{Topic: "CLUSTER_COMPLETE", Action: ActionStopCluster}},
	})
	report := Validate(cfg)
	if report.OK() {
		t.Fatalf("expected error for multiple stop_cluster handlers")
	}
}

func TestValidateRejectsModelRulesMissingCatchAll(t *testing.T) {
	cfg := validConfig()
	cfg.Agents[0].ModelRules = []ModelRule{{Iterations: "1-3", Model: "sonnet"}}
	report := Validate(cfg)
	if report.OK() {
		t.Fatalf("expected error for modelRules missing catch-all")
	}
}

func TestValidateWarnsOnJSONWithoutSchema(t *testing.T) {
	cfg := validConfig()
	cfg.Agents[0].OutputFormat = "json"
	report := Validate(cfg)
	if !report.OK() {
		t.Fatalf("json-without-schema should warn, not error: %v", report.Errors)
	}
	if len(report.Warnings) == 0 {
		t.Fatalf("expected a warning for json output without schema")
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
