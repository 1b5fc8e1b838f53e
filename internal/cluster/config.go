// Package cluster defines the declarative cluster configuration shape
// and the runtime Cluster/Agent records the Orchestrator manages.
package cluster

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxSubclusterDepth bounds how deeply "type": "subcluster" agents may
// nest inside one another.
const MaxSubclusterDepth = 5

// ModelRule selects a model for a range of iterations. Iterations is one
// of "all", "N", "M-N", or "N+". At least one rule in an agent's list must
// be a catch-all: "all" or "1+".
type ModelRule struct {
	Iterations string `json:"iterations"`
	Model      string `json:"model"`
}

// Trigger declares when an agent should act.
type Trigger struct {
	Topic  string `json:"topic"`
	Action string `json:"action"` // "execute_task" (default) or "stop_cluster"
	Logic  string `json:"logic,omitempty"`
}

const (
	ActionExecuteTask = "execute_task"
	ActionStopCluster = "stop_cluster"
)

// Source describes one ledger-backed dynamic context pack. Unknown keys
// in the source JSON object must be rejected by the decoder that feeds
// this struct (handled by UnmarshalJSON below).
type Source struct {
	Topic           string `json:"topic"`
	Sender          string `json:"sender,omitempty"`
	Since           string `json:"since,omitempty"`
	Strategy        string `json:"strategy,omitempty"`
	Amount          int    `json:"amount,omitempty"`
	Limit           int    `json:"limit,omitempty"` // deprecated alias for Amount
	CompactAmount   int    `json:"compactAmount,omitempty"`
	CompactStrategy string `json:"compactStrategy,omitempty"`
	Priority        string `json:"priority,omitempty"`
}

var sourceFields = map[string]struct{}{
	"topic": {}, "sender": {}, "since": {}, "strategy": {}, "amount": {},
	"limit": {}, "compactAmount": {}, "compactStrategy": {}, "priority": {},
}

// UnmarshalJSON rejects source objects with unrecognized keys, keeping
// the dynamic-source parameter set a closed, checkable list.
func (s *Source) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, ok := sourceFields[key]; !ok {
			return fmt.Errorf("contextStrategy source: unrecognized key %q", key)
		}
	}
	type plain Source
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Source(p)
	return nil
}

// ResolvedAmount returns Amount, falling back to the deprecated Limit
// alias. Amount takes precedence per the spec's open-question resolution.
func (s Source) ResolvedAmount() (amount int, usedDeprecatedLimit bool) {
	if s.Amount > 0 {
		return s.Amount, false
	}
	if s.Limit > 0 {
		return s.Limit, true
	}
	return 0, false
}

// ContextStrategy declares which ledger messages feed an agent's prompt.
type ContextStrategy struct {
	Sources   []Source `json:"sources"`
	MaxTokens int      `json:"maxTokens,omitempty"`
}

// DefaultMaxTokens is used when ContextStrategy.MaxTokens is zero.
const DefaultMaxTokens = 100_000

// Hook is a post-execution action.
type Hook struct {
	Action string         `json:"action"` // "publish_message" or "stop_cluster"
	Config map[string]any `json:"config,omitempty"`
}

const (
	HookActionPublishMessage = "publish_message"
	HookActionStopCluster    = "stop_cluster"
)

// Hooks groups the hooks an agent may run.
type Hooks struct {
	OnComplete *Hook `json:"onComplete,omitempty"`
}

// AgentConfig declaratively configures one agent.
type AgentConfig struct {
	ID              string           `json:"id"`
	Role            string           `json:"role"`
	ModelLevel      string           `json:"modelLevel,omitempty"`
	ModelRules      []ModelRule      `json:"modelRules,omitempty"`
	Triggers        []Trigger        `json:"triggers"`
	ContextStrategy *ContextStrategy `json:"contextStrategy,omitempty"`
	Prompt          string           `json:"prompt,omitempty"`
	OutputFormat    string           `json:"outputFormat,omitempty"`
	JSONSchema      map[string]any   `json:"jsonSchema,omitempty"`
	Hooks           Hooks            `json:"hooks,omitempty"`
	MaxIterations   int              `json:"maxIterations,omitempty"`
	Timeout         int              `json:"timeout,omitempty"` // milliseconds
	Isolation       string           `json:"isolation,omitempty"`

	// Sub-cluster agents replace Prompt with Type:"subcluster" and an
	// inner Config.
	Type      string  `json:"type,omitempty"`
	SubConfig *Config `json:"config,omitempty"`
}

// IsSubcluster reports whether this agent wraps a nested cluster config.
func (a AgentConfig) IsSubcluster() bool {
	return a.Type == "subcluster"
}

// IsIsolated reports whether the agent runs in a worktree/container,
// exempting it from the VCS-forbidding header rule and platform-mismatch
// criteria.
func (a AgentConfig) IsIsolated() bool {
	return strings.TrimSpace(a.Isolation) != "" && a.Isolation != "none"
}

// Config is the top-level, declarative cluster configuration.
type Config struct {
	Agents []AgentConfig `json:"agents"`
}

// Parse decodes a cluster configuration document.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cluster: parse config: %w", err)
	}
	return cfg, nil
}

// AgentByID returns the agent configuration with the given id, if present.
func (c Config) AgentByID(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// MaxNestingDepth walks subcluster agents and reports the deepest nesting
// level found, where a top-level config with no subclusters is depth 1.
func (c Config) MaxNestingDepth() int {
	depth := 1
	for _, a := range c.Agents {
		if a.IsSubcluster() && a.SubConfig != nil {
			sub := a.SubConfig.MaxNestingDepth() + 1
			if sub > depth {
				depth = sub
			}
		}
	}
	return depth
}
