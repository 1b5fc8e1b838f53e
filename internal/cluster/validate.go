package cluster

import (
	"fmt"
	"regexp"
	"strings"
)

// Report is the result of Validate: structural/model-rule/message-flow
// errors block `start`; warnings do not.
type Report struct {
	Errors   []string
	Warnings []string
}

// OK reports whether the configuration may be started.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// externallyProvidedTopics are published by the engine itself, not by any
// agent hook, so "topics never produced" must not flag them.
var externallyProvidedTopics = map[string]struct{}{
	"ISSUE_OPENED":           {},
	"USER_GUIDANCE_CLUSTER":  {},
	"USER_GUIDANCE_AGENT":    {},
	"STATE_SNAPSHOT":         {},
	"CONTEXT_METRICS":        {},
}

// Validate checks cfg's structural and message-flow rules, recursing
// into any nested subcluster configs.
func Validate(cfg Config) Report {
	var r Report
	validateLevel(cfg, "", &r)
	return r
}

func validateLevel(cfg Config, pathPrefix string, r *Report) {
	seenIDs := map[string]bool{}
	producedTopics := map[string]bool{}
	stopClusterHandlers := 0
	issueOpenedConsumers := 0
	validatorsProducingResult := 0
	validationResultConsumers := 0

	for _, a := range cfg.Agents {
		label := pathPrefix + a.ID
		if a.ID == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: agent missing id", pathPrefix))
		} else if seenIDs[a.ID] {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: duplicate agent id %q", pathPrefix, a.ID))
		}
		seenIDs[a.ID] = true

		if a.Role == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: agent missing role", label))
		}
		if len(a.Triggers) == 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: agent has no triggers", label))
		}

		for _, t := range a.Triggers {
			if t.Topic == message_ISSUE_OPENED {
				issueOpenedConsumers++
			}
			if t.Action == ActionStopCluster {
				stopClusterHandlers++
			}
			if t.Topic == message_VALIDATION_RESULT {
				validationResultConsumers++
			}
		}

		if len(a.ModelRules) > 0 && !HasCatchAllRule(a.ModelRules) {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: modelRules has no catch-all rule", label))
		}

		if a.Hooks.OnComplete != nil && a.Hooks.OnComplete.Action == HookActionPublishMessage {
			if topic, ok := a.Hooks.OnComplete.Config["topic"].(string); ok && topic != "" {
				producedTopics[topic] = true
				if topic == message_VALIDATION_RESULT && strings.EqualFold(a.Role, "validator") {
					validatorsProducingResult++
				}
			}
		}

		if a.OutputFormat == "json" && a.JSONSchema == nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: outputFormat json without jsonSchema", label))
		}
		if a.MaxIterations >= 100 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: maxIterations %d is very high", label, a.MaxIterations))
		}
		for _, t := range a.Triggers {
			for _, role := range rolesReferencedByLogic(t.Logic) {
				if !roleExists(cfg, role) {
					r.Warnings = append(r.Warnings, fmt.Sprintf("%s: trigger logic references nonexistent role %q", label, role))
				}
			}
		}

		// Self-triggering without escape: an agent whose own publish
		// topic also appears in its own triggers, with no predicate.
		if a.Hooks.OnComplete != nil && a.Hooks.OnComplete.Action == HookActionPublishMessage {
			if topic, ok := a.Hooks.OnComplete.Config["topic"].(string); ok {
				for _, t := range a.Triggers {
					if t.Topic == topic && strings.TrimSpace(t.Logic) == "" {
						r.Errors = append(r.Errors, fmt.Sprintf("%s: self-triggers on %q it produces with no escape predicate", label, topic))
					}
				}
			}
		}

		if a.IsSubcluster() && a.SubConfig != nil {
			validateLevel(*a.SubConfig, label+"/", r)
		}
	}

	if cfg.MaxNestingDepth() > MaxSubclusterDepth {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: subcluster nesting exceeds max depth %d", pathPrefix, MaxSubclusterDepth))
	}

	if issueOpenedConsumers == 0 {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: no agent consumes ISSUE_OPENED", pathPrefix))
	}
	if stopClusterHandlers > 1 {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: multiple stop_cluster handlers (%d)", pathPrefix, stopClusterHandlers))
	}
	if validatorsProducingResult > 0 && validationResultConsumers == 0 {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: validator publishes VALIDATION_RESULT but nothing re-triggers on rejection", pathPrefix))
	}

	for _, a := range cfg.Agents {
		for _, t := range a.Triggers {
			if _, external := externallyProvidedTopics[t.Topic]; external {
				continue
			}
			if !producedTopics[t.Topic] {
				r.Errors = append(r.Errors, fmt.Sprintf("%s: topic %q is consumed but never produced", pathPrefix, t.Topic))
			}
		}
	}

	detectCircularDependencies(cfg, pathPrefix, r)
}

// detectCircularDependencies warns when two agents mutually trigger on
// each other's produced topics with no escape predicate on either side.
func detectCircularDependencies(cfg Config, pathPrefix string, r *Report) {
	produces := map[string]string{} // topic -> agent id
	for _, a := range cfg.Agents {
		if a.Hooks.OnComplete != nil && a.Hooks.OnComplete.Action == HookActionPublishMessage {
			if topic, ok := a.Hooks.OnComplete.Config["topic"].(string); ok && topic != "" {
				produces[topic] = a.ID
			}
		}
	}
	warned := map[string]bool{}
	for _, a := range cfg.Agents {
		for _, t := range a.Triggers {
			producer, ok := produces[t.Topic]
			if !ok || producer == a.ID {
				continue
			}
			// does producer, in turn, trigger on something a.ID produces?
			producerAgent, ok := cfg.AgentByID(producer)
			if !ok {
				continue
			}
			for _, pt := range producerAgent.Triggers {
				if produces[pt.Topic] != a.ID {
					continue
				}
				if strings.TrimSpace(t.Logic) != "" || strings.TrimSpace(pt.Logic) != "" {
					continue
				}
				key := pathPrefix + minMax(a.ID, producer)
				if warned[key] {
					continue
				}
				warned[key] = true
				r.Warnings = append(r.Warnings, fmt.Sprintf("%s: agents %q and %q form a cycle with no escape predicate", pathPrefix, a.ID, producer))
			}
		}
	}
}

func minMax(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

var roleLogicPattern = regexp.MustCompile(`getAgentsByRole\(\s*"([^"]+)"\s*\)`)

func rolesReferencedByLogic(logic string) []string {
	if strings.TrimSpace(logic) == "" {
		return nil
	}
	matches := roleLogicPattern.FindAllStringSubmatch(logic, -1)
	roles := make([]string, 0, len(matches))
	for _, m := range matches {
		roles = append(roles, m[1])
	}
	return roles
}

func roleExists(cfg Config, role string) bool {
	for _, a := range cfg.Agents {
		if a.Role == role {
			return true
		}
	}
	return false
}

// Reserved topic literals duplicated here (rather than importing
// internal/message) to keep this package free of a dependency on the
// message wire format; the strings are part of the same contract.
const (
	message_ISSUE_OPENED       = "ISSUE_OPENED"
	message_VALIDATION_RESULT  = "VALIDATION_RESULT"
)
