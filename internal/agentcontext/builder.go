// Package agentcontext builds the prompt an agent receives before each
// run: it composes the static sections every agent gets (header,
// instructions, output-format guidance, validator skip list) with the
// dynamic, ledger-sourced packs named by an agent's contextStrategy, and
// hands the combined set to contextpack for budget-aware assembly.
package agentcontext

import (
	"fmt"
	"strings"

	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/contextpack"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

const (
	orderHeader = iota
	orderInstructions
	orderLegacyOutputFormat
	orderJSONSchema
	orderValidatorSkip
	orderSourcesStart // dynamic packs claim increasing orders from here
	orderTriggering   = 1_000_000
)

// TriggeringMessage is the message.Message that caused this context
// build, always rendered last and marked Preserve so the char guard
// truncates everything else before it.
type TriggeringMessage = message.Message

// Input is everything one Build call needs.
type Input struct {
	Agent             cluster.AgentConfig
	Iteration         int
	Anchors           Anchors
	TriggeringMessage TriggeringMessage
	// RoleLabel overrides the header's role line; defaults to Agent.Role.
	RoleLabel string
}

// Builder composes one agent's prompt context for one execution.
type Builder struct {
	bus    *bus.MessageBus
	logger logging.Logger

	warnedDeprecatedLimit map[string]struct{}
}

// New builds an AgentContextBuilder above a cluster's message bus.
func New(b *bus.MessageBus, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Builder{bus: b, logger: logger, warnedDeprecatedLimit: map[string]struct{}{}}
}

// Build assembles and budgets the full prompt for in.Agent's next run.
func (cb *Builder) Build(in Input) (contextpack.Result, error) {
	var packs []contextpack.Pack

	packs = append(packs, cb.headerPack(in))
	packs = append(packs, cb.instructionsPack(in))

	if legacy := legacyOutputFormatPack(in.Agent); legacy != nil {
		packs = append(packs, *legacy)
	}

	if in.Agent.OutputFormat == "json" && len(in.Agent.JSONSchema) > 0 {
		pack, err := cb.jsonSchemaPack(in.Agent)
		if err != nil {
			return contextpack.Result{}, err
		}
		packs = append(packs, pack)
	}

	if isValidatorRole(in.Agent.Role) {
		pack, err := cb.validatorSkipPack(in.Agent)
		if err != nil {
			return contextpack.Result{}, err
		}
		if pack != nil {
			packs = append(packs, *pack)
		}
	}

	sourcePacks, err := cb.sourcePacks(in)
	if err != nil {
		return contextpack.Result{}, err
	}
	packs = append(packs, sourcePacks...)

	packs = append(packs, cb.triggeringPack(in))

	maxTokens := cluster.DefaultMaxTokens
	if in.Agent.ContextStrategy != nil && in.Agent.ContextStrategy.MaxTokens > 0 {
		maxTokens = in.Agent.ContextStrategy.MaxTokens
	}
	builder := contextpack.Builder{MaxTokens: maxTokens}
	result := builder.Build(packs)

	cb.emitMetrics(in.Agent.ID, result)
	return result, nil
}

func (cb *Builder) headerPack(in Input) contextpack.Pack {
	role := in.RoleLabel
	if role == "" {
		role = in.Agent.Role
	}
	return contextpack.Pack{
		ID:       "header",
		Section:  "header",
		Priority: contextpack.PriorityRequired,
		Order:    orderHeader,
		Render: func() string {
			var sb strings.Builder
			fmt.Fprintf(&sb, "### Agent\nid: %s\nrole: %s\niteration: %d\n\n", in.Agent.ID, role, in.Iteration)
			sb.WriteString("You run non-interactively: there is no human to ask clarifying questions of. ")
			sb.WriteString("Make a reasonable decision and proceed. Do not wait for further input.\n")
			if !in.Agent.IsIsolated() {
				sb.WriteString("Do not run version-control commands that create commits, branches, or push to a remote; ")
				sb.WriteString("this agent is not isolated from the working tree shared with other agents.\n")
			}
			return sb.String()
		},
	}
}

func (cb *Builder) instructionsPack(in Input) contextpack.Pack {
	return contextpack.Pack{
		ID:       "instructions",
		Section:  "instructions",
		Priority: contextpack.PriorityRequired,
		Order:    orderInstructions,
		Render: func() string {
			if in.Agent.Prompt == "" {
				return ""
			}
			return "### Instructions\n" + in.Agent.Prompt + "\n"
		},
	}
}

func legacyOutputFormatPack(agent cluster.AgentConfig) *contextpack.Pack {
	if agent.OutputFormat == "" || agent.OutputFormat == "json" {
		return nil
	}
	return &contextpack.Pack{
		ID:       "legacy-output-format",
		Section:  "output-format",
		Priority: contextpack.PriorityHigh,
		Order:    orderLegacyOutputFormat,
		Render: func() string {
			return fmt.Sprintf("### Output Format\nRespond using %s.\n", agent.OutputFormat)
		},
	}
}

func (cb *Builder) jsonSchemaPack(agent cluster.AgentConfig) (contextpack.Pack, error) {
	section, err := jsonSchemaSection(agent.JSONSchema)
	if err != nil {
		return contextpack.Pack{}, err
	}
	return contextpack.Pack{
		ID:       "json-schema",
		Section:  "output-format",
		Priority: contextpack.PriorityHigh,
		Order:    orderJSONSchema,
		Render:   func() string { return section },
	}, nil
}

func isValidatorRole(role string) bool {
	return strings.Contains(strings.ToLower(role), "validat")
}

func (cb *Builder) validatorSkipPack(agent cluster.AgentConfig) (*contextpack.Pack, error) {
	section, err := validatorSkipSection(cb.bus, agent.IsIsolated())
	if err != nil {
		return nil, err
	}
	if section == "" {
		return nil, nil
	}
	return &contextpack.Pack{
		ID:       "validator-skip",
		Section:  "validator-skip",
		Priority: contextpack.PriorityHigh,
		Order:    orderValidatorSkip,
		Render:   func() string { return section },
	}, nil
}

func (cb *Builder) sourcePacks(in Input) ([]contextpack.Pack, error) {
	if in.Agent.ContextStrategy == nil {
		return nil, nil
	}
	var packs []contextpack.Pack
	for i, src := range in.Agent.ContextStrategy.Sources {
		pack, err := sourcePack(cb.bus, src, in.Anchors, orderSourcesStart+i, cb.warnDeprecatedLimit)
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func (cb *Builder) warnDeprecatedLimit(topic string) {
	if _, already := cb.warnedDeprecatedLimit[topic]; already {
		return
	}
	cb.warnedDeprecatedLimit[topic] = struct{}{}
	cb.logger.Warn("contextStrategy source uses deprecated 'limit' field, prefer 'amount'", "topic", topic)
}

func (cb *Builder) triggeringPack(in Input) contextpack.Pack {
	return contextpack.Pack{
		ID:       "triggering-message",
		Section:  "triggering-message",
		Priority: contextpack.PriorityRequired,
		Order:    orderTriggering,
		Preserve: true,
		Render: func() string {
			return renderMessages("Triggering Message", []message.Message{in.TriggeringMessage})
		},
	}
}

func (cb *Builder) emitMetrics(agentID string, result contextpack.Result) {
	if metricsEnabled() {
		fmt.Printf("context build metrics: agent_id=%s used_tokens=%d max_tokens=%d over_budget_tokens=%d chars=%d\n",
			agentID, result.UsedTokens, result.MaxTokens, result.OverBudgetTokens, len(result.Context))
	}
	if metricsLedgerEnabled() {
		cb.publishMetrics(agentID, result)
	}
}
