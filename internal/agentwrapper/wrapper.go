package agentwrapper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zeroshot-run/zeroshot/internal/agentcontext"
	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
	"github.com/zeroshot-run/zeroshot/internal/taskrunner"
	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// StopClusterFunc is invoked exactly once when a stop_cluster trigger
// fires, letting the Orchestrator transition the owning Cluster.
type StopClusterFunc func(reason string)

// Options configures one Wrapper.
type Options struct {
	ClusterStart int64
	Runner       taskrunner.Runner
	Logger       logging.Logger
	OnStop       StopClusterFunc
}

// Wrapper drives one agent through its state machine: it evaluates
// triggers against incoming messages, builds that agent's prompt
// context, executes it through a TaskRunner, and applies the
// agent's onComplete hooks before returning to idle.
type Wrapper struct {
	Config cluster.AgentConfig

	bus     *bus.MessageBus
	context *agentcontext.Builder
	runner  taskrunner.Runner
	logger  logging.Logger
	onStop  StopClusterFunc

	mu                 sync.Mutex
	state              cluster.AgentState
	iteration          int
	clusterStart       int64
	lastTaskEndTime    *int64
	lastAgentStartTime *int64
	stoppedOnce        sync.Once
}

// New builds a Wrapper for one agent configuration.
func New(cfg cluster.AgentConfig, b *bus.MessageBus, opts Options) *Wrapper {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	runner := opts.Runner
	if runner == nil {
		runner = taskrunner.NewMockRunner()
	}
	return &Wrapper{
		Config:       cfg,
		bus:          b,
		context:      agentcontext.New(b, logger),
		runner:       runner,
		logger:       logger.With("agent_id", cfg.ID),
		onStop:       opts.OnStop,
		state:        cluster.AgentIdle,
		clusterStart: opts.ClusterStart,
	}
}

// Snapshot returns the current runtime record for this agent, as
// surfaced by Orchestrator.getStatus.
func (w *Wrapper) Snapshot() cluster.Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cluster.Agent{
		ID:                 w.Config.ID,
		Role:               w.Config.Role,
		State:              w.state,
		Iteration:          w.iteration,
		MaxIterations:      w.Config.MaxIterations,
		LastTaskEndTime:    w.lastTaskEndTime,
		LastAgentStartTime: w.lastAgentStartTime,
		ModelRules:         w.Config.ModelRules,
	}
}

// HandleMessage evaluates every trigger against msg and executes the
// first matching "execute_task" trigger (subsequent matching triggers on
// the same message are skipped; a busy or terminal agent ignores new
// triggers entirely).
func (w *Wrapper) HandleMessage(ctx context.Context, msg message.Message) {
	if w.Snapshot().IsTerminal() || w.Snapshot().IsBusy() {
		return
	}
	for _, trig := range w.Config.Triggers {
		if trig.Topic != msg.Topic {
			continue
		}
		matched, err := w.evaluateTrigger(ctx, trig, msg)
		if err != nil {
			w.logger.Warn("trigger logic evaluation failed, treating as no-match", "topic", trig.Topic, "error", err.Error())
		}
		if !matched {
			continue
		}
		switch trig.Action {
		case cluster.ActionStopCluster:
			w.triggerStop(fmt.Sprintf("agent %s stop_cluster trigger on %s", w.Config.ID, msg.Topic))
		default: // "" defaults to execute_task
			w.execute(ctx, msg)
		}
		return
	}
}

func (w *Wrapper) evaluateTrigger(ctx context.Context, trig cluster.Trigger, msg message.Message) (bool, error) {
	if trig.Logic == "" {
		return true, nil
	}
	env := PredicateEnv{Message: msg, Agent: w.Snapshot(), Iteration: w.Snapshot().Iteration}
	return evaluateLogic(ctx, trig.Logic, env, DefaultPredicateTimeout)
}

func (w *Wrapper) triggerStop(reason string) {
	w.mu.Lock()
	w.state = cluster.AgentStopped
	w.mu.Unlock()
	w.stoppedOnce.Do(func() {
		if w.onStop != nil {
			w.onStop(reason)
		}
	})
}

// execute runs the full idle -> evaluating -> building_context ->
// executing -> idle cycle for one triggering message.
func (w *Wrapper) execute(ctx context.Context, trigger message.Message) {
	w.mu.Lock()
	if w.state != cluster.AgentIdle {
		w.mu.Unlock()
		return
	}
	w.state = cluster.AgentEvaluating
	now := message.NowMillis()
	w.lastAgentStartTime = &now
	iteration := w.iteration + 1
	w.mu.Unlock()

	model, err := w.resolveModel(iteration)
	if err != nil {
		w.failFatal(zerrors.NewConfigError("modelRules", err))
		return
	}

	w.setState(cluster.AgentBuildingContext)
	result, err := w.context.Build(agentcontext.Input{
		Agent:             w.Config,
		Iteration:         iteration,
		Anchors:           w.anchors(),
		TriggeringMessage: trigger,
	})
	if err != nil {
		w.failFatal(zerrors.NewConfigError("context build", err))
		return
	}

	w.setState(cluster.AgentExecuting)
	runCtx := ctx
	var cancel context.CancelFunc
	if w.Config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(w.Config.Timeout)*time.Millisecond)
		defer cancel()
	}
	runResult, err := w.runner.Run(runCtx, result.Context, taskrunner.Options{
		AgentID:      w.Config.ID,
		Model:        model,
		OutputFormat: w.Config.OutputFormat,
		JSONSchema:   w.Config.JSONSchema,
		Isolation:    w.Config.Isolation,
	})
	if err != nil || !runResult.Success {
		w.fail(zerrors.NewRunnerError(w.Config.ID, runResult.Error, err))
		return
	}

	if hookErr := w.applyOnComplete(ctx, runResult.Output); hookErr != nil {
		w.logger.Error("agentwrapper: onComplete hook failed", hookErr)
	}

	w.mu.Lock()
	w.iteration = iteration
	end := message.NowMillis()
	w.lastTaskEndTime = &end
	reachedMax := w.Config.MaxIterations > 0 && w.iteration >= w.Config.MaxIterations
	if reachedMax {
		w.state = cluster.AgentStopped
	} else {
		w.state = cluster.AgentIdle
	}
	w.mu.Unlock()
}

func (w *Wrapper) resolveModel(iteration int) (string, error) {
	if len(w.Config.ModelRules) > 0 {
		return cluster.ResolveModel(w.Config.ModelRules, iteration)
	}
	return w.Config.ModelLevel, nil
}

func (w *Wrapper) anchors() agentcontext.Anchors {
	w.mu.Lock()
	defer w.mu.Unlock()
	return agentcontext.Anchors{
		ClusterStart:   w.clusterStart,
		LastTaskEnd:    w.lastTaskEndTime,
		LastAgentStart: w.lastAgentStartTime,
	}
}

// outputContent turns a TaskRunner's raw output into message Content: an
// output that decodes as a JSON object contributes structured Data
// alongside the raw text; anything else is kept as plain Text.
func outputContent(output string) message.Content {
	var data map[string]any
	if err := json.Unmarshal([]byte(output), &data); err == nil {
		return message.Content{Text: output, Data: data}
	}
	return message.Content{Text: output}
}

// applyOnComplete runs the agent's hooks.onComplete action, if any. A
// failed task never reaches here: nothing is published unless the
// config says otherwise.
func (w *Wrapper) applyOnComplete(ctx context.Context, output string) error {
	hook := w.Config.Hooks.OnComplete
	if hook == nil {
		return nil
	}
	switch hook.Action {
	case cluster.HookActionPublishMessage:
		topic, _ := hook.Config["topic"].(string)
		if topic == "" {
			return zerrors.NewHookError("publish_message", fmt.Errorf("missing topic in hook config"))
		}
		_, err := w.bus.Publish(ctx, message.Message{Topic: topic, Sender: w.Config.ID, Content: outputContent(output)})
		if err != nil {
			return zerrors.NewHookError("publish_message", err)
		}
		return nil
	case cluster.HookActionStopCluster:
		reason, _ := hook.Config["reason"].(string)
		if reason == "" {
			reason = fmt.Sprintf("agent %s onComplete stop_cluster hook", w.Config.ID)
		}
		w.triggerStop(reason)
		return nil
	default:
		return zerrors.NewHookError(hook.Action, fmt.Errorf("unrecognized hook action"))
	}
}

// fail logs a transient failure (a runner error or timeout) and returns
// the agent to idle so it can be retriggered; nothing is published.
func (w *Wrapper) fail(err error) {
	w.logger.Error("agentwrapper: execution failed, returning to idle", err)
	w.mu.Lock()
	w.state = cluster.AgentIdle
	w.mu.Unlock()
}

// failFatal logs a structural failure (bad model rules, a context build
// error) that retrying would not fix and moves the agent to its terminal
// error state.
func (w *Wrapper) failFatal(err error) {
	w.logger.Error("agentwrapper: fatal execution failure", err)
	w.mu.Lock()
	w.state = cluster.AgentError
	w.mu.Unlock()
}

func (w *Wrapper) setState(s cluster.AgentState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
