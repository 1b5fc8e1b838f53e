// Package taskrunner defines the sole seam between the engine and an
// external provider CLI. Concrete provider adapters (Claude/Codex/Gemini
// command lines) are deliberately out of scope for the core; this
// package provides the interface, a generic subprocess-based
// implementation any adapter can wrap, and a mock used by tests.
package taskrunner

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// Options configures one run.
type Options struct {
	AgentID      string
	Model        string
	OutputFormat string
	JSONSchema   map[string]any
	Cwd          string
	Isolation    string
	Timeout      time.Duration
}

// Result is the outcome of one run.
type Result struct {
	Success bool
	Output  string
	Error   string
	TaskID  string
}

// Runner is anything capable of executing one agent task. Implementations
// may be synchronous or internally asynchronous; the engine always awaits
// Run to completion (or ctx cancellation).
type Runner interface {
	Run(ctx context.Context, prompt string, opts Options) (Result, error)
}

// ProcessRunner invokes a fixed external command, feeding prompt on
// stdin and treating stdout as Output. It is provider-agnostic: the
// command and its arguments are supplied by the caller (typically a thin
// provider adapter living outside the core).
type ProcessRunner struct {
	Command string
	Args    []string
}

// NewProcessRunner builds a ProcessRunner for the given command line.
func NewProcessRunner(command string, args ...string) *ProcessRunner {
	return &ProcessRunner{Command: command, Args: args}
}

// Run executes the configured command, passing opts.Model and
// opts.OutputFormat as environment-independent CLI args is left to the
// caller via Args; this runner only wires prompt/stdin and exit status.
func (p *ProcessRunner) Run(ctx context.Context, prompt string, opts Options) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, p.Command, p.Args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Stdin = bytes.NewBufferString(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return Result{Success: false, Error: "timeout"}, zerrors.NewRunnerError(opts.AgentID, "timeout", runCtx.Err())
	}
	if err != nil {
		return Result{Success: false, Output: stdout.String(), Error: stderr.String()},
			zerrors.NewRunnerError(opts.AgentID, "process exited with error", err)
	}
	return Result{Success: true, Output: stdout.String()}, nil
}

// MockRunner is a Runner implementation driven by a queue of canned
// responses, for tests and Scenario A/B-style end-to-end exercises.
type MockRunner struct {
	responses []mockResponse
	calls     []MockCall
}

type mockResponse struct {
	result Result
	err    error
}

// MockCall records one invocation of MockRunner.Run.
type MockCall struct {
	Prompt  string
	Options Options
}

// NewMockRunner builds an empty MockRunner; use Enqueue to script
// responses before the runner is exercised.
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// Enqueue appends one canned response, returned on the next Run call.
func (m *MockRunner) Enqueue(result Result, err error) *MockRunner {
	m.responses = append(m.responses, mockResponse{result: result, err: err})
	return m
}

// Run returns the next enqueued response in FIFO order. If the queue is
// empty it returns a generic success so tests that don't care about
// runner output still proceed.
func (m *MockRunner) Run(ctx context.Context, prompt string, opts Options) (Result, error) {
	m.calls = append(m.calls, MockCall{Prompt: prompt, Options: opts})
	if len(m.responses) == 0 {
		return Result{Success: true, Output: "{}"}, nil
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.err != nil {
		return next.result, next.err
	}
	return next.result, nil
}

// Calls returns every recorded invocation, in order.
func (m *MockRunner) Calls() []MockCall {
	return m.calls
}
