// Package agentwrapper implements the state machine driving one agent
// through trigger evaluation, context build, execution, and hook
// application.
package agentwrapper

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/message"
	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// DefaultPredicateTimeout bounds how long a single Trigger.Logic script
// may run before it is treated as falsy.
const DefaultPredicateTimeout = 2 * time.Second

const predicateFuncName = "Evaluate"

// PredicateEnv is the data a Trigger.Logic script is evaluated against.
type PredicateEnv struct {
	Message   message.Message
	Agent     cluster.Agent
	Iteration int
}

// evaluateLogic interprets script (the body of a trigger's "logic" field)
// as a Go function returning bool, exposing env's fields to the script as
// local variables named message, agent, and iteration. A script that panics, fails
// to compile, or exceeds timeout evaluates falsy; the error is still
// returned so the caller can log it.
func evaluateLogic(ctx context.Context, script string, env PredicateEnv, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultPredicateTimeout
	}

	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		ok, err := runPredicateScript(script, env)
		done <- outcome{ok: ok, err: err}
	}()

	select {
	case o := <-done:
		return o.ok, o.err
	case <-time.After(timeout):
		return false, zerrors.NewPredicateError(env.Agent.ID, fmt.Errorf("logic evaluation exceeded %s", timeout))
	case <-ctx.Done():
		return false, zerrors.NewPredicateError(env.Agent.ID, ctx.Err())
	}
}

func runPredicateScript(script string, env PredicateEnv) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = false, zerrors.NewPredicateError(env.Agent.ID, fmt.Errorf("logic panicked: %v", r))
		}
	}()

	i := interp.New(interp.Options{})
	if useErr := i.Use(stdlib.Symbols); useErr != nil {
		return false, zerrors.NewPredicateError(env.Agent.ID, useErr)
	}

	exports := interp.Exports{
		"zeroshot/trigger/trigger": map[string]reflect.Value{
			"Message":   reflect.ValueOf(env.Message),
			"Agent":     reflect.ValueOf(env.Agent),
			"Iteration": reflect.ValueOf(env.Iteration),
		},
	}
	if useErr := i.Use(exports); useErr != nil {
		return false, zerrors.NewPredicateError(env.Agent.ID, useErr)
	}

	src := fmt.Sprintf(`package main

import "zeroshot/trigger/trigger"

func %s() bool {
	message := trigger.Message
	agent := trigger.Agent
	iteration := trigger.Iteration
	_ = message
	_ = agent
	_ = iteration
	%s
}
`, predicateFuncName, script)

	if _, evalErr := i.Eval(src); evalErr != nil {
		return false, zerrors.NewPredicateError(env.Agent.ID, fmt.Errorf("compile logic: %w", evalErr))
	}
	fnValue, evalErr := i.Eval(predicateFuncName)
	if evalErr != nil {
		return false, zerrors.NewPredicateError(env.Agent.ID, evalErr)
	}
	results := fnValue.Call(nil)
	if len(results) != 1 {
		return false, zerrors.NewPredicateError(env.Agent.ID, fmt.Errorf("logic must return exactly one bool"))
	}
	out, ok := results[0].Interface().(bool)
	if !ok {
		return false, zerrors.NewPredicateError(env.Agent.ID, fmt.Errorf("logic must return bool"))
	}
	return out, nil
}
