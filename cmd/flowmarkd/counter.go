package main

import (
	"context"
	"strconv"

	"github.com/flowmark/flowmark/pkg/api"
	"github.com/flowmark/flowmark/pkg/builder"
	"github.com/flowmark/flowmark/pkg/workflow"
)

// counterWorkflow is the demonstration definition hosted by default: a
// counter whose value survives across requests, idle unloads, and restarts.
//
//	POST /counter          create a counter, returns its value (0)
//	POST /counter/{delta}  add delta to the counter
//	GET  /counter          read the current value
//	DELETE /counter        read the final value and complete
func counterWorkflow() *workflow.Definition {
	return builder.NewWorkflow("counter").
		Receive("POST", "counter").
		CreatesInstance().
		Handle(readCounter).
		Receive("POST", "counter/{delta}").
		PersistsBeforeSend().
		Handle(addToCounter).
		Receive("GET", "counter").
		Handle(readCounter).
		Receive("DELETE", "counter").
		Handle(finishCounter).
		MustBuild()
}

func counterValue(state api.Vars) float64 {
	if v, ok := state["count"].(float64); ok {
		return v
	}
	return 0
}

func readCounter(_ context.Context, inv *workflow.Invocation) (any, error) {
	value := counterValue(inv.State)
	inv.State["count"] = value
	return map[string]any{"count": value}, nil
}

func addToCounter(_ context.Context, inv *workflow.Invocation) (any, error) {
	delta, err := strconv.ParseFloat(inv.Params["DELTA"], 64)
	if err != nil {
		return nil, err
	}
	value := counterValue(inv.State) + delta
	inv.State["count"] = value
	return map[string]any{"count": value}, nil
}

func finishCounter(_ context.Context, inv *workflow.Invocation) (any, error) {
	return workflow.Complete(map[string]any{
		"count": counterValue(inv.State),
	}), nil
}
