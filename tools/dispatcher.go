package tools

import (
	"context"

	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// ActionRequest is one tool invocation requested by the model.
type ActionRequest struct {
	// CallID correlates the result with the model's tool call.
	CallID string
	// Name is the capability name.
	Name string
	// Args is the argument map supplied by the model.
	Args map[string]any
}

// ActionResult is the normalized outcome of a dispatch. Tool-level faults
// never surface as Go errors past this boundary: the reasoning loop always
// receives a result it can show to the model.
type ActionResult struct {
	CallID  string
	Name    string
	Server  string
	Success bool
	Payload string
	Error   string
}

// Dispatcher validates and routes action requests.
type Dispatcher struct {
	registry *Registry
	manager  *Manager
}

// NewDispatcher creates a dispatcher over the registry and manager.
func NewDispatcher(registry *Registry, manager *Manager) *Dispatcher {
	return &Dispatcher{registry: registry, manager: manager}
}

// Dispatch resolves the capability, validates the arguments against the
// manifest's input schema, and invokes the tool. Validation failures do not
// reach the server.
func (d *Dispatcher) Dispatch(ctx context.Context, req ActionRequest) ActionResult {
	res := ActionResult{
		CallID: req.CallID,
		Name:   req.Name,
	}

	serverID, def, err := d.registry.Resolve(req.Name)
	if err != nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, req.Name)
		res.Error = err.Error()
		return res
	}
	res.Server = serverID

	if err := ValidateArgs(def.InputSchema, req.Args); err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, req.Name)
		logger.ContextKV(ctx, xlog.DEBUG,
			"tool", req.Name,
			"server", serverID,
			"err", err.Error())
		res.Error = err.Error()
		return res
	}

	payload, err := d.manager.Invoke(ctx, serverID, req.Name, req.Args)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, req.Name)
		logger.ContextKV(ctx, xlog.WARNING,
			"tool", req.Name,
			"server", serverID,
			"err", err.Error())
		res.Error = err.Error()
		return res
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, req.Name)
	res.Success = true
	res.Payload = payload
	return res
}
