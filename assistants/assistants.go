// Package assistants implements the reasoning loop that drives a chat model
// against the tool registry: the model proposes tool calls, the dispatcher
// executes them, and observations are fed back until a final answer.
package assistants

import (
	"context"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "assistants")

// RunStatus is the terminal state of a reasoning run.
type RunStatus string

const (
	// RunStatusDone means the model produced a final answer.
	RunStatusDone RunStatus = "done"
	// RunStatusAborted means the run was stopped on the step budget or
	// cancellation; Answer holds the best-effort partial result.
	RunStatusAborted RunStatus = "aborted"
)

// RunResult is the outcome of one reasoning run.
type RunResult struct {
	Status RunStatus
	// Answer is the final answer, or the best-effort partial answer when
	// the run was aborted.
	Answer string
	// Warning is set on aborted runs.
	Warning string
	// Steps is the number of model calls made.
	Steps int
	// ToolCalls is the number of tool invocations dispatched.
	ToolCalls int
	// Messages is the full run transcript, including tool calls and
	// observations.
	Messages []llms.Message
}

// IAssistant is the reasoning loop surface used by the chat service.
type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// Description returns the description of the Assistant.
	Description() string
	// Run executes the reasoning loop for one user input.
	Run(ctx context.Context, sessionID, input string, opts ...Option) (*RunResult, error)
}
