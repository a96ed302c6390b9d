// Package tools manages the capability surface of the assistant: server
// configuration, connection lifecycle, capability resolution and dispatch.
package tools

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "tools")

// ITool is a tool for the llm agent to interact with different applications.
type ITool interface {
	// Name returns the name of the Tool.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	// Should not exceed LLM model limit.
	Description() string
	// Parameters returns the input schema of the tool.
	Parameters() *jsonschema.Schema

	// Call executes the tool with the given JSON input and returns the result.
	Call(context.Context, string) (string, error)
}

// Tool is a typed tool with a request and response shape.
type Tool[I any, O any] interface {
	ITool
	Run(context.Context, *I) (*O, error)
}

// Server is a connected tool server: a remote MCP session or an in-process
// adapter. *mcp.Client satisfies it.
type Server interface {
	ListTools(ctx context.Context) ([]mcp.ToolDefinition, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (mcp.CallResult, error)
	Close() error
}

var _ Server = (*mcp.Client)(nil)

// LocalServer exposes in-process ITool implementations through the same
// capability surface as a remote MCP server, so built-in tools are
// indistinguishable to the reasoning loop.
type LocalServer struct {
	tools []ITool
}

// NewLocalServer creates a local tool server from the given tools.
func NewLocalServer(list ...ITool) *LocalServer {
	return &LocalServer{tools: list}
}

// ListTools returns the tool manifests.
func (s *LocalServer) ListTools(_ context.Context) ([]mcp.ToolDefinition, error) {
	defs := make([]mcp.ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, mcp.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return defs, nil
}

// CallTool invokes the named tool with the arguments encoded as JSON.
func (s *LocalServer) CallTool(ctx context.Context, name string, arguments map[string]any) (mcp.CallResult, error) {
	for _, t := range s.tools {
		if t.Name() != name {
			continue
		}
		input, err := json.Marshal(arguments)
		if err != nil {
			return mcp.CallResult{}, errors.WithMessage(err, "failed to marshal arguments")
		}
		out, err := t.Call(ctx, string(input))
		if err != nil {
			return mcp.CallResult{
				IsError: true,
				Content: []mcp.Content{{Type: "text", Text: err.Error()}},
			}, err
		}
		return mcp.CallResult{
			Content: []mcp.Content{{Type: "text", Text: out}},
		}, nil
	}
	return mcp.CallResult{}, errors.Errorf("tool not found: %s", name)
}

// Close is a no-op for in-process servers.
func (s *LocalServer) Close() error {
	return nil
}
