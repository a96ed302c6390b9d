package assistants

import (
	"encoding/json"
	"strings"

	"github.com/bububa/ljson"
	"github.com/effective-security/mcpchat/pkg/llmutils"
)

// DecisionKind is the closed set of outcomes of parsing a model reply.
type DecisionKind int

const (
	// DecisionFinalAnswer is a final answer to return to the user.
	DecisionFinalAnswer DecisionKind = iota
	// DecisionToolCall is a request to invoke one or more tools.
	DecisionToolCall
	// DecisionMalformed is a reply that looks like a decision document but
	// cannot be decoded.
	DecisionMalformed
)

// ToolCallRequest is one tool invocation parsed from a text reply.
type ToolCallRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Decision is a parsed model reply.
type Decision struct {
	Kind   DecisionKind
	Answer string
	Calls  []ToolCallRequest
}

// decisionFormatInstructions is appended to the system prompt for providers
// without native function calling.
const decisionFormatInstructions = `# RESPONSE FORMAT
To call a tool, respond with a single JSON object:
` + "```json" + `
{"tool": "<tool name>", "args": {<arguments matching the tool schema>}}
` + "```" + `
To call several tools at once:
` + "```json" + `
{"tool_calls": [{"tool": "<name>", "args": {}}, ...]}
` + "```" + `
To answer the user, respond with:
` + "```json" + `
{"final_answer": "<your answer>"}
` + "```" + `
Respond with exactly one JSON object and nothing else.`

type decisionEnvelope struct {
	Tool        string            `json:"tool"`
	Args        map[string]any    `json:"args"`
	ToolCalls   []ToolCallRequest `json:"tool_calls"`
	FinalAnswer string            `json:"final_answer"`
}

// ParseDecision classifies a text reply. Plain prose with no JSON document is
// a final answer as-is; a JSON document must carry exactly one of the decision
// fields, anything else is malformed.
func ParseDecision(text string) Decision {
	cleaned := llmutils.CleanJSON([]byte(text))
	trimmed := strings.TrimSpace(string(cleaned))
	if !strings.HasPrefix(trimmed, "{") {
		return Decision{
			Kind:   DecisionFinalAnswer,
			Answer: strings.TrimSpace(text),
		}
	}

	var env decisionEnvelope
	if err := ljson.Unmarshal([]byte(trimmed), &env); err != nil {
		return Decision{Kind: DecisionMalformed}
	}

	switch {
	case env.Tool != "":
		calls := append([]ToolCallRequest{{Tool: env.Tool, Args: env.Args}}, env.ToolCalls...)
		return Decision{Kind: DecisionToolCall, Calls: calls}
	case len(env.ToolCalls) > 0:
		for _, call := range env.ToolCalls {
			if call.Tool == "" {
				return Decision{Kind: DecisionMalformed}
			}
		}
		return Decision{Kind: DecisionToolCall, Calls: env.ToolCalls}
	case env.FinalAnswer != "":
		return Decision{Kind: DecisionFinalAnswer, Answer: env.FinalAnswer}
	default:
		return Decision{Kind: DecisionMalformed}
	}
}

// parseArgs decodes a function-call argument document leniently.
func parseArgs(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return nil, nil
	}
	var args map[string]any
	if err := ljson.Unmarshal(llmutils.CleanJSON([]byte(arguments)), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// encodeArgs renders an argument map back into a JSON document.
func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
