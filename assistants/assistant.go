package assistants

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/pkg/llmutils"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/mcpchat/pkg/prompts"
	"github.com/effective-security/mcpchat/store"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

// defaultSystemPrompt is the system prompt used when none is provided.
// The capabilities variable is rendered from the registry manifest.
const defaultSystemPrompt = `You are a helpful assistant. Answer the user's question.
When a tool can provide the information you need, call it instead of guessing.
After a tool responds, use its output to continue; when you have enough
information, answer the user directly.
{{ if .capabilities }}
# AVAILABLE TOOLS
{{ .capabilities }}{{ end }}`

// emptyResponseRetries bounds retries on an LLM response with no choices.
const emptyResponseRetries = 3

// Assistant drives the reasoning loop over a model and the tool dispatcher.
type Assistant struct {
	LLM llms.Model

	registry   *tools.Registry
	dispatcher *tools.Dispatcher

	cfg         *Config
	name        string
	description string
	sysprompt   prompts.FormatPrompter
}

var _ IAssistant = (*Assistant)(nil)

// NewAssistant creates the reasoning loop over a model, the capability
// registry and the dispatcher.
func NewAssistant(llmModel llms.Model, registry *tools.Registry, dispatcher *tools.Dispatcher, options ...Option) *Assistant {
	ret := &Assistant{
		LLM:         llmModel,
		registry:    registry,
		dispatcher:  dispatcher,
		cfg:         NewConfig(options...),
		name:        "Chat Assistant",
		description: "An AI assistant that can call tools from connected servers.",
	}

	ret.sysprompt = prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
		prompts.NewSystemMessagePromptTemplate(defaultSystemPrompt, nil),
	})

	return ret
}

// WithName sets the name of the Assistant.
func (a *Assistant) WithName(name string) *Assistant {
	a.name = name
	return a
}

// WithDescription sets the description of the Assistant.
func (a *Assistant) WithDescription(description string) *Assistant {
	a.description = description
	return a
}

// WithSystemPrompt replaces the default system prompt.
// The template may use the capabilities input variable.
func (a *Assistant) WithSystemPrompt(sysprompt prompts.FormatPrompter) *Assistant {
	a.sysprompt = sysprompt
	return a
}

// Name returns the name of the Assistant.
func (a *Assistant) Name() string {
	return a.name
}

// Description returns the description of the Assistant.
func (a *Assistant) Description() string {
	return a.description
}

// GetCallConfig returns a per-call copy of the config.
func (a *Assistant) GetCallConfig(opts ...Option) *Config {
	return a.cfg.Apply(opts...)
}

// GetSystemPrompt renders the system prompt with the current capability set.
func (a *Assistant) GetSystemPrompt(caps []tools.Capability, promptInputs map[string]any) (string, error) {
	inputs := map[string]any{
		"capabilities": describeCapabilities(caps),
	}
	for k, v := range promptInputs {
		inputs[k] = v
	}

	promptValue, err := a.sysprompt.FormatPrompt(inputs)
	if err != nil {
		return "", errors.WithMessage(err, "failed to format system prompt")
	}
	return strings.TrimRight(promptValue.String(), "\n"), nil
}

// Run executes the reasoning loop for one user input. Tool faults feed back
// into the loop as observations; only model and store failures surface as
// errors. An exhausted step budget or cancellation between steps returns an
// aborted result, not an error.
func (a *Assistant) Run(ctx context.Context, sessionID, input string, opts ...Option) (*RunResult, error) {
	started := time.Now()
	modelName := a.LLM.GetName()
	defer metricskey.PerfChatRun.MeasureSince(started, modelName)

	logger.ContextKV(ctx, xlog.DEBUG,
		"chat", chatmodel.GetChatID(ctx),
		"model", modelName,
		"status", "run_started")

	cfg := a.GetCallConfig(opts...)
	callback := cfg.CallbackHandler
	if callback != nil {
		callback.OnRunStart(ctx, a, input)
	}

	result, err := a.run(ctx, cfg, sessionID, input)
	if err != nil {
		metricskey.StatsRunsAborted.IncrCounter(1, modelName)
		if callback != nil {
			callback.OnRunError(ctx, a, input, err)
		}
		return nil, err
	}

	if result.Status == RunStatusDone {
		metricskey.StatsRunsCompleted.IncrCounter(1, modelName)
	} else {
		metricskey.StatsRunsAborted.IncrCounter(1, modelName)
	}
	if callback != nil {
		callback.OnRunEnd(ctx, a, result)
	}
	return result, nil
}

func (a *Assistant) run(ctx context.Context, cfg *Config, sessionID, input string) (*RunResult, error) {
	modelName := a.LLM.GetName()
	prov := a.LLM.GetProviderType()
	nativeTools := prov.Supports(llms.CapabilityFunctionCalling)

	caps := a.registry.ListCapabilities()
	systemPrompt, err := a.GetSystemPrompt(caps, cfg.PromptInput)
	if err != nil {
		return nil, err
	}
	if !nativeTools && len(caps) > 0 {
		systemPrompt = systemPrompt + "\n\n" + decisionFormatInstructions
	}

	messageHistory := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, systemPrompt),
	}
	if cfg.Store != nil && sessionID != "" {
		session, err := cfg.Store.Load(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		messageHistory = append(messageHistory, historyMessages(session)...)
	}
	messageHistory = append(messageHistory, llms.MessageFromTextParts(llms.RoleHuman, input))

	callOpts := cfg.GetCallOptions()
	if nativeTools && len(caps) > 0 {
		callOpts = append(callOpts, llms.WithTools(toolDefinitions(caps)))
	}

	result := &RunResult{
		Messages: []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, input)},
	}
	transcript := []store.Message{
		{Role: store.RoleUser, Content: input, CreatedAt: time.Now().UTC()},
	}

	var lastText string
	correctiveUsed := false
	emptyRetries := 0

	for result.Steps < cfg.MaxSteps {
		// Steps are sequential; cancellation is honored between them.
		if err := ctx.Err(); err != nil {
			a.abort(result, "run canceled: "+err.Error(), lastText)
			break
		}
		result.Steps++

		bytesSent := llmutils.CountMessagesContentSize(messageHistory)
		metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messageHistory)), modelName)
		metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), modelName)

		resp, err := a.LLM.GenerateContent(ctx, messageHistory, callOpts...)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to generate content from LLM %s", modelName)
		}

		metricskey.StatsLLMBytesReceived.IncrCounter(float64(llmutils.CountResponseContentSize(resp)), modelName)
		tokensIn, tokensOut, _ := llmutils.CountTokens(resp)
		metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), modelName)
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), modelName)

		if len(resp.Choices) == 0 {
			emptyRetries++
			if emptyRetries >= emptyResponseRetries {
				return nil, errors.Newf("LLM %s returned empty response after %d retries", modelName, emptyRetries)
			}
			logger.ContextKV(ctx, xlog.WARNING,
				"model", modelName,
				"status", "retrying_empty_response",
				"retry", emptyRetries)
			result.Steps--
			continue
		}

		choice := resp.Choices[0]
		toolCalls := choice.ToolCalls

		if len(toolCalls) == 0 && !nativeTools {
			decision := ParseDecision(choice.Content)
			switch decision.Kind {
			case DecisionToolCall:
				for _, call := range decision.Calls {
					toolCalls = append(toolCalls, llms.ToolCall{
						ID:   uuid.NewString(),
						Type: "function",
						FunctionCall: &llms.FunctionCall{
							Name:      call.Tool,
							Arguments: encodeArgs(call.Args),
						},
					})
				}
			case DecisionMalformed:
				metricskey.StatsModelParseErrors.IncrCounter(1, modelName)
				if !correctiveUsed {
					correctiveUsed = true
					logger.ContextKV(ctx, xlog.WARNING,
						"model", modelName,
						"status", "malformed_decision",
						"step", result.Steps)
					messageHistory = append(messageHistory,
						llms.MessageFromTextParts(llms.RoleAI, choice.Content),
						llms.MessageFromTextParts(llms.RoleHuman,
							"The previous reply did not match the response format. "+
								"Respond with exactly one JSON object per the RESPONSE FORMAT section."))
					continue
				}
				// Second malformed reply in a run; return it as-is so the
				// run always makes progress.
				decision.Answer = strings.TrimSpace(choice.Content)
				fallthrough
			case DecisionFinalAnswer:
				a.finish(result, &transcript, decision.Answer)
				return result, a.persist(ctx, cfg, sessionID, transcript)
			}
		}

		if len(toolCalls) == 0 {
			a.finish(result, &transcript, choice.Content)
			return result, a.persist(ctx, cfg, sessionID, transcript)
		}

		for i := range toolCalls {
			toolCalls[i].ID = values.StringsCoalesce(toolCalls[i].ID, uuid.NewString())
			toolCalls[i].Type = values.StringsCoalesce(toolCalls[i].Type, "function")
		}

		assistantMsg := llms.MessageFromToolCalls(llms.RoleAI, toolCalls...)
		messageHistory = append(messageHistory, assistantMsg)
		result.Messages = append(result.Messages, assistantMsg)
		if text := strings.TrimSpace(choice.Content); text != "" {
			lastText = text
		}

		observations := a.executeToolCalls(ctx, cfg, toolCalls)
		for i, obs := range observations {
			toolMsg := llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: toolCalls[i].ID,
				Name:       toolCalls[i].FunctionCall.Name,
				Content:    obs,
			})
			messageHistory = append(messageHistory, toolMsg)
			result.Messages = append(result.Messages, toolMsg)
			transcript = append(transcript, store.Message{
				Role:      store.RoleTool,
				Content:   obs,
				CreatedAt: time.Now().UTC(),
			})
		}
		result.ToolCalls += len(toolCalls)
	}

	if result.Status != RunStatusAborted {
		a.abort(result, fmt.Sprintf("step budget of %d exhausted without a final answer", cfg.MaxSteps), lastText)
	}

	transcript = append(transcript, store.Message{
		Role:      store.RoleAssistant,
		Content:   result.Answer,
		CreatedAt: time.Now().UTC(),
	})
	result.Messages = append(result.Messages, llms.MessageFromTextParts(llms.RoleAI, result.Answer))
	return result, a.persist(ctx, cfg, sessionID, transcript)
}

// finish records the final answer on the result and the transcript.
func (a *Assistant) finish(result *RunResult, transcript *[]store.Message, answer string) {
	result.Status = RunStatusDone
	result.Answer = strings.TrimSpace(answer)
	result.Messages = append(result.Messages, llms.MessageFromTextParts(llms.RoleAI, result.Answer))
	*transcript = append(*transcript, store.Message{
		Role:      store.RoleAssistant,
		Content:   result.Answer,
		CreatedAt: time.Now().UTC(),
	})
}

// abort marks the run aborted with a best-effort partial answer.
func (a *Assistant) abort(result *RunResult, warning, lastText string) {
	result.Status = RunStatusAborted
	result.Warning = warning
	result.Answer = values.StringsCoalesce(lastText,
		"I could not complete the request: "+warning)
}

// persist appends the run transcript to the session store. The transcript is
// written once per run; a mid-run crash loses at most one run.
func (a *Assistant) persist(ctx context.Context, cfg *Config, sessionID string, transcript []store.Message) error {
	if cfg.Store == nil || sessionID == "" || cfg.SkipMessageHistory {
		return nil
	}
	if err := cfg.Store.Append(ctx, sessionID, transcript...); err != nil {
		return errors.WithMessagef(err, "failed to persist session %s", sessionID)
	}
	return nil
}

// executeToolCalls dispatches the tool calls of one step concurrently and
// returns the observations in call order. Every call produces an observation;
// failures come back as text the model can react to.
func (a *Assistant) executeToolCalls(ctx context.Context, cfg *Config, toolCalls []llms.ToolCall) []string {
	observations := make([]string, len(toolCalls))

	var wg sync.WaitGroup
	wg.Add(len(toolCalls))
	for i, toolCall := range toolCalls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			toolName := tc.FunctionCall.Name

			if cfg.CallbackHandler != nil {
				cfg.CallbackHandler.OnToolStart(ctx, a, toolName, tc.FunctionCall.Arguments)
			}

			args, err := parseArgs(tc.FunctionCall.Arguments)
			if err != nil {
				observations[index] = fmt.Sprintf("Tool call failed: invalid arguments for %s: %s", toolName, err.Error())
				logger.ContextKV(ctx, xlog.WARNING,
					"tool", toolName,
					"status", "invalid_arguments",
					"err", err.Error())
				return
			}

			res := a.dispatcher.Dispatch(ctx, tools.ActionRequest{
				CallID: tc.ID,
				Name:   toolName,
				Args:   args,
			})
			if cfg.CallbackHandler != nil {
				cfg.CallbackHandler.OnToolEnd(ctx, a, res)
			}

			if res.Success {
				observations[index] = res.Payload
			} else {
				observations[index] = fmt.Sprintf("Tool call failed: %s", res.Error)
			}
		}(i, toolCall)
	}
	wg.Wait()

	return observations
}

// describeCapabilities renders the capability list for the system prompt.
func describeCapabilities(caps []tools.Capability) string {
	var b strings.Builder
	for _, cap := range caps {
		fmt.Fprintf(&b, "- `%s` (server %s): %s\n", cap.Tool.Name, cap.Server, cap.Tool.Description)
	}
	return b.String()
}

// toolDefinitions converts the capability manifests into LLM tool definitions.
func toolDefinitions(caps []tools.Capability) []llms.Tool {
	defs := make([]llms.Tool, 0, len(caps))
	seen := map[string]bool{}
	for _, cap := range caps {
		if seen[cap.Tool.Name] {
			continue
		}
		seen[cap.Tool.Name] = true
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        cap.Tool.Name,
				Description: cap.Tool.Description,
				Parameters:  cap.Tool.InputSchema,
			},
		})
	}
	return defs
}

// historyMessages converts a stored transcript into chat messages.
// Stored tool observations are replayed as plain context because their
// original call ids are not retained.
func historyMessages(session *store.Session) []llms.Message {
	msgs := make([]llms.Message, 0, len(session.Messages))
	for _, msg := range session.Messages {
		switch msg.Role {
		case store.RoleUser:
			msgs = append(msgs, llms.MessageFromTextParts(llms.RoleHuman, msg.Content))
		case store.RoleAssistant:
			msgs = append(msgs, llms.MessageFromTextParts(llms.RoleAI, msg.Content))
		case store.RoleTool:
			msgs = append(msgs, llms.MessageFromTextParts(llms.RoleGeneric, "Tool result: "+msg.Content))
		}
	}
	return msgs
}
