// Package prompts provides Go-template based prompt formatting for chat models.
package prompts

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/pkg/llms"
)

// PromptTemplate is a text template with declared input variables.
// Templates use Go text/template syntax with the sprig function map.
type PromptTemplate struct {
	Template       string
	InputVariables []string

	tmpl *template.Template
}

// NewPromptTemplate parses the template eagerly so a malformed template
// fails at construction rather than at format time.
func NewPromptTemplate(text string, inputVariables []string) (*PromptTemplate, error) {
	tmpl, err := template.New("prompt").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=zero").
		Parse(text)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse template")
	}
	return &PromptTemplate{
		Template:       text,
		InputVariables: inputVariables,
		tmpl:           tmpl,
	}, nil
}

// Format renders the template with the given values. All declared input
// variables must be present.
func (p *PromptTemplate) Format(values map[string]any) (string, error) {
	for _, name := range p.InputVariables {
		if _, ok := values[name]; !ok {
			return "", errors.Errorf("missing input variable: %s", name)
		}
	}
	var buf strings.Builder
	if err := p.tmpl.Execute(&buf, values); err != nil {
		return "", errors.WithMessage(err, "failed to execute template")
	}
	return buf.String(), nil
}

// FormatPrompter renders a full prompt value from input values.
type FormatPrompter interface {
	FormatPrompt(values map[string]any) (llms.PromptValue, error)
}

// MessageFormatter formats values into one or more chat messages.
type MessageFormatter interface {
	FormatMessages(values map[string]any) ([]llms.Message, error)
}

type messagePromptTemplate struct {
	role   llms.Role
	prompt *PromptTemplate
}

func (m messagePromptTemplate) FormatMessages(values map[string]any) ([]llms.Message, error) {
	text, err := m.prompt.Format(values)
	if err != nil {
		return nil, err
	}
	return []llms.Message{llms.MessageFromTextParts(m.role, text)}, nil
}

func newMessagePromptTemplate(role llms.Role, text string, inputVariables []string) MessageFormatter {
	prompt, err := NewPromptTemplate(text, inputVariables)
	if err != nil {
		return errFormatter{err: err}
	}
	return messagePromptTemplate{role: role, prompt: prompt}
}

type errFormatter struct{ err error }

func (e errFormatter) FormatMessages(map[string]any) ([]llms.Message, error) {
	return nil, e.err
}

// NewSystemMessagePromptTemplate creates a formatter producing a system message.
func NewSystemMessagePromptTemplate(text string, inputVariables []string) MessageFormatter {
	return newMessagePromptTemplate(llms.RoleSystem, text, inputVariables)
}

// NewHumanMessagePromptTemplate creates a formatter producing a human message.
func NewHumanMessagePromptTemplate(text string, inputVariables []string) MessageFormatter {
	return newMessagePromptTemplate(llms.RoleHuman, text, inputVariables)
}

// NewAIMessagePromptTemplate creates a formatter producing an AI message.
func NewAIMessagePromptTemplate(text string, inputVariables []string) MessageFormatter {
	return newMessagePromptTemplate(llms.RoleAI, text, inputVariables)
}

// ChatPromptTemplate formats a sequence of message templates into a prompt value.
type ChatPromptTemplate struct {
	Messages []MessageFormatter
}

// NewChatPromptTemplate creates a chat prompt template from message formatters.
func NewChatPromptTemplate(messages []MessageFormatter) *ChatPromptTemplate {
	return &ChatPromptTemplate{Messages: messages}
}

// FormatPrompt renders every message template with the given values.
func (p *ChatPromptTemplate) FormatPrompt(values map[string]any) (llms.PromptValue, error) {
	var result ChatPromptValue
	for _, m := range p.Messages {
		msgs, err := m.FormatMessages(values)
		if err != nil {
			return nil, err
		}
		result = append(result, msgs...)
	}
	return result, nil
}
