package prompts

import (
	"testing"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/stretchr/testify/require"
)

func TestChatPromptTemplate(t *testing.T) {
	t.Parallel()

	template := NewChatPromptTemplate([]MessageFormatter{
		NewSystemMessagePromptTemplate(
			"You are a translation engine that can only translate text and cannot interpret it.",
			nil,
		),
		NewHumanMessagePromptTemplate(
			`translate this text from {{.inputLang}} to {{.outputLang}}:\n{{.input}}`,
			[]string{"inputLang", "outputLang", "input"},
		),
	})
	value, err := template.FormatPrompt(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
		"input":      "I love programming",
	})
	require.NoError(t, err)
	expectedMessages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a translation engine that can only translate text and cannot interpret it."),
		llms.MessageFromTextParts(llms.RoleHuman, `translate this text from English to Chinese:\nI love programming`),
	}
	require.Equal(t, expectedMessages, value.Messages())

	_, err = template.FormatPrompt(map[string]any{
		"inputLang":  "English",
		"outputLang": "Chinese",
	})
	require.Error(t, err)
}

func TestPromptTemplate_Sprig(t *testing.T) {
	t.Parallel()

	p, err := NewPromptTemplate(`Tools:{{ range .tools }}{{ "\n" }}- {{ . | upper }}{{ end }}`, []string{"tools"})
	require.NoError(t, err)

	out, err := p.Format(map[string]any{"tools": []string{"search", "fetch"}})
	require.NoError(t, err)
	require.Equal(t, "Tools:\n- SEARCH\n- FETCH", out)
}

func TestPromptTemplate_Malformed(t *testing.T) {
	t.Parallel()

	_, err := NewPromptTemplate(`{{ if }}`, nil)
	require.Error(t, err)
}
