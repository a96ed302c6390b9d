package tavily_test

import (
	"testing"

	"github.com/effective-security/mcpchat/tools/tavily"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_New_RequiresAPIKey(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "")
	_, err := tavily.New()
	require.EqualError(t, err, "TAVILY_API_KEY is not set")
}

func Test_Tool_Surface(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "test-key")
	tool, err := tavily.New()
	require.NoError(t, err)

	assert.Equal(t, tavily.ToolName, tool.Name())
	assert.NotEmpty(t, tool.Description())

	schema := tool.Parameters()
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Required, "Query")

	_, err = tool.Call(t.Context(), "not json")
	require.Error(t, err)

	_, err = tool.Run(t.Context(), &tavily.SearchRequest{})
	require.EqualError(t, err, "invalid request: empty query")
}

func Test_SearchResult_String(t *testing.T) {
	res := &tavily.SearchResult{Answer: "42"}
	assert.Contains(t, res.String(), "ANSWER: 42")
}
