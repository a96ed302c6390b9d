package tools_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/tools"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes the input back." }
func (echoTool) Parameters() *jsonschema.Schema {
	return objectSchema([]string{"text"}, map[string]*jsonschema.Schema{
		"text": {Type: "string"},
	})
}

func (echoTool) Call(_ context.Context, input string) (string, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(input), &req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", errors.New("empty text")
	}
	return req.Text, nil
}

func Test_LocalServer(t *testing.T) {
	srv := tools.NewLocalServer(echoTool{})

	defs, err := srv.ListTools(t.Context())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
	require.NotNil(t, defs[0].InputSchema)
	assert.Equal(t, []string{"text"}, defs[0].InputSchema.Required)

	res, err := srv.CallTool(t.Context(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.PrimaryText())

	res, err = srv.CallTool(t.Context(), "echo", map[string]any{"text": " "})
	require.Error(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "empty text", res.PrimaryText())

	_, err = srv.CallTool(t.Context(), "nosuch", nil)
	require.EqualError(t, err, "tool not found: nosuch")

	require.NoError(t, srv.Close())
}

// Local tools plug into the same manager/registry/dispatcher path as remote
// servers.
func Test_LocalServer_ThroughDispatcher(t *testing.T) {
	local := tools.NewLocalServer(echoTool{})
	mgr := tools.NewManager(tools.WithDialer(func(context.Context, *tools.ServerConfig) (tools.Server, error) {
		return local, nil
	}))
	r := tools.NewRegistry(mgr)
	require.NoError(t, r.Load([]*tools.ServerConfig{{ID: "builtin", Command: "internal"}}))
	r.ConnectAll(t.Context())

	d := tools.NewDispatcher(r, mgr)
	res := d.Dispatch(t.Context(), tools.ActionRequest{Name: "echo", Args: map[string]any{"text": "hi"}})
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Payload)

	res = d.Dispatch(t.Context(), tools.ActionRequest{Name: "echo", Args: map[string]any{"bogus": 1}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown field: bogus")
}
