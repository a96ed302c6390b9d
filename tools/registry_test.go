package tools_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Registry_Load(t *testing.T) {
	r := tools.NewRegistry(tools.NewManager())

	err := r.Load([]*tools.ServerConfig{
		{ID: "a", Command: "a-server"},
		{ID: "a", Command: "a-server"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrConfig))

	err = r.Load([]*tools.ServerConfig{
		{ID: "b"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrConfig))

	err = r.Load([]*tools.ServerConfig{
		{ID: "a", Command: "a-server"},
		{ID: "b", URL: "http://localhost:8080/mcp"},
	})
	require.NoError(t, err)
	require.Len(t, r.Configs(), 2)
	assert.Equal(t, tools.TransportStdio, r.Configs()[0].Transport)
	assert.Equal(t, tools.TransportHTTP, r.Configs()[1].Transport)
}

func Test_Registry_ResolveFirstRegisteredWins(t *testing.T) {
	servers := map[string]*fakeServer{
		"first": {defs: []mcp.ToolDefinition{
			{Name: "search", Description: "first search"},
			{Name: "fetch"},
		}},
		"second": {defs: []mcp.ToolDefinition{
			{Name: "search", Description: "second search"},
		}},
	}
	mgr := tools.NewManager(tools.WithDialer(func(_ context.Context, cfg *tools.ServerConfig) (tools.Server, error) {
		return servers[cfg.ID], nil
	}))

	r := tools.NewRegistry(mgr)
	require.NoError(t, r.Load([]*tools.ServerConfig{
		{ID: "first", Command: "first-server"},
		{ID: "second", Command: "second-server"},
	}))
	r.ConnectAll(t.Context())

	caps := r.ListCapabilities()
	require.Len(t, caps, 3)

	owner, def, err := r.Resolve("search")
	require.NoError(t, err)
	assert.Equal(t, "first", owner)
	assert.Equal(t, "first search", def.Description)

	owner, _, err = r.Resolve("fetch")
	require.NoError(t, err)
	assert.Equal(t, "first", owner)

	_, _, err = r.Resolve("nosuch")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrUnknownCapability))
}

func Test_Registry_FailedServerExcluded(t *testing.T) {
	mgr := tools.NewManager(tools.WithDialer(func(_ context.Context, cfg *tools.ServerConfig) (tools.Server, error) {
		if cfg.ID == "down" {
			return nil, errors.New("connection refused")
		}
		return &fakeServer{defs: weatherDefs()}, nil
	}))

	r := tools.NewRegistry(mgr)
	require.NoError(t, r.Load([]*tools.ServerConfig{
		{ID: "down", Command: "down-server"},
		{ID: "weather", Command: "weather-server"},
	}))
	r.ConnectAll(t.Context())

	assert.Equal(t, tools.StateFailed, mgr.State("down"))
	assert.Equal(t, tools.StateReady, mgr.State("weather"))

	caps := r.ListCapabilities()
	require.Len(t, caps, 1)
	assert.Equal(t, "weather", caps[0].Server)
}
