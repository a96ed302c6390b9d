package tools_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func Test_LoadConfig_MCPServersLayout(t *testing.T) {
	path := writeFile(t, "servers_config.json", `{
		"mcpServers": {
			"weather": {
				"command": "uvx",
				"args": ["mcp-weather-server"],
				"env": {"WEATHER_API_KEY": "secret"}
			},
			"files": {
				"command": "npx",
				"args": ["-y", "@modelcontextprotocol/server-filesystem", "/data"]
			}
		}
	}`)

	cfg, err := tools.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)
	// sorted by id for stable registration order
	assert.Equal(t, "files", cfg.Servers[0].ID)
	assert.Equal(t, "weather", cfg.Servers[1].ID)
	assert.Equal(t, tools.TransportStdio, cfg.Servers[1].Transport)
	assert.Equal(t, "secret", cfg.Servers[1].Env["WEATHER_API_KEY"])
}

func Test_LoadConfig_ListLayoutYAML(t *testing.T) {
	path := writeFile(t, "servers.yaml", `
servers:
  - id: search
    url: http://localhost:9090/mcp
    timeout_seconds: 5
  - id: weather
    command: weather-server
`)

	cfg, err := tools.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, tools.TransportHTTP, cfg.Servers[0].Transport)
	assert.Equal(t, 5, cfg.Servers[0].TimeoutSeconds)
}

func Test_LoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "servers.toml", `
[[servers]]
id = "weather"
command = "weather-server"
args = ["--fast"]
`)

	cfg, err := tools.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, []string{"--fast"}, cfg.Servers[0].Args)
}

func Test_LoadConfig_Malformed(t *testing.T) {
	path := writeFile(t, "bad.json", `{
		"servers": [{"id": "both", "command": "x", "url": "http://y"}]
	}`)
	_, err := tools.LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrConfig))

	path = writeFile(t, "noid.json", `{"servers": [{"command": "x"}]}`)
	_, err = tools.LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrConfig))

	_, err = tools.LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func Test_LoadConfig_Empty(t *testing.T) {
	cfg, err := tools.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Servers)
}
