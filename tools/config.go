package tools

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// DefaultCallTimeout bounds a single tool invocation.
const DefaultCallTimeout = 30 * time.Second

// TransportType selects how a server is reached.
type TransportType string

const (
	// TransportStdio spawns the server as a child process.
	TransportStdio TransportType = "stdio"
	// TransportHTTP posts requests to an HTTP endpoint.
	TransportHTTP TransportType = "http"
	// TransportLocal is an in-process built-in server; Command names it.
	TransportLocal TransportType = "local"
)

// ServerConfig describes one tool server.
type ServerConfig struct {
	ID        string        `json:"id" yaml:"id" toml:"id" validate:"required"`
	Transport TransportType `json:"transport,omitempty" yaml:"transport,omitempty" toml:"transport,omitempty" validate:"omitempty,oneof=stdio http local"`

	// stdio transport
	Command string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// http transport
	URL     string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`

	// TimeoutSeconds bounds a single tool invocation. Zero means the
	// default call timeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty" validate:"gte=0"`

	// Params are optional server-specific settings passed through as-is.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
}

// CallTimeout returns the per-invocation deadline for the server.
func (c *ServerConfig) CallTimeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return DefaultCallTimeout
}

// Normalize fills the transport from the populated descriptor fields and
// checks the result is a well-formed launch descriptor.
func (c *ServerConfig) Normalize() error {
	if c.ID == "" {
		return errors.WithMessage(ErrConfig, "server id is required")
	}
	if c.Transport == "" {
		switch {
		case c.Command != "" && c.URL == "":
			c.Transport = TransportStdio
		case c.URL != "" && c.Command == "":
			c.Transport = TransportHTTP
		default:
			return errors.WithMessagef(ErrConfig, "server %s: exactly one of command or url is required", c.ID)
		}
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return errors.WithMessagef(ErrConfig, "server %s: command is required for stdio transport", c.ID)
		}
	case TransportHTTP:
		if c.URL == "" {
			return errors.WithMessagef(ErrConfig, "server %s: url is required for http transport", c.ID)
		}
	case TransportLocal:
		if c.Command == "" {
			return errors.WithMessagef(ErrConfig, "server %s: command names the built-in for local transport", c.ID)
		}
	default:
		return errors.WithMessagef(ErrConfig, "server %s: unsupported transport: %s", c.ID, c.Transport)
	}
	return nil
}

// Config is the tool servers configuration file.
type Config struct {
	Servers []*ServerConfig `json:"servers,omitempty" yaml:"servers,omitempty" toml:"servers,omitempty"`

	// MCPServers supports the map keyed launch descriptor layout,
	// {"mcpServers": {"weather": {"command": ..., "args": [...]}}}.
	MCPServers map[string]*ServerConfig `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty" toml:"mcpServers,omitempty"`
}

var validate = validator.New()

// LoadConfig loads the server configuration from a YAML, JSON or TOML file,
// expands environment references and validates the result.
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	var err error
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		_, err = toml.DecodeFile(file, cfg)
	} else {
		err = configloader.UnmarshalAndExpand(file, cfg)
	}
	if err != nil {
		return nil, errors.WithMessagef(ErrConfig, "failed to load config: %s: %s", file, err.Error())
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	// Fold the map layout into the list, sorted by id for a stable
	// registration order.
	if len(c.MCPServers) > 0 {
		ids := make([]string, 0, len(c.MCPServers))
		for id := range c.MCPServers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			sc := c.MCPServers[id]
			sc.ID = id
			c.Servers = append(c.Servers, sc)
		}
		c.MCPServers = nil
	}

	for _, sc := range c.Servers {
		if err := sc.Normalize(); err != nil {
			return err
		}
		if err := validate.Struct(sc); err != nil {
			return errors.WithMessagef(ErrConfig, "server %s: %s", sc.ID, err.Error())
		}
	}
	return nil
}
