package tools

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/xlog"
)

// Capability is one tool exposed by a Ready server.
type Capability struct {
	Server string
	Tool   mcp.ToolDefinition
}

// Registry maps capability names onto the servers that own them. Resolution
// always reads the manager's live connection set, so capabilities appear and
// disappear with server state.
type Registry struct {
	mu      sync.RWMutex
	configs []*ServerConfig
	manager *Manager
}

// NewRegistry creates a registry over the connection manager.
func NewRegistry(manager *Manager) *Registry {
	return &Registry{manager: manager}
}

// Load replaces the registered server set. Duplicate ids or malformed
// descriptors fail the whole load with ErrConfig and leave the registry
// unchanged.
func (r *Registry) Load(configs []*ServerConfig) error {
	seen := map[string]bool{}
	for _, cfg := range configs {
		if err := cfg.Normalize(); err != nil {
			return err
		}
		if seen[cfg.ID] {
			return errors.WithMessagef(ErrConfig, "duplicate server id: %s", cfg.ID)
		}
		seen[cfg.ID] = true
	}

	r.mu.Lock()
	r.configs = configs
	r.mu.Unlock()
	return nil
}

// Configs returns the registered server configs in registration order.
func (r *Registry) Configs() []*ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configs
}

// ConnectAll connects every registered server concurrently. Per-server
// failures are isolated: they are logged and the remaining servers proceed.
func (r *Registry) ConnectAll(ctx context.Context) {
	configs := r.Configs()

	var wg sync.WaitGroup
	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg *ServerConfig) {
			defer wg.Done()
			if err := r.manager.Connect(ctx, cfg); err != nil {
				logger.ContextKV(ctx, xlog.ERROR,
					"server", cfg.ID,
					"err", err.Error())
			}
		}(cfg)
	}
	wg.Wait()

	r.warnCollisions(ctx)
}

// warnCollisions logs each capability name exposed by more than one Ready
// server. The first registered server wins at resolve time.
func (r *Registry) warnCollisions(ctx context.Context) {
	owners := map[string]string{}
	for _, cap := range r.ListCapabilities() {
		if first, ok := owners[cap.Tool.Name]; ok {
			logger.ContextKV(ctx, xlog.WARNING,
				"capability", cap.Tool.Name,
				"server", cap.Server,
				"resolves_to", first)
			continue
		}
		owners[cap.Tool.Name] = cap.Server
	}
}

// ListCapabilities returns the union of tool manifests across Ready servers,
// in registration order, deduplicated by (server, name).
func (r *Registry) ListCapabilities() []Capability {
	var caps []Capability
	seen := map[string]map[string]bool{}
	for _, cfg := range r.Configs() {
		for _, def := range r.manager.Manifest(cfg.ID) {
			if seen[cfg.ID] == nil {
				seen[cfg.ID] = map[string]bool{}
			}
			if seen[cfg.ID][def.Name] {
				continue
			}
			seen[cfg.ID][def.Name] = true
			caps = append(caps, Capability{Server: cfg.ID, Tool: def})
		}
	}
	return caps
}

// Resolve returns the owning server and manifest entry for a capability
// name. Collisions resolve to the first registered server. When no Ready
// server exposes the name, ErrUnknownCapability is returned.
func (r *Registry) Resolve(name string) (string, mcp.ToolDefinition, error) {
	for _, cfg := range r.Configs() {
		for _, def := range r.manager.Manifest(cfg.ID) {
			if def.Name == name {
				return cfg.ID, def, nil
			}
		}
	}
	return "", mcp.ToolDefinition{}, errors.WithMessagef(ErrUnknownCapability, "capability: %s", name)
}
