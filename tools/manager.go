package tools

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/mcp"
	"github.com/effective-security/mcpchat/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// ServerState is the lifecycle state of a server connection.
type ServerState string

const (
	// StateDisconnected is the initial and terminal state.
	StateDisconnected ServerState = "disconnected"
	// StateConnecting covers the handshake and manifest fetch.
	StateConnecting ServerState = "connecting"
	// StateReady means the manifest is cached and calls are accepted.
	StateReady ServerState = "ready"
	// StateFailed means the connect attempts were exhausted.
	StateFailed ServerState = "failed"
)

const (
	connectAttempts = 3
	connectBackoff  = 500 * time.Millisecond
)

// Dialer establishes a Server session for a config. Swapped out in tests.
type Dialer func(ctx context.Context, cfg *ServerConfig) (Server, error)

// MCPDialer is the default dialer: it launches the configured transport and
// performs the MCP handshake.
func MCPDialer(ctx context.Context, cfg *ServerConfig) (Server, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	switch cfg.Transport {
	case TransportHTTP:
		return mcp.NewHTTPClient(ctx, mcp.HTTPConfig{
			URL:     cfg.URL,
			Headers: cfg.Headers,
		})
	case TransportLocal:
		// built-ins are bound by the embedding application's dialer
		return nil, errors.WithMessagef(ErrConfig, "server %s: no built-in bound for local transport", cfg.ID)
	default:
		return mcp.NewStdioClient(ctx, mcp.StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     env,
		})
	}
}

type connection struct {
	cfg      *ServerConfig
	state    ServerState
	server   Server
	manifest []mcp.ToolDefinition
	lastErr  error
}

// Manager owns the server connections. Connections are shared across chat
// sessions; a failed server never affects its peers.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*connection

	dial Dialer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer overrides how server sessions are established.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) {
		m.dial = d
	}
}

// NewManager creates a connection manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		conns: make(map[string]*connection),
		dial:  MCPDialer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect establishes a session with the server, fetches its manifest and
// moves the connection to Ready. Connect attempts are bounded with
// exponential backoff; on exhaustion the connection is marked Failed and the
// last error is returned.
func (m *Manager) Connect(ctx context.Context, cfg *ServerConfig) error {
	m.mu.Lock()
	if conn, ok := m.conns[cfg.ID]; ok && (conn.state == StateReady || conn.state == StateConnecting) {
		m.mu.Unlock()
		return nil
	}
	conn := &connection{cfg: cfg, state: StateConnecting}
	m.conns[cfg.ID] = conn
	m.mu.Unlock()

	defer metricskey.PerfServerConnect.MeasureSince(time.Now(), cfg.ID)

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(connectBackoff << (attempt - 1)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				m.fail(cfg.ID, lastErr)
				return lastErr
			}
		}

		server, err := m.dial(ctx, cfg)
		if err != nil {
			lastErr = err
			logger.ContextKV(ctx, xlog.WARNING,
				"server", cfg.ID,
				"attempt", attempt+1,
				"err", err.Error())
			continue
		}

		manifest, err := server.ListTools(ctx)
		if err != nil {
			lastErr = err
			_ = server.Close()
			logger.ContextKV(ctx, xlog.WARNING,
				"server", cfg.ID,
				"attempt", attempt+1,
				"err", err.Error())
			continue
		}

		m.mu.Lock()
		conn = m.conns[cfg.ID]
		conn.state = StateReady
		conn.server = server
		conn.manifest = manifest
		conn.lastErr = nil
		m.mu.Unlock()

		logger.ContextKV(ctx, xlog.INFO,
			"server", cfg.ID,
			"tools", len(manifest))
		return nil
	}

	m.fail(cfg.ID, lastErr)
	metricskey.StatsServerConnectsFailed.IncrCounter(1, cfg.ID)
	return errors.WithMessagef(lastErr, "failed to connect to server: %s", cfg.ID)
}

func (m *Manager) fail(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[id]; ok {
		conn.state = StateFailed
		conn.lastErr = err
	}
}

// State returns the connection state for the server.
func (m *Manager) State(id string) ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conn, ok := m.conns[id]; ok {
		return conn.state
	}
	return StateDisconnected
}

// Manifest returns the cached manifest of a Ready server.
func (m *Manager) Manifest(id string) []mcp.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conn, ok := m.conns[id]; ok && conn.state == StateReady {
		return conn.manifest
	}
	return nil
}

// Invoke calls a tool on the owning server with the per-server deadline.
// Errors map onto the package sentinels so the dispatcher can classify them.
func (m *Manager) Invoke(ctx context.Context, serverID, tool string, args map[string]any) (string, error) {
	m.mu.RLock()
	conn, ok := m.conns[serverID]
	if !ok || conn.state != StateReady {
		m.mu.RUnlock()
		return "", errors.WithMessagef(ErrConnectionUnavailable, "server: %s", serverID)
	}
	server := conn.server
	timeout := conn.cfg.CallTimeout()
	m.mu.RUnlock()

	defer metricskey.PerfToolCall.MeasureSince(time.Now(), tool)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := server.CallTool(ctx, tool, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.WithMessagef(ErrTimeout, "server: %s, tool: %s", serverID, tool)
		}
		if result.IsError {
			return "", errors.WithMessagef(ErrRemoteTool, "%s", err.Error())
		}
		return "", errors.WithMessagef(ErrConnectionUnavailable, "server: %s: %s", serverID, err.Error())
	}
	return result.PrimaryText(), nil
}

// Disconnect tears down one connection.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()

	if ok && conn.server != nil {
		_ = conn.server.Close()
	}
}

// Shutdown tears down every connection. Every session that was successfully
// established is closed, including ones that later failed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*connection)
	m.mu.Unlock()

	for _, conn := range conns {
		if conn.server != nil {
			_ = conn.server.Close()
		}
	}
}
