// mcpchat serves the chat API over HTTP: session management, tool server
// reconfiguration and the reasoning loop itself.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chat"
	"github.com/effective-security/mcpchat/pkg/llmfactory"
	"github.com/effective-security/mcpchat/store"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/mcpchat/tools/tavily"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "mcpchat")

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		addr       = flag.String("addr", ":8080", "listen address")
		llmConfig  = flag.String("llm-config", "", "LLM providers config file")
		mcpConfig  = flag.String("servers-config", "", "tool servers config file")
		dataDir    = flag.String("data-dir", "", "directory for file-backed sessions; in-memory when empty")
		redisAddr  = flag.String("redis", "", "redis address for session storage; overrides -data-dir")
		redisPfx   = flag.String("redis-prefix", "mcpchat", "redis key prefix")
		logVerbose = flag.Bool("V", false, "verbose logging")
	)
	flag.Parse()

	initLogs(*logVerbose)

	if err := run(*addr, *llmConfig, *mcpConfig, *dataDir, *redisAddr, *redisPfx); err != nil {
		logger.KV(xlog.ERROR, "reason", "run", "err", err.Error())
		os.Exit(1)
	}
}

func run(addr, llmConfig, mcpConfig, dataDir, redisAddr, redisPrefix string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := llmfactory.Load(llmConfig)
	if err != nil {
		return err
	}

	sessions, err := newSessionStore(dataDir, redisAddr, redisPrefix)
	if err != nil {
		return err
	}

	svc, err := chat.New(factory, sessions,
		chat.WithManagerOptions(tools.WithDialer(dialServer)))
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	serversCfg, err := tools.LoadConfig(mcpConfig)
	if err != nil {
		return err
	}
	if err := svc.UpdateServers(ctx, serversCfg.Servers); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.KV(xlog.INFO, "status", "listening", "addr", addr, "model", svc.Model())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.KV(xlog.INFO, "status", "shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dialServer binds local transport configs to the built-in tools and hands
// everything else to the MCP dialer.
func dialServer(ctx context.Context, cfg *tools.ServerConfig) (tools.Server, error) {
	if cfg.Transport != tools.TransportLocal {
		return tools.MCPDialer(ctx, cfg)
	}
	switch cfg.Command {
	case "tavily":
		t, err := tavily.New()
		if err != nil {
			return nil, err
		}
		return tools.NewLocalServer(t), nil
	default:
		return nil, errors.WithMessagef(tools.ErrConfig, "server %s: unknown built-in: %s", cfg.ID, cfg.Command)
	}
}

func newSessionStore(dataDir, redisAddr, redisPrefix string) (store.SessionStore, error) {
	switch {
	case redisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return store.NewRedisStore(client, redisPrefix), nil
	case dataDir != "":
		return store.NewFileStore(dataDir)
	default:
		return store.NewMemoryStore(), nil
	}
}

func initLogs(verbose bool) {
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if verbose {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.INFO)
	}
}
