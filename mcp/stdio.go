package mcp

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// StdioConfig describes how to spawn an MCP server on the stdio transport.
// Messages are framed as line-delimited JSON on the process pipes.
type StdioConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	// Stderr, when provided, receives the standard error stream of the
	// spawned server process. Defaults to os.Stderr if nil.
	Stderr io.Writer

	Options Options
}

// NewStdioClient starts the configured command and binds the stdin/stdout
// pipes to the MCP client transport. The caller must Close the returned
// client when the session ends. Any failure during initialization stops the
// process and returns an error.
func NewStdioClient(ctx context.Context, cfg StdioConfig) (*Client, error) {
	if cfg.Command == "" {
		return nil, errors.New("stdio command is required")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.Stderr != nil {
		cmd.Stderr = cfg.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open stdout pipe")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open stdin pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.WithMessagef(err, "failed to start command: %s", cfg.Command)
	}

	transport := newStdioTransport(cmd, stdin, stdout)
	client, err := NewClient(ctx, transport, cfg.Options)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	return client, nil
}

type stdioTransport struct {
	cmd    *exec.Cmd
	writer io.WriteCloser

	lines chan []byte
	done  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStdioTransport wraps an already-started process. Exposed for tests that
// spawn the server themselves.
func newStdioTransport(cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser) Transport {
	t := &stdioTransport{
		cmd:    cmd,
		writer: stdin,
		lines:  make(chan []byte, 8),
		done:   make(chan struct{}),
	}

	// A single reader goroutine pumps stdout lines; Receive stays
	// cancelable without abandoning reads mid-frame.
	go func() {
		defer close(t.lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case t.lines <- line:
			case <-t.done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.KV(xlog.DEBUG, "reason", "stdout closed", "err", err.Error())
		}
	}()

	return t
}

func (t *stdioTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return errors.New("transport closed")
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(payload); err != nil {
		return errors.WithMessage(err, "failed to write request")
	}
	if _, err := t.writer.Write([]byte{'\n'}); err != nil {
		return errors.WithMessage(err, "failed to write request")
	}
	return nil
}

func (t *stdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-t.lines:
		if !ok {
			return nil, errors.New("server closed the connection")
		}
		return line, nil
	case <-t.done:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.writer.Close()
		if t.cmd != nil && t.cmd.Process != nil {
			// Closing stdin asks the server to exit; kill covers the
			// ones that don't.
			_ = t.cmd.Process.Kill()
			_ = t.cmd.Wait()
		}
	})
	return t.closeErr
}
