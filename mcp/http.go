package mcp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
)

// HTTPConfig describes an MCP server reachable over HTTP. Each JSON-RPC
// request is POSTed to the endpoint and the response body carries the reply.
type HTTPConfig struct {
	URL     string
	Headers map[string]string

	// Client, when provided, overrides the default HTTP client.
	Client *http.Client

	Options Options
}

// NewHTTPClient creates an MCP client bound to an HTTP endpoint.
func NewHTTPClient(ctx context.Context, cfg HTTPConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("endpoint URL is required")
	}

	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	transport := &httpTransport{
		url:       cfg.URL,
		headers:   cfg.Headers,
		client:    httpClient,
		responses: make(chan []byte, 8),
		done:      make(chan struct{}),
	}

	return NewClient(ctx, transport, cfg.Options)
}

type httpTransport struct {
	url     string
	headers map[string]string
	client  *http.Client

	responses chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (t *httpTransport) Send(ctx context.Context, payload []byte) error {
	select {
	case <-t.done:
		return errors.New("transport closed")
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return errors.WithMessage(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.WithMessage(err, "failed to send request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errors.Errorf("server returned unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithMessage(err, "failed to read response")
	}

	select {
	case t.responses <- body:
		return nil
	case <-t.done:
		return errors.New("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *httpTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case body := <-t.responses:
		return body, nil
	case <-t.done:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *httpTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
	})
	return nil
}
