// Package chat is the presentation boundary over the assistant, the tool
// registry and the session store.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/assistants"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/mcpchat/pkg/llmfactory"
	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/effective-security/mcpchat/store"
	"github.com/effective-security/mcpchat/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "chat")

// Response is the outcome of one Send call.
type Response struct {
	SessionID string        `json:"sessionId"`
	Message   store.Message `json:"message"`
	// Warning is set when the run was aborted and Message carries a
	// best-effort partial answer.
	Warning   string `json:"warning,omitempty"`
	Aborted   bool   `json:"aborted,omitempty"`
	Steps     int    `json:"steps"`
	ToolCalls int    `json:"toolCalls"`
}

// ErrModelNotFound is returned by ChangeModel when no configured provider
// offers the requested model.
var ErrModelNotFound = errors.New("model not found")

// toolset is one generation of tool connections. The run counter tracks
// Send calls still using it; a replaced toolset is torn down only after they
// drain.
type toolset struct {
	manager  *tools.Manager
	registry *tools.Registry
	runs     sync.WaitGroup
}

// Service wires sessions, the LLM factory and the tool connections together.
// Server and model reconfiguration is safe while Send calls are in flight;
// an in-flight run keeps using the connections it started with.
type Service struct {
	factory  llmfactory.Factory
	sessions store.SessionStore

	managerOpts   []tools.ManagerOption
	assistantOpts []assistants.Option

	mu    sync.RWMutex
	model llms.Model
	ts    *toolset
}

// Option configures the service.
type Option func(*Service)

// WithManagerOptions passes options to every connection manager the service
// creates, including replacements made by UpdateServers.
func WithManagerOptions(opts ...tools.ManagerOption) Option {
	return func(s *Service) {
		s.managerOpts = opts
	}
}

// WithAssistantOptions passes options to every assistant run.
func WithAssistantOptions(opts ...assistants.Option) Option {
	return func(s *Service) {
		s.assistantOpts = opts
	}
}

// New creates the service with the factory's default model and no tool
// servers. Call UpdateServers to connect a server set.
func New(factory llmfactory.Factory, sessions store.SessionStore, opts ...Option) (*Service, error) {
	model, err := factory.DefaultModel()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create default model")
	}

	s := &Service{
		factory:  factory,
		sessions: sessions,
		model:    model,
	}
	for _, opt := range opts {
		opt(s)
	}

	manager := tools.NewManager(s.managerOpts...)
	s.ts = &toolset{
		manager:  manager,
		registry: tools.NewRegistry(manager),
	}
	return s, nil
}

// Send runs the reasoning loop for one user message. The transcript is
// persisted by the run; an aborted run returns the partial answer with a
// warning rather than an error.
func (s *Service) Send(ctx context.Context, sessionID, text string) (*Response, error) {
	s.mu.RLock()
	model := s.model
	ts := s.ts
	ts.runs.Add(1)
	s.mu.RUnlock()
	defer ts.runs.Done()

	ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext(sessionID, nil))

	opts := append([]assistants.Option{assistants.WithStore(s.sessions)}, s.assistantOpts...)
	assistant := assistants.NewAssistant(model, ts.registry, tools.NewDispatcher(ts.registry, ts.manager), opts...)

	result, err := assistant.Run(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}

	return &Response{
		SessionID: sessionID,
		Message: store.Message{
			Role:      store.RoleAssistant,
			Content:   result.Answer,
			CreatedAt: time.Now().UTC(),
		},
		Warning:   result.Warning,
		Aborted:   result.Status == assistants.RunStatusAborted,
		Steps:     result.Steps,
		ToolCalls: result.ToolCalls,
	}, nil
}

// CreateSession starts a new conversation.
func (s *Service) CreateSession(ctx context.Context, title string) (*store.Session, error) {
	return s.sessions.Create(ctx, title)
}

// Sessions lists the stored conversations, most recently updated first.
func (s *Service) Sessions(ctx context.Context) ([]store.Summary, error) {
	return s.sessions.List(ctx)
}

// Session returns a full conversation.
func (s *Service) Session(ctx context.Context, id string) (*store.Session, error) {
	return s.sessions.Load(ctx, id)
}

// Rename updates a session title.
func (s *Service) Rename(ctx context.Context, id, title string) error {
	return s.sessions.Rename(ctx, id, title)
}

// Delete removes a session.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, id)
}

// Export serializes a session as a portable JSON document.
func (s *Service) Export(ctx context.Context, id string) ([]byte, error) {
	return s.sessions.Export(ctx, id)
}

// Import installs a previously exported session.
func (s *Service) Import(ctx context.Context, data []byte) (*store.Session, error) {
	return s.sessions.Import(ctx, data)
}

// Capabilities returns the tools the connected servers expose.
func (s *Service) Capabilities() []tools.Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ts.registry.ListCapabilities()
}

// UpdateServers replaces the tool server set at runtime. The new set is
// connected before the swap; the previous connections are torn down once the
// runs that started on them finish. On a malformed config the current server
// set stays in place.
func (s *Service) UpdateServers(ctx context.Context, configs []*tools.ServerConfig) error {
	manager := tools.NewManager(s.managerOpts...)
	registry := tools.NewRegistry(manager)
	if err := registry.Load(configs); err != nil {
		return err
	}
	registry.ConnectAll(ctx)

	s.mu.Lock()
	old := s.ts
	s.ts = &toolset{manager: manager, registry: registry}
	s.mu.Unlock()

	if old != nil {
		go func() {
			old.runs.Wait()
			old.manager.Shutdown()
		}()
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "servers_updated",
		"servers", len(configs))
	return nil
}

// ChangeModel switches the model used for subsequent Send calls.
func (s *Service) ChangeModel(name string) error {
	model, err := s.factory.ModelByName(name)
	if err != nil {
		return errors.WithMessagef(err, "failed to create model %s", name)
	}
	// ModelByName falls back to the default model for unknown names.
	if !strings.EqualFold(model.GetName(), name) {
		return errors.WithMessagef(ErrModelNotFound, "model: %s", name)
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()

	logger.KV(xlog.DEBUG,
		"status", "model_changed",
		"model", model.GetName())
	return nil
}

// Model returns the name of the model in use.
func (s *Service) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model.GetName()
}

// Shutdown tears down the tool connections.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ts.manager.Shutdown()
}
