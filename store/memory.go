package store

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
)

type inMemory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an ephemeral in-process session store.
func NewMemoryStore() SessionStore {
	return &inMemory{
		sessions: make(map[string]*Session),
	}
}

func (m *inMemory) Create(_ context.Context, title string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        chatmodel.NewChatID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s.clone(), nil
}

func (m *inMemory) Append(_ context.Context, id string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return errors.WithMessagef(ErrSessionNotFound, "id: %s", id)
	}
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *inMemory) Load(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.WithMessagef(ErrSessionNotFound, "id: %s", id)
	}
	return s.clone(), nil
}

func (m *inMemory) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	list := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s.summary())
	}
	m.mu.RUnlock()

	sortSummaries(list)
	return list, nil
}

func (m *inMemory) Rename(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return errors.WithMessagef(ErrSessionNotFound, "id: %s", id)
	}
	s.Title = title
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *inMemory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return errors.WithMessagef(ErrSessionNotFound, "id: %s", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *inMemory) Export(ctx context.Context, id string) ([]byte, error) {
	s, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return exportSession(s)
}

func (m *inMemory) Import(_ context.Context, data []byte) (*Session, error) {
	s, err := parseExport(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s.clone(), nil
}
