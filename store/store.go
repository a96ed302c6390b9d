// Package store persists chat sessions across memory, file and redis
// backends.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "store")

var (
	// ErrSessionNotFound is returned when the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMalformedSession is returned when an imported document does not
	// match the session shape.
	ErrMalformedSession = errors.New("malformed session")
)

// Role is the author of a stored message.
type Role string

const (
	// RoleUser is an end-user message.
	RoleUser Role = "user"
	// RoleAssistant is a model answer.
	RoleAssistant Role = "assistant"
	// RoleTool is a tool observation recorded during a run.
	RoleTool Role = "tool"
)

func (r Role) valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one entry of a session transcript. Transcripts are append-only
// and keep insertion order.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
}

// Session is a full conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// SessionStore is the session persistence boundary. Writes to the same
// session are serialized; a write has reached the backing medium before the
// call returns.
type SessionStore interface {
	// Create starts a new session with a generated id.
	Create(ctx context.Context, title string) (*Session, error)
	// Append adds messages to the end of the transcript.
	Append(ctx context.Context, id string, msgs ...Message) error
	// Load returns the full session.
	Load(ctx context.Context, id string) (*Session, error)
	// List returns session summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
	// Rename updates the session title.
	Rename(ctx context.Context, id, title string) error
	// Delete removes the session.
	Delete(ctx context.Context, id string) error
	// Export serializes the session as a portable JSON document.
	Export(ctx context.Context, id string) ([]byte, error)
	// Import installs a previously exported session, all-or-nothing.
	Import(ctx context.Context, data []byte) (*Session, error)
}

// clone guards callers against aliasing the store's message slice.
func (s *Session) clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

func (s *Session) summary() Summary {
	return Summary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

func sortSummaries(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

// exportSession renders the canonical export document.
func exportSession(s *Session) ([]byte, error) {
	bs, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.WithMessage(err, "failed to marshal session")
	}
	return bs, nil
}

// parseExport validates an export document: the top-level shape must match
// exactly, the id must be set, and every message role must be known. The
// returned session is safe to install as-is.
func parseExport(data []byte) (*Session, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Session
	if err := dec.Decode(&s); err != nil {
		return nil, errors.WithMessagef(ErrMalformedSession, "%s", err.Error())
	}
	if s.ID == "" {
		return nil, errors.WithMessage(ErrMalformedSession, "missing session id")
	}
	for i, msg := range s.Messages {
		if !msg.Role.valid() {
			return nil, errors.WithMessagef(ErrMalformedSession, "message %d: unknown role: %s", i, msg.Role)
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return &s, nil
}
