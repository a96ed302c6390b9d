package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/xlog"
)

const sessionFileExt = ".json"

// fileStore keeps one JSON document per session under a data directory.
// Writes go to a temp file first and are renamed into place, so a session
// file on disk is always a complete document.
type fileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a durable session store under dir.
func NewFileStore(dir string) (SessionStore, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithMessagef(err, "failed to create data directory: %s", dir)
	}
	return &fileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lock returns the write lock of a session. Writes to the same session are
// serialized; different sessions proceed independently.
func (f *fileStore) lock(id string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[id]
	if !ok {
		l = &sync.Mutex{}
		f.locks[id] = l
	}
	return l
}

func (f *fileStore) path(id string) string {
	return filepath.Join(f.dir, id+sessionFileExt)
}

func (f *fileStore) read(id string) (*Session, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithMessagef(ErrSessionNotFound, "id: %s", id)
		}
		return nil, errors.WithMessagef(err, "failed to read session: %s", id)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.WithMessagef(ErrMalformedSession, "id: %s: %s", id, err.Error())
	}
	return &s, nil
}

// write persists the session atomically: temp file, fsync, rename.
func (f *fileStore) write(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.WithMessage(err, "failed to marshal session")
	}

	tmp, err := os.CreateTemp(f.dir, "."+s.ID+".tmp-*")
	if err != nil {
		return errors.WithMessage(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.WithMessage(err, "failed to write session")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.WithMessage(err, "failed to sync session")
	}
	if err := tmp.Close(); err != nil {
		return errors.WithMessage(err, "failed to close session file")
	}

	if err := os.Rename(tmpName, f.path(s.ID)); err != nil {
		return errors.WithMessage(err, "failed to replace session file")
	}
	return nil
}

func (f *fileStore) Create(_ context.Context, title string) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:        chatmodel.NewChatID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	l := f.lock(s.ID)
	l.Lock()
	defer l.Unlock()

	if err := f.write(s); err != nil {
		return nil, err
	}
	return s.clone(), nil
}

func (f *fileStore) Append(_ context.Context, id string, msgs ...Message) error {
	l := f.lock(id)
	l.Lock()
	defer l.Unlock()

	s, err := f.read(id)
	if err != nil {
		return err
	}
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now().UTC()
	return f.write(s)
}

func (f *fileStore) Load(_ context.Context, id string) (*Session, error) {
	return f.read(id)
}

func (f *fileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to list data directory: %s", f.dir)
	}

	var list []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sessionFileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, sessionFileExt)
		s, err := f.read(id)
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING, "session", id, "err", err.Error())
			continue
		}
		list = append(list, s.summary())
	}

	sortSummaries(list)
	return list, nil
}

func (f *fileStore) Rename(_ context.Context, id, title string) error {
	l := f.lock(id)
	l.Lock()
	defer l.Unlock()

	s, err := f.read(id)
	if err != nil {
		return err
	}
	s.Title = title
	s.UpdatedAt = time.Now().UTC()
	return f.write(s)
}

func (f *fileStore) Delete(_ context.Context, id string) error {
	l := f.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(f.path(id)); err != nil {
		if os.IsNotExist(err) {
			return errors.WithMessagef(ErrSessionNotFound, "id: %s", id)
		}
		return errors.WithMessagef(err, "failed to delete session: %s", id)
	}

	f.mu.Lock()
	delete(f.locks, id)
	f.mu.Unlock()
	return nil
}

func (f *fileStore) Export(_ context.Context, id string) ([]byte, error) {
	s, err := f.read(id)
	if err != nil {
		return nil, err
	}
	return exportSession(s)
}

func (f *fileStore) Import(_ context.Context, data []byte) (*Session, error) {
	s, err := parseExport(data)
	if err != nil {
		return nil, err
	}

	l := f.lock(s.ID)
	l.Lock()
	defer l.Unlock()

	if err := f.write(s); err != nil {
		return nil, err
	}
	return s.clone(), nil
}
