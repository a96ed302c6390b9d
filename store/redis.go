package store

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/chatmodel"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store implements the SessionStore interface using Redis as the
// backend. The keys namespace is organized as follows:
// - `/<prefix>/sessions/info/<id>` for session metadata
// - `/<prefix>/sessions/messages/<id>` for the transcript, as a list
// - `/<prefix>/sessions/ids` for the set of session ids
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a session store over the redis client.
func NewRedisStore(client *redis.Client, prefix string) SessionStore {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

type sessionInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *redisStore) infoKey(id string) string {
	return path.Join(m.prefix, "sessions", "info", id)
}

func (m *redisStore) messagesKey(id string) string {
	return path.Join(m.prefix, "sessions", "messages", id)
}

func (m *redisStore) idsKey() string {
	return path.Join(m.prefix, "sessions", "ids")
}

func (m *redisStore) getInfo(ctx context.Context, id string) (*sessionInfo, error) {
	data, err := m.client.Get(ctx, m.infoKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.WithMessagef(ErrSessionNotFound, "id: %s", id)
		}
		return nil, errors.WithMessage(err, "failed to get session info from Redis")
	}
	var info sessionInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, errors.WithMessagef(ErrMalformedSession, "id: %s: %s", id, err.Error())
	}
	return &info, nil
}

func (m *redisStore) putInfo(pipe redis.Pipeliner, ctx context.Context, info *sessionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return errors.WithMessage(err, "failed to marshal session info")
	}
	pipe.Set(ctx, m.infoKey(info.ID), data, 0)
	pipe.SAdd(ctx, m.idsKey(), info.ID)
	return nil
}

func (m *redisStore) Create(ctx context.Context, title string) (*Session, error) {
	now := time.Now().UTC()
	info := &sessionInfo{
		ID:        chatmodel.NewChatID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	pipe := m.client.TxPipeline()
	if err := m.putInfo(pipe, ctx, info); err != nil {
		return nil, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.WithMessage(err, "failed to store session in Redis")
	}

	return &Session{
		ID:        info.ID,
		Title:     info.Title,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
	}, nil
}

func (m *redisStore) Append(ctx context.Context, id string, msgs ...Message) error {
	info, err := m.getInfo(ctx, id)
	if err != nil {
		return err
	}
	info.UpdatedAt = time.Now().UTC()

	pipe := m.client.TxPipeline()
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.WithMessage(err, "failed to marshal message")
		}
		pipe.RPush(ctx, m.messagesKey(id), data)
	}
	if err := m.putInfo(pipe, ctx, info); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WithMessage(err, "failed to store messages in Redis")
	}
	return nil
}

func (m *redisStore) Load(ctx context.Context, id string) (*Session, error) {
	info, err := m.getInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := m.client.LRange(ctx, m.messagesKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.WithMessage(err, "failed to load messages from Redis")
	}

	s := &Session{
		ID:        info.ID,
		Title:     info.Title,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
	}
	for _, item := range data {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal message", "err", err.Error())
			continue
		}
		s.Messages = append(s.Messages, msg)
	}
	return s, nil
}

func (m *redisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := m.client.SMembers(ctx, m.idsKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.WithMessage(err, "failed to list sessions from Redis")
	}

	var list []Summary
	for _, id := range ids {
		info, err := m.getInfo(ctx, id)
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING, "session", id, "err", err.Error())
			continue
		}
		count, err := m.client.LLen(ctx, m.messagesKey(id)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, errors.WithMessage(err, "failed to count messages in Redis")
		}
		list = append(list, Summary{
			ID:           info.ID,
			Title:        info.Title,
			CreatedAt:    info.CreatedAt,
			UpdatedAt:    info.UpdatedAt,
			MessageCount: int(count),
		})
	}

	sortSummaries(list)
	return list, nil
}

func (m *redisStore) Rename(ctx context.Context, id, title string) error {
	info, err := m.getInfo(ctx, id)
	if err != nil {
		return err
	}
	info.Title = title
	info.UpdatedAt = time.Now().UTC()

	pipe := m.client.TxPipeline()
	if err := m.putInfo(pipe, ctx, info); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WithMessage(err, "failed to update session in Redis")
	}
	return nil
}

func (m *redisStore) Delete(ctx context.Context, id string) error {
	if _, err := m.getInfo(ctx, id); err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.infoKey(id))
	pipe.Del(ctx, m.messagesKey(id))
	pipe.SRem(ctx, m.idsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WithMessage(err, "failed to delete session from Redis")
	}
	return nil
}

func (m *redisStore) Export(ctx context.Context, id string) ([]byte, error) {
	s, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return exportSession(s)
}

func (m *redisStore) Import(ctx context.Context, data []byte) (*Session, error) {
	s, err := parseExport(data)
	if err != nil {
		return nil, err
	}

	info := &sessionInfo{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.messagesKey(s.ID))
	for _, msg := range s.Messages {
		bs, err := json.Marshal(msg)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to marshal message")
		}
		pipe.RPush(ctx, m.messagesKey(s.ID), bs)
	}
	if err := m.putInfo(pipe, ctx, info); err != nil {
		return nil, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.WithMessage(err, "failed to import session into Redis")
	}
	return s, nil
}
