package onboarding

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SessionStore persists onboarding sessions across process restarts.
// Put performs an optimistic version check: the stored version must equal
// the session's version or the write fails with ErrSessionConflict. On
// success the store bumps the session's version in place.
type SessionStore interface {
	Get(ctx context.Context, sessionID domain.SessionID) (*OnboardingSession, error)
	Put(ctx context.Context, session *OnboardingSession, ttl time.Duration) error
	Delete(ctx context.Context, sessionID domain.SessionID) error

	// Sweep removes sessions past their expiry and returns how many were
	// removed. Stores with native TTL eviction may report zero.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type localEntry struct {
	payload   []byte
	version   int64
	expiresAt time.Time
}

// LocalSessionStore is the in-memory implementation used by tests and
// single-process deployments.
type LocalSessionStore struct {
	mutex    sync.Mutex
	sessions map[domain.SessionID]localEntry
	nowFunc  func() time.Time
}

func NewLocalSessionStore() *LocalSessionStore {
	return &LocalSessionStore{
		sessions: make(map[domain.SessionID]localEntry),
		nowFunc:  time.Now,
	}
}

func (ls *LocalSessionStore) Get(ctx context.Context, sessionID domain.SessionID) (*OnboardingSession, error) {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	entry, exists := ls.sessions[sessionID]
	if !exists || !ls.nowFunc().Before(entry.expiresAt) {
		return nil, ErrSessionNotFound
	}

	return decodeSession(entry.payload)
}

func (ls *LocalSessionStore) Put(ctx context.Context, session *OnboardingSession, ttl time.Duration) error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	entry, exists := ls.sessions[session.ID]
	if exists {
		if entry.version != session.Version {
			return ErrSessionConflict
		}
	} else if session.Version != 0 {
		return ErrSessionConflict
	}

	session.Version++

	payload, err := json.Marshal(session)
	if err != nil {
		session.Version--
		return err
	}

	ls.sessions[session.ID] = localEntry{
		payload:   payload,
		version:   session.Version,
		expiresAt: ls.nowFunc().Add(ttl),
	}

	return nil
}

func (ls *LocalSessionStore) Delete(ctx context.Context, sessionID domain.SessionID) error {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	delete(ls.sessions, sessionID)
	return nil
}

func (ls *LocalSessionStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	removed := 0
	for sessionID, entry := range ls.sessions {
		if !now.Before(entry.expiresAt) {
			delete(ls.sessions, sessionID)
			removed++
		}
	}
	return removed, nil
}

// RedisSessionStore persists sessions in Redis with a key TTL matching the
// session lifetime. The optimistic version check runs inside a WATCH
// transaction so two writers racing on the same session cannot both win.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(sessionID domain.SessionID) string {
	return "pos-connector:onboarding-session:" + sessionID.String()
}

func (rs *RedisSessionStore) Get(ctx context.Context, sessionID domain.SessionID) (*OnboardingSession, error) {
	payload, err := rs.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "session_id": sessionID}).Error("Unable to read session from redis")
		return nil, err
	}

	return decodeSession(payload)
}

func (rs *RedisSessionStore) Put(ctx context.Context, session *OnboardingSession, ttl time.Duration) error {
	key := sessionKey(session.ID)
	expectedVersion := session.Version

	err := rs.client.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			if expectedVersion != 0 {
				return ErrSessionConflict
			}
		case err != nil:
			return err
		default:
			stored, err := decodeSession(payload)
			if err != nil {
				return err
			}
			if stored.Version != expectedVersion {
				return ErrSessionConflict
			}
		}

		session.Version = expectedVersion + 1
		updated, err := json.Marshal(session)
		if err != nil {
			session.Version = expectedVersion
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ttl)
			return nil
		})
		if err != nil {
			session.Version = expectedVersion
		}
		return err
	}, key)

	if err == redis.TxFailedErr {
		session.Version = expectedVersion
		return ErrSessionConflict
	}
	return err
}

func (rs *RedisSessionStore) Delete(ctx context.Context, sessionID domain.SessionID) error {
	return rs.client.Del(ctx, sessionKey(sessionID)).Err()
}

// Sweep is a no-op for Redis: the key TTL evicts expired sessions.
func (rs *RedisSessionStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func decodeSession(payload []byte) (*OnboardingSession, error) {
	var session OnboardingSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}
