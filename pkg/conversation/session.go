package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
)

const sessionKeyPrefix = "conv_session:"

// Sessions stores conversation state in Redis. Every write refreshes the
// TTL, so active conversations never expire mid-flow.
type Sessions struct {
	client       *redis.Client
	ttl          time.Duration
	historyLimit int
	logger       zerolog.Logger
}

// NewSessions connects to Redis from config.
func NewSessions(cfg config.SessionConfig, logger zerolog.Logger) *Sessions {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewSessionsWithClient(client, cfg.TTL, cfg.HistoryLimit, logger)
}

// NewSessionsWithClient wraps an existing client, used by tests.
func NewSessionsWithClient(client *redis.Client, ttl time.Duration, historyLimit int, logger zerolog.Logger) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Sessions{client: client, ttl: ttl, historyLimit: historyLimit, logger: logger}
}

// Close releases the Redis client.
func (s *Sessions) Close() error {
	return s.client.Close()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Get loads a session, or ErrNotFound when it does not exist or expired.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var state domain.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &state, nil
}

// GetOrCreate loads an existing session or starts a fresh one. An empty id
// allocates a new session id.
func (s *Sessions) GetOrCreate(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	if sessionID != "" {
		state, err := s.Get(ctx, sessionID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := time.Now()
	return &domain.SessionState{
		SessionID:       sessionID,
		CollectedValues: map[string]any{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Save persists the session and refreshes its TTL. History beyond the limit
// is trimmed oldest-first.
func (s *Sessions) Save(ctx context.Context, state *domain.SessionState) error {
	if len(state.ConversationHistory) > s.historyLimit {
		state.ConversationHistory = state.ConversationHistory[len(state.ConversationHistory)-s.historyLimit:]
	}
	now := time.Now()
	state.UpdatedAt = now
	state.ExpiresAt = now.Add(s.ttl)

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(state.SessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Reset clears the flow state of a session but preserves its history, so a
// user can restart a consultation without losing the transcript.
func (s *Sessions) Reset(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state.CurrentIntent = ""
	state.CurrentNodeID = ""
	state.CollectedValues = map[string]any{}
	state.DocumentContext = ""

	if err := s.Save(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Delete removes a session entirely.
func (s *Sessions) Delete(ctx context.Context, sessionID string) error {
	deleted, err := s.client.Del(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return nil
}

// List returns the ids of all live sessions.
func (s *Sessions) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(sessionKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return ids, nil
}

// TTL reports the remaining lifetime of a session.
func (s *Sessions) TTL(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("session ttl: %w", err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	return ttl, nil
}
