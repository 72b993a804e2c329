package rag_history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-dialog/internal/domain"
)

const (
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// RedisStore keeps each session as a list of JSON turn records plus a
// metadata hash. Writes run in MULTI/EXEC, so an append is atomic.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix, now: time.Now}
}

func (s *RedisStore) historyKey(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) metaKey(sessionID string) string {
	return s.prefix + sessionID + ":meta"
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	records := make([]domain.TurnRecord, 0, len(raw))
	for i, item := range raw {
		var rec domain.TurnRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode turn %d of %s: %w", i, sessionID, err)
		}
		records = append(records, rec)
	}
	return domain.FromRecords(records), nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values, err := encodeTurns(sessionID, turns)
	if err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.historyKey(sessionID), values...)
		pipe.HSetNX(ctx, s.metaKey(sessionID), fieldCreatedAt, now)
		pipe.HSet(ctx, s.metaKey(sessionID), fieldUpdatedAt, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, turns []domain.Turn) error {
	values, err := encodeTurns(sessionID, turns)
	if err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.historyKey(sessionID))
		if len(values) > 0 {
			pipe.RPush(ctx, s.historyKey(sessionID), values...)
		}
		pipe.HSetNX(ctx, s.metaKey(sessionID), fieldCreatedAt, now)
		pipe.HSet(ctx, s.metaKey(sessionID), fieldUpdatedAt, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put history: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.historyKey(sessionID), s.metaKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

// Meta returns the creation and last update time of a session.
func (s *RedisStore) Meta(ctx context.Context, sessionID string) (createdAt, updatedAt time.Time, err error) {
	fields, err := s.client.HGetAll(ctx, s.metaKey(sessionID)).Result()
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to read history meta: %w", err)
	}
	if v, ok := fields[fieldCreatedAt]; ok {
		createdAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := fields[fieldUpdatedAt]; ok {
		updatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return createdAt, updatedAt, nil
}

func encodeTurns(sessionID string, turns []domain.Turn) ([]any, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if err := domain.ValidateTurns(turns); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	values := make([]any, 0, len(turns))
	for _, rec := range domain.ToRecords(turns) {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode turn: %w", err)
		}
		values = append(values, string(b))
	}
	return values, nil
}

var _ domain.HistoryStore = (*RedisStore)(nil)
