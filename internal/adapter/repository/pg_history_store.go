package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"rag-dialog/internal/domain"
)

const (
	selectHistoryQuery = `SELECT history FROM dialogs WHERE session_id = $1`

	// The conflict branch locks the row, so concurrent appends serialize
	// and none is lost.
	appendHistoryQuery = `
		INSERT INTO dialogs (session_id, history, created_at, updated_at)
		VALUES ($1, $2::jsonb, now(), now())
		ON CONFLICT (session_id) DO UPDATE SET
			history = dialogs.history || EXCLUDED.history,
			updated_at = now()
	`

	putHistoryQuery = `
		INSERT INTO dialogs (session_id, history, created_at, updated_at)
		VALUES ($1, $2::jsonb, now(), now())
		ON CONFLICT (session_id) DO UPDATE SET
			history = EXCLUDED.history,
			updated_at = now()
	`

	deleteHistoryQuery = `DELETE FROM dialogs WHERE session_id = $1`
)

type pgHistoryStore struct {
	db PgxIface
}

// NewPgHistoryStore keeps each session's turns as a jsonb array in the dialogs table.
func NewPgHistoryStore(db PgxIface) domain.HistoryStore {
	return &pgHistoryStore{db: db}
}

func (s *pgHistoryStore) Get(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	var raw []byte
	err := executor(ctx, s.db).QueryRow(ctx, selectHistoryQuery, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []domain.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	var records []domain.TurnRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode history of %s: %w", sessionID, err)
	}
	return domain.FromRecords(records), nil
}

func (s *pgHistoryStore) Append(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return s.write(ctx, appendHistoryQuery, sessionID, turns)
}

func (s *pgHistoryStore) Put(ctx context.Context, sessionID string, turns []domain.Turn) error {
	return s.write(ctx, putHistoryQuery, sessionID, turns)
}

func (s *pgHistoryStore) write(ctx context.Context, query, sessionID string, turns []domain.Turn) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if err := domain.ValidateTurns(turns); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	payload, err := json.Marshal(domain.ToRecords(turns))
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if _, err := executor(ctx, s.db).Exec(ctx, query, sessionID, string(payload)); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

func (s *pgHistoryStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := executor(ctx, s.db).Exec(ctx, deleteHistoryQuery, sessionID); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}
