package domain

import (
	"context"
	"fmt"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Turn is one utterance in a session.
type Turn struct {
	Role Role
	Text string
}

// UserTurn and ModelTurn are shorthands used by the ask pipeline.
func UserTurn(text string) Turn  { return Turn{Role: RoleUser, Text: text} }
func ModelTurn(text string) Turn { return Turn{Role: RoleModel, Text: text} }

// ValidateTurns rejects turns with unknown roles.
func ValidateTurns(turns []Turn) error {
	for i, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("turn %d has invalid role %q", i, t.Role)
		}
	}
	return nil
}

// HistoryStore persists per-session turn sequences.
//
// Append is atomic per session: concurrent appends for one session are all
// kept, each call's turns stay contiguous, and the record is created on first
// use. Put replaces the whole sequence (create-if-absent). Get returns an
// empty slice for unknown sessions.
type HistoryStore interface {
	Get(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Put(ctx context.Context, sessionID string, turns []Turn) error
	Delete(ctx context.Context, sessionID string) error
}
