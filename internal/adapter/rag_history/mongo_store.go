package rag_history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"rag-dialog/internal/domain"
)

// MongoStore keeps one document per session: {sessionId, history, createdAt, updatedAt}.
// Updates are single-document operations and therefore atomic.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// EnsureIndexes creates the unique sessionId index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "sessionId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create sessionId index: %w", err)
	}
	return nil
}

func sessionFilter(sessionID string) bson.D {
	return bson.D{{Key: "sessionId", Value: sessionID}}
}

func appendUpdate(records []domain.TurnRecord, now time.Time) bson.D {
	return bson.D{
		{Key: "$push", Value: bson.D{{Key: "history", Value: bson.D{{Key: "$each", Value: records}}}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: now}}},
	}
}

func putUpdate(records []domain.TurnRecord, now time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "history", Value: records},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
	}
}

func (s *MongoStore) Get(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	var rec domain.DialogRecord
	err := s.coll.FindOne(ctx, sessionFilter(sessionID)).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []domain.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return domain.FromRecords(rec.History), nil
}

func (s *MongoStore) Append(ctx context.Context, sessionID string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	records, err := validRecords(sessionID, turns)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx, sessionFilter(sessionID), appendUpdate(records, s.now().UTC()),
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *MongoStore) Put(ctx context.Context, sessionID string, turns []domain.Turn) error {
	records, err := validRecords(sessionID, turns)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx, sessionFilter(sessionID), putUpdate(records, s.now().UTC()),
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put history: %w", err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.coll.DeleteOne(ctx, sessionFilter(sessionID)); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

func validRecords(sessionID string, turns []domain.Turn) ([]domain.TurnRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if err := domain.ValidateTurns(turns); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return domain.ToRecords(turns), nil
}

var _ domain.HistoryStore = (*MongoStore)(nil)
