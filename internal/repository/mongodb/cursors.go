package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (r *Repository) Cursor(ctx context.Context, scope string) (model.SyncCursor, error) {
	var stored storedCursor
	err := r.db.Collection(cursorsCollection).FindOne(ctx, bson.M{"_id": scope}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.SyncCursor{Scope: scope}, nil
	}
	if err != nil {
		return model.SyncCursor{Scope: scope}, fmt.Errorf("read cursor %s: %w", scope, err)
	}
	return model.SyncCursor{Scope: scope, LastSyncedBlock: uint64(stored.LastSyncedBlock), SyncedAt: stored.SyncedAt}, nil
}

func (r *Repository) ListCursors(ctx context.Context) ([]model.SyncCursor, error) {
	cursor, err := r.db.Collection(cursorsCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}

	var stored []storedCursor
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}

	out := make([]model.SyncCursor, 0, len(stored))
	for _, s := range stored {
		out = append(out, model.SyncCursor{Scope: s.Scope, LastSyncedBlock: uint64(s.LastSyncedBlock), SyncedAt: s.SyncedAt})
	}
	return out, nil
}

func (r *Repository) AdvanceCursor(ctx context.Context, scope string, block uint64) error {
	return r.withTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		current, err := r.Cursor(sessCtx, scope)
		if err != nil {
			return err
		}
		if err := repository.CheckCursorAdvance(current, block); err != nil {
			return err
		}

		doc := storedCursor{Scope: scope, LastSyncedBlock: int64(block), SyncedAt: time.Now().UTC()}
		_, err = r.db.Collection(cursorsCollection).ReplaceOne(sessCtx, bson.M{"_id": scope}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("advance cursor %s: %w", scope, err)
		}
		return nil
	})
}
