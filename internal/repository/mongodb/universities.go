package mongodb

import (
	"context"
	"errors"
	"fmt"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (r *Repository) findUniversity(ctx context.Context, filter bson.M) (*model.University, error) {
	var stored storedUniversity
	err := r.db.Collection(universitiesCollection).FindOne(ctx, filter).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load university: %w", err)
	}
	u := stored.toModel()
	return &u, nil
}

func (r *Repository) SaveUniversity(ctx context.Context, university model.University) error {
	return r.withTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		stored, err := r.findUniversity(sessCtx, bson.M{"_id": university.ID})
		if err != nil {
			return err
		}
		if err := repository.CheckUniversityWrite(stored, university); err != nil {
			return err
		}

		doc := toStoredUniversity(university)
		_, err = r.db.Collection(universitiesCollection).ReplaceOne(sessCtx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: blockchain id of university %s is taken", model.ErrInvariantViolation, university.ID)
		}
		if err != nil {
			return fmt.Errorf("save university %s: %w", university.ID, err)
		}
		return nil
	})
}

func (r *Repository) GetUniversity(ctx context.Context, id string) (model.University, error) {
	u, err := r.findUniversity(ctx, bson.M{"_id": id})
	if err != nil {
		return model.University{}, err
	}
	if u == nil {
		return model.University{}, fmt.Errorf("university %s: %w", id, model.ErrNotFound)
	}
	return *u, nil
}

func (r *Repository) GetUniversityByBlockchainID(ctx context.Context, blockchainID uint64) (model.University, error) {
	u, err := r.findUniversity(ctx, bson.M{"blockchain_id": int64(blockchainID)})
	if err != nil {
		return model.University{}, err
	}
	if u == nil {
		return model.University{}, fmt.Errorf("university with blockchain id %d: %w", blockchainID, model.ErrNotFound)
	}
	return *u, nil
}
