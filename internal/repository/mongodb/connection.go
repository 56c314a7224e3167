// Package mongodb is the shared replica used by the HTTP service. Batch
// writes run in multi-document transactions, so the server must be a replica set.
package mongodb

import (
	"context"
	"time"

	"credential-registry/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const (
	requestsCollection     = "requests"
	approvalsCollection    = "approvals"
	historyCollection      = "approval_history"
	cursorsCollection      = "sync_cursors"
	roleCacheCollection    = "role_cache"
	universitiesCollection = "universities"
)

type Repository struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

var _ repository.Store = (*Repository)(nil)

func NewConnection(ctx context.Context, logger *zap.Logger, uri, dbName string) (*Repository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		logger.Error("db connection failed", zap.String("uri", uri))
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	r := &Repository{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close(ctx context.Context) error {
	if err := r.client.Disconnect(ctx); err != nil {
		r.logger.Error("failed to disconnect the DB: " + err.Error())
		return err
	}
	return nil
}

func (r *Repository) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		requestsCollection: {
			{Keys: bson.D{{Key: "university_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at_block", Value: -1}}},
		},
		approvalsCollection: {
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "request_id", Value: 1}}},
			{Keys: bson.D{{Key: "university_id", Value: 1}}},
		},
		historyCollection: {
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "request_id", Value: 1}}},
			{Keys: bson.D{{Key: "university_id", Value: 1}}},
		},
		universitiesCollection: {
			{Keys: bson.D{{Key: "blockchain_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		},
	}

	for coll, models := range indexes {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			r.logger.Error("failed to create indexes", zap.String("collection", coll), zap.Error(err))
			return err
		}
	}
	return nil
}

// withTransaction runs fn in a multi-document transaction. fn may run more
// than once when the server reports a transient transaction error.
func (r *Repository) withTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}
