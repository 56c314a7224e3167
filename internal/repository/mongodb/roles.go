package mongodb

import (
	"context"
	"errors"
	"fmt"

	"credential-registry/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (r *Repository) GetRoleGrant(ctx context.Context, universityID uint64, address string, role model.Role) (model.RoleGrant, error) {
	g := model.RoleGrant{UniversityID: universityID, Address: address, Role: role}

	var stored storedRoleGrant
	err := r.db.Collection(roleCacheCollection).FindOne(ctx, bson.M{"_id": roleGrantID(universityID, address, role)}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return g, fmt.Errorf("role %s of %s at %d: %w", role, address, universityID, model.ErrNotFound)
	}
	if err != nil {
		return g, fmt.Errorf("read role cache: %w", err)
	}

	g.Authorized = stored.Authorized
	g.CheckedAt = stored.CheckedAt
	return g, nil
}

func (r *Repository) PutRoleGrant(ctx context.Context, grant model.RoleGrant) error {
	doc := storedRoleGrant{
		ID:           roleGrantID(grant.UniversityID, grant.Address, grant.Role),
		UniversityID: int64(grant.UniversityID),
		Address:      grant.Address,
		Role:         string(grant.Role),
		Authorized:   grant.Authorized,
		CheckedAt:    grant.CheckedAt.UTC(),
	}
	_, err := r.db.Collection(roleCacheCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("write role cache: %w", err)
	}
	return nil
}
