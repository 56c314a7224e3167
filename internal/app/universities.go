package app

import (
	"context"
	"fmt"
	"strings"

	"credential-registry/internal/model"

	"go.uber.org/zap"
)

// RegisterUniversity creates or updates the replica row of a university.
// The ledger id can be set once and never changed.
func (a *App) RegisterUniversity(ctx context.Context, u model.University) error {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return fmt.Errorf("%w: university id is missing", model.ErrInvalidArgument)
	}
	if err := a.store.SaveUniversity(ctx, u); err != nil {
		return err
	}

	fields := []zap.Field{zap.String("university", u.ID), zap.Int("requiredApprovals", u.RequiredApprovals)}
	if u.BlockchainID != nil {
		fields = append(fields, zap.Uint64("blockchainID", *u.BlockchainID))
	}
	a.logger.Info("university registered", fields...)
	return nil
}

func (a *App) GetUniversity(ctx context.Context, id string) (model.University, error) {
	return a.store.GetUniversity(ctx, id)
}
