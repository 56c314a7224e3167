package app

import (
	"context"

	"credential-registry/internal/model"
	"credential-registry/internal/reconcile"
)

type SyncStatus struct {
	Cursors []model.SyncCursor `json:"cursors"`
	Engine  reconcile.Stats    `json:"engine"`
}

// TriggerResync only schedules the run; it returns before the replica changes.
func (a *App) TriggerResync(scope string) error {
	return a.engine.TriggerResync(scope)
}

func (a *App) Resync(ctx context.Context, scope string) (reconcile.Result, error) {
	return a.engine.Resync(ctx, scope)
}

func (a *App) SyncStatus(ctx context.Context) (SyncStatus, error) {
	cursors, err := a.store.ListCursors(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	return SyncStatus{Cursors: cursors, Engine: a.engine.Stats()}, nil
}

// Backfill rebuilds the rows of a university from its ledger history.
func (a *App) Backfill(ctx context.Context, universityID uint64) (reconcile.Result, error) {
	return a.engine.Backfill(ctx, universityID)
}

func (a *App) SpotCheck(ctx context.Context, ref model.RequestRef) (reconcile.Drift, error) {
	return a.engine.SpotCheck(ctx, ref)
}
