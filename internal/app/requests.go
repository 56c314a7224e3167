package app

import (
	"context"
	"fmt"

	"credential-registry/internal/model"
)

func (a *App) ListRequests(ctx context.Context, filter model.RequestFilter) ([]model.Request, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: status %q", model.ErrInvalidArgument, filter.Status)
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: kind %q", model.ErrInvalidArgument, filter.Kind)
	}
	return a.store.ListRequests(ctx, filter.Normalized())
}

// GetRequest returns the request with its approvals and full approval history.
func (a *App) GetRequest(ctx context.Context, ref model.RequestRef) (model.Request, error) {
	return a.store.GetRequest(ctx, ref)
}

func (a *App) IsAuthorized(ctx context.Context, universityID uint64, address string, role model.Role) model.AuthDecision {
	return a.authz.IsAuthorized(ctx, universityID, address, role)
}
