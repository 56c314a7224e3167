// Package authz answers "may this account act for this university" from the
// ledger's live role view, falling back to the last confirmed answer kept in
// the replica when the ledger cannot be reached.
package authz

import (
	"context"
	"time"

	"credential-registry/internal/model"
	"credential-registry/internal/signkeys"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Ledger interface {
	CheckRole(ctx context.Context, universityID uint64, account string) (model.RoleSet, error)
}

// Cache holds ledger-confirmed role answers.
type Cache interface {
	GetRoleGrant(ctx context.Context, universityID uint64, address string, role model.Role) (model.RoleGrant, error)
	PutRoleGrant(ctx context.Context, grant model.RoleGrant) error
}

type Config struct {
	// MaxAge is how long a cached answer may stand in for the ledger.
	MaxAge  time.Duration
	Retries uint64
	Backoff time.Duration
}

type Resolver struct {
	logger *zap.Logger
	ledger Ledger
	cache  Cache
	cfg    Config
	now    func() time.Time
}

func NewResolver(logger *zap.Logger, ledger Ledger, cache Cache, cfg Config) *Resolver {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 72 * time.Hour
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Resolver{
		logger: logger,
		ledger: ledger,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
	}
}

// IsAuthorized never turns a failed ledger call into a negative answer: the
// result is then the cached answer if it is fresh enough, else unknown.
func (r *Resolver) IsAuthorized(ctx context.Context, universityID uint64, address string, role model.Role) model.AuthDecision {
	log := r.logger.With(zap.Uint64("university", universityID), zap.String("address", address), zap.String("role", string(role)))

	normalized, err := signkeys.NormalizeAddress(address)
	if err != nil {
		// no role can be granted to something that is not a public key
		log.Debug("not an account address", zap.Error(err))
		return model.AuthDecision{Decision: model.DecisionUnauthorized, Source: model.SourceNone}
	}

	roles, err := r.checkRole(ctx, universityID, normalized)
	if err == nil {
		checkedAt := r.now().UTC()
		grant := model.RoleGrant{
			UniversityID: universityID,
			Address:      normalized,
			Role:         role,
			Authorized:   roles.Has(role),
			CheckedAt:    checkedAt,
		}
		if err := r.cache.PutRoleGrant(context.WithoutCancel(ctx), grant); err != nil {
			log.Warn("failed to cache role answer", zap.Error(err))
		}
		return model.AuthDecision{Decision: decisionOf(grant.Authorized), Source: model.SourceLedger, CheckedAt: checkedAt}
	}
	log.Warn("live role check failed, using the cache", zap.Error(err))

	grant, err := r.cache.GetRoleGrant(ctx, universityID, normalized, role)
	if err != nil {
		if !model.IsNotFound(err) {
			log.Error("failed to read role cache", zap.Error(err))
		}
		return model.AuthDecision{Decision: model.DecisionUnknown, Source: model.SourceNone}
	}

	if age := r.now().Sub(grant.CheckedAt); age > r.cfg.MaxAge {
		log.Info("cached role answer too old", zap.Duration("age", age))
		return model.AuthDecision{Decision: model.DecisionUnknown, Source: model.SourceCache, CheckedAt: grant.CheckedAt}
	}
	return model.AuthDecision{Decision: decisionOf(grant.Authorized), Source: model.SourceCache, CheckedAt: grant.CheckedAt}
}

func (r *Resolver) checkRole(ctx context.Context, universityID uint64, address string) (model.RoleSet, error) {
	var roles model.RoleSet
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.Backoff), r.cfg.Retries), ctx)
	err := backoff.Retry(func() (err error) {
		roles, err = r.ledger.CheckRole(ctx, universityID, address)
		if err != nil && !model.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return roles, err
}

func decisionOf(authorized bool) model.Decision {
	if authorized {
		return model.DecisionAuthorized
	}
	return model.DecisionUnauthorized
}
