// Package app is the query and command surface shared by the HTTP server and
// the CLI. Reads come from the replica; writes go to the ledger and only
// show up after the next reconciliation.
package app

import (
	"context"
	"errors"
	"time"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/model"
	"credential-registry/internal/reconcile"
	"credential-registry/internal/repository"

	"github.com/hyperledger/sawtooth-sdk-go/signing"
	"go.uber.org/zap"
)

const defaultSubmitWait = 10 * time.Second

var ErrRequestClosed = errors.New("request is no longer pending")

type Authorizer interface {
	IsAuthorized(ctx context.Context, universityID uint64, address string, role model.Role) model.AuthDecision
}

// Submitter sends signed verifier actions to the ledger.
type Submitter interface {
	SubmitAction(ctx context.Context, universityID uint64, ref model.RequestRef, action credentialfamily.Action, signer *signing.Signer, wait time.Duration) (string, string, error)
}

type Signers interface {
	GetSigner(address string) (*signing.Signer, error)
}

type App struct {
	logger    *zap.Logger
	store     repository.Store
	engine    *reconcile.Engine
	authz     Authorizer
	submitter Submitter
	signers   Signers

	submitWait time.Duration
}

type Option func(*App)

// WithSubmitWait bounds how long SubmitAction waits for the batch status.
func WithSubmitWait(d time.Duration) Option {
	return func(a *App) {
		a.submitWait = d
	}
}

func NewApp(logger *zap.Logger, store repository.Store, engine *reconcile.Engine, authz Authorizer, submitter Submitter, signers Signers, opts ...Option) *App {
	a := &App{
		logger:     logger,
		store:      store,
		engine:     engine,
		authz:      authz,
		submitter:  submitter,
		signers:    signers,
		submitWait: defaultSubmitWait,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}
