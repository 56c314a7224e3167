package app

import (
	"context"
	"fmt"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/model"
	"credential-registry/internal/reconcile"

	"go.uber.org/zap"
)

// ActionRequest asks to approve, withdraw or reject a request on behalf of a
// verifier whose operator key this service holds.
type ActionRequest struct {
	Ref      model.RequestRef
	Verifier string
	Action   model.ApprovalAction
}

type ActionResult struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

// SubmitAction checks the verifier's role, signs and submits the action and
// asks for a resync of the university. The replica keeps showing the old
// state until that resync has seen the ledger events.
func (a *App) SubmitAction(ctx context.Context, req ActionRequest) (ActionResult, error) {
	if !req.Action.IsValid() {
		return ActionResult{}, fmt.Errorf("%w: action %q", model.ErrInvalidArgument, req.Action)
	}

	stored, err := a.store.GetRequest(ctx, req.Ref)
	if err != nil {
		return ActionResult{}, err
	}
	if stored.Status.IsTerminal() {
		return ActionResult{}, fmt.Errorf("%w: %s is %s", ErrRequestClosed, req.Ref, stored.Status)
	}

	decision := a.authz.IsAuthorized(ctx, stored.UniversityID, req.Verifier, model.RoleVerifier)
	switch decision.Decision {
	case model.DecisionUnknown:
		return ActionResult{}, model.ErrAuthorizationUnknown
	case model.DecisionUnauthorized:
		return ActionResult{}, fmt.Errorf("%w: %s is not a verifier of university %d", model.ErrUnauthorized, req.Verifier, stored.UniversityID)
	}

	signer, err := a.signers.GetSigner(req.Verifier)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}

	log := a.logger.With(zap.String("request", req.Ref.String()), zap.String("verifier", req.Verifier), zap.String("action", string(req.Action)))
	log.Info("submitting verifier action")

	batchID, status, err := a.submitter.SubmitAction(ctx, stored.UniversityID, req.Ref, credentialfamily.Action(req.Action), signer, a.submitWait)
	if err != nil {
		log.Warn("verifier action failed", zap.String("batchID", batchID), zap.Error(err))
		return ActionResult{BatchID: batchID, Status: status}, err
	}
	log.Info("verifier action submitted", zap.String("batchID", batchID), zap.String("status", status))

	if err := a.engine.TriggerResync(reconcile.UniversityScope(stored.UniversityID)); err != nil {
		log.Warn("failed to trigger resync", zap.Error(err))
	}
	return ActionResult{BatchID: batchID, Status: status}, nil
}
