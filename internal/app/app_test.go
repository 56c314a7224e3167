package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/keymanager"
	"credential-registry/internal/model"
	"credential-registry/internal/reconcile"
	"credential-registry/internal/repository"
	"credential-registry/internal/repository/sqlite"

	"github.com/hyperledger/sawtooth-sdk-go/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emptyLedger struct{}

func (emptyLedger) HeadBlock(context.Context) (uint64, error) { return 0, nil }

func (emptyLedger) FetchEvents(_ context.Context, from, to uint64) (model.EventRange, error) {
	return model.EventRange{From: from, To: to}, nil
}

func (emptyLedger) GetRequest(context.Context, model.RequestRef) (model.RequestSnapshot, error) {
	return model.RequestSnapshot{}, model.ErrNotFound
}

type fixedAuthorizer model.Decision

func (d fixedAuthorizer) IsAuthorized(context.Context, uint64, string, model.Role) model.AuthDecision {
	return model.AuthDecision{Decision: model.Decision(d), Source: model.SourceLedger}
}

type submitted struct {
	universityID uint64
	ref          model.RequestRef
	action       credentialfamily.Action
}

type fakeSubmitter struct {
	calls []submitted
}

func (f *fakeSubmitter) SubmitAction(_ context.Context, universityID uint64, ref model.RequestRef, action credentialfamily.Action, _ *signing.Signer, _ time.Duration) (string, string, error) {
	f.calls = append(f.calls, submitted{universityID: universityID, ref: ref, action: action})
	return "batch-1", "COMMITTED", nil
}

type testApp struct {
	*App
	store     *sqlite.Store
	engine    *reconcile.Engine
	submitter *fakeSubmitter
	verifier  string
}

var pendingRef = model.RequestRef{Kind: model.KindIssuance, ID: 7}

func createTestApp(t *testing.T, decision model.Decision) testApp {
	t.Helper()
	logger := zap.NewNop()

	store, err := sqlite.Open(logger, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	engine := reconcile.NewEngine(logger, emptyLedger{}, store, reconcile.Config{DeploymentBlock: 1})
	t.Cleanup(engine.Wait)

	keys := keymanager.NewKeyManager(logger)
	verifier, err := keys.GenerateKeys()
	require.NoError(t, err)

	submitter := &fakeSubmitter{}
	a := NewApp(logger, store, engine, fixedAuthorizer(decision), submitter, keys, WithSubmitWait(time.Second))

	_, err = store.SaveBatch(context.Background(), repository.Batch{Requests: []model.Request{
		{Ref: pendingRef, UniversityID: 3, Status: model.StatusPending, Quorum: 2, CreatedAtBlock: 1},
		{Ref: model.RequestRef{Kind: model.KindIssuance, ID: 8}, UniversityID: 3, Status: model.StatusRejected, Quorum: 2, CreatedAtBlock: 1, ClosedAtBlock: 2},
	}})
	require.NoError(t, err)

	return testApp{App: a, store: store, engine: engine, submitter: submitter, verifier: verifier.Address()}
}

func TestSubmitAction(t *testing.T) {
	a := createTestApp(t, model.DecisionAuthorized)

	res, err := a.SubmitAction(context.Background(), ActionRequest{Ref: pendingRef, Verifier: a.verifier, Action: model.ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, ActionResult{BatchID: "batch-1", Status: "COMMITTED"}, res)

	require.Len(t, a.submitter.calls, 1)
	assert.Equal(t, submitted{universityID: 3, ref: pendingRef, action: credentialfamily.ActionApprove}, a.submitter.calls[0])

	a.engine.Wait()
	assert.Equal(t, uint64(1), a.engine.Stats().Triggers)

	// nothing changes until the ledger events are reconciled
	got, err := a.GetRequest(context.Background(), pendingRef)
	require.NoError(t, err)
	assert.Empty(t, got.Approvals)
}

func TestSubmitActionRefused(t *testing.T) {
	ctx := context.Background()

	a := createTestApp(t, model.DecisionUnauthorized)
	_, err := a.SubmitAction(ctx, ActionRequest{Ref: pendingRef, Verifier: a.verifier, Action: model.ActionApprove})
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Empty(t, a.submitter.calls)

	a = createTestApp(t, model.DecisionUnknown)
	_, err = a.SubmitAction(ctx, ActionRequest{Ref: pendingRef, Verifier: a.verifier, Action: model.ActionWithdraw})
	assert.ErrorIs(t, err, model.ErrAuthorizationUnknown)

	a = createTestApp(t, model.DecisionAuthorized)
	_, err = a.SubmitAction(ctx, ActionRequest{Ref: model.RequestRef{Kind: model.KindIssuance, ID: 8}, Verifier: a.verifier, Action: model.ActionApprove})
	assert.ErrorIs(t, err, ErrRequestClosed)

	_, err = a.SubmitAction(ctx, ActionRequest{Ref: model.RequestRef{Kind: model.KindRevocation, ID: 7}, Verifier: a.verifier, Action: model.ActionApprove})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = a.SubmitAction(ctx, ActionRequest{Ref: pendingRef, Verifier: a.verifier, Action: "execute"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	// a valid key this service does not hold
	_, err = a.SubmitAction(ctx, ActionRequest{Ref: pendingRef, Verifier: "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", Action: model.ActionReject})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Empty(t, a.submitter.calls)
}

func TestListRequests(t *testing.T) {
	a := createTestApp(t, model.DecisionAuthorized)
	ctx := context.Background()

	all, err := a.ListRequests(ctx, model.RequestFilter{UniversityID: 3})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := a.ListRequests(ctx, model.RequestFilter{UniversityID: 3, Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, pendingRef, pending[0].Ref)

	_, err = a.ListRequests(ctx, model.RequestFilter{UniversityID: 3, Status: "done"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestSyncStatus(t *testing.T) {
	a := createTestApp(t, model.DecisionAuthorized)
	ctx := context.Background()
	require.NoError(t, a.store.AdvanceCursor(ctx, model.GlobalScope, 12))

	status, err := a.SyncStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status.Cursors, 1)
	assert.Equal(t, uint64(12), status.Cursors[0].LastSyncedBlock)
	assert.ErrorIs(t, a.TriggerResync("nowhere"), model.ErrInvalidArgument)
}

func TestRegisterUniversity(t *testing.T) {
	a := createTestApp(t, model.DecisionAuthorized)
	ctx := context.Background()

	assert.ErrorIs(t, a.RegisterUniversity(ctx, model.University{ID: " ", RequiredApprovals: 2}), model.ErrInvalidArgument)

	chainID := uint64(3)
	require.NoError(t, a.RegisterUniversity(ctx, model.University{ID: "uni-a", Name: "A", BlockchainID: &chainID, IsActive: true, RequiredApprovals: 2}))

	u, err := a.GetUniversity(ctx, "uni-a")
	require.NoError(t, err)
	assert.Equal(t, 2, u.RequiredApprovals)
	require.NotNil(t, u.BlockchainID)
	assert.Equal(t, chainID, *u.BlockchainID)
}
