package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func ref(id uint64) model.RequestRef {
	return model.RequestRef{Kind: model.KindIssuance, ID: id}
}

func pending(id, university uint64, verifiers ...string) model.Request {
	r := model.Request{
		Ref:            ref(id),
		UniversityID:   university,
		SubjectPayload: []byte("subject"),
		Status:         model.StatusPending,
		Quorum:         2,
		CreatedAtBlock: 10,
	}
	for i, v := range verifiers {
		r.Approvals = append(r.Approvals, model.Approval{Ref: r.Ref, Verifier: v, Active: true, AtBlock: 11 + uint64(i)})
	}
	return r
}

func executed(r model.Request, token string) model.Request {
	r.Status = model.StatusExecuted
	r.ClosedAtBlock = 20
	r.ExecutedTokenID = &token
	return r
}

func TestSaveBatchIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := pending(1, 7, "0xaa", "0xbb")
	batch := repository.Batch{
		Requests: []model.Request{r},
		History: []model.ApprovalEvent{
			{At: model.Position{Block: 11}, Ref: r.Ref, Verifier: "0xaa", Action: model.ActionApprove, Counted: true},
			{At: model.Position{Block: 12}, Ref: r.Ref, Verifier: "0xbb", Action: model.ActionApprove, Counted: true},
		},
	}

	report, err := s.SaveBatch(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 1, report.RequestsWritten)
	assert.Equal(t, 2, report.ApprovalsWritten)
	assert.Equal(t, 2, report.HistoryWritten)

	report, err = s.SaveBatch(ctx, batch)
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 0, report.ApprovalsWritten)
	assert.Equal(t, 0, report.HistoryWritten)

	got, err := s.GetRequest(ctx, r.Ref)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, []byte("subject"), got.SubjectPayload)
	assert.Len(t, got.Approvals, 2)
	assert.Len(t, got.History, 2)
	assert.Equal(t, 2, got.ActiveApprovals())
}

func TestGetRequestNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRequest(context.Background(), ref(99))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTerminalTransitionIsIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	done := executed(pending(1, 7, "0xaa", "0xbb"), "tok-1")
	_, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{done}})
	require.NoError(t, err)

	reopened := pending(1, 7, "0xaa", "0xbb")
	other := pending(2, 7, "0xaa")
	report, err := s.SaveBatch(ctx, repository.Batch{
		Requests: []model.Request{reopened, other},
		History: []model.ApprovalEvent{
			{At: model.Position{Block: 30}, Ref: reopened.Ref, Verifier: "0xcc", Action: model.ActionApprove, Counted: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.ErrorIs(t, report.Violations[0], model.ErrInvariantViolation)
	assert.Equal(t, 1, report.RequestsWritten)
	assert.Equal(t, 0, report.HistoryWritten)

	got, err := s.GetRequest(ctx, done.Ref)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, got.Status)
	require.NotNil(t, got.ExecutedTokenID)
	assert.Equal(t, "tok-1", *got.ExecutedTokenID)
	assert.Empty(t, got.History)

	_, err = s.GetRequest(ctx, other.Ref)
	assert.NoError(t, err)
}

func TestClosedRequestApprovalsAreFrozen(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	done := executed(pending(1, 7, "0xaa", "0xbb"), "tok-1")
	_, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{done}})
	require.NoError(t, err)

	changed := executed(pending(1, 7, "0xaa", "0xbb"), "tok-1")
	changed.Approvals[1].Active = false
	report, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{changed}})
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.ErrorIs(t, report.Violations[0], model.ErrInvariantViolation)

	got, err := s.GetRequest(ctx, done.Ref)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ActiveApprovals())
}

func TestExecutedTokenCannotChange(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{executed(pending(1, 7), "tok-1")}})
	require.NoError(t, err)

	report, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{executed(pending(1, 7), "tok-2")}})
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.ErrorIs(t, report.Violations[0], model.ErrInvariantViolation)
}

func TestRevocationTokenRejected(t *testing.T) {
	s := createTestStore(t)
	r := executed(pending(1, 7), "tok-1")
	r.Ref.Kind = model.KindRevocation

	report, err := s.SaveBatch(context.Background(), repository.Batch{Requests: []model.Request{r}})
	require.NoError(t, err)
	assert.Len(t, report.Violations, 1)
}

func TestRequestIDsAreScopedByKind(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	issuance := pending(1, 7, "0xaa")
	revocation := pending(1, 7, "0xbb")
	revocation.Ref.Kind = model.KindRevocation
	revocation.Approvals[0].Ref = revocation.Ref

	report, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{issuance, revocation}})
	require.NoError(t, err)
	assert.Empty(t, report.Violations)
	assert.Equal(t, 2, report.RequestsWritten)

	got, err := s.GetRequest(ctx, revocation.Ref)
	require.NoError(t, err)
	require.Len(t, got.Approvals, 1)
	assert.Equal(t, "0xbb", got.Approvals[0].Verifier)
}

func TestCursorIsMonotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	c, err := s.Cursor(ctx, model.GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.LastSyncedBlock)

	require.NoError(t, s.AdvanceCursor(ctx, model.GlobalScope, 10))
	require.NoError(t, s.AdvanceCursor(ctx, model.GlobalScope, 10))
	assert.ErrorIs(t, s.AdvanceCursor(ctx, model.GlobalScope, 5), model.ErrInvariantViolation)

	c, err = s.Cursor(ctx, model.GlobalScope)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), c.LastSyncedBlock)
	assert.False(t, c.SyncedAt.IsZero())

	cursors, err := s.ListCursors(ctx)
	require.NoError(t, err)
	assert.Len(t, cursors, 1)
}

func TestReplaceUniversity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := pending(1, 7, "0xaa")
	b := executed(pending(2, 7, "0xaa", "0xbb"), "tok-2")
	c := pending(3, 8, "0xaa")
	_, err := s.SaveBatch(ctx, repository.Batch{
		Requests: []model.Request{a, b, c},
		History: []model.ApprovalEvent{
			{At: model.Position{Block: 11}, Ref: a.Ref, Verifier: "0xaa", Action: model.ActionApprove, Counted: true},
		},
	})
	require.NoError(t, err)

	// the rebuilt view has no approval from 0xaa on request 1
	rebuilt := pending(1, 7)
	report, err := s.ReplaceUniversity(ctx, 7, repository.Batch{Requests: []model.Request{rebuilt, pending(4, 8)}})
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)

	list, err := s.ListRequests(ctx, model.RequestFilter{UniversityID: 7})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rebuilt.Ref, list[0].Ref)
	assert.Empty(t, list[0].Approvals)

	got, err := s.GetRequest(ctx, a.Ref)
	require.NoError(t, err)
	assert.Empty(t, got.History)

	_, err = s.GetRequest(ctx, c.Ref)
	assert.NoError(t, err)
	_, err = s.GetRequest(ctx, ref(4))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListRequestsFilters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{
		pending(1, 7, "0xaa"),
		executed(pending(2, 7, "0xaa", "0xbb"), "tok-2"),
		pending(3, 8),
	}})
	require.NoError(t, err)

	list, err := s.ListRequests(ctx, model.RequestFilter{UniversityID: 7, Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(1), list[0].Ref.ID)
	assert.Len(t, list[0].Approvals, 1)

	list, err = s.ListRequests(ctx, model.RequestFilter{UniversityID: 7, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListRequests(ctx, model.RequestFilter{UniversityID: 9})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoadRequestsSkipsUnknown(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveBatch(ctx, repository.Batch{Requests: []model.Request{pending(1, 7, "0xaa")}})
	require.NoError(t, err)

	got, err := s.LoadRequests(ctx, []model.RequestRef{ref(1), ref(2)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Approvals, 1)
}

func TestRoleCache(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetRoleGrant(ctx, 7, "0xaa", model.RoleVerifier)
	assert.ErrorIs(t, err, model.ErrNotFound)

	checked := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutRoleGrant(ctx, model.RoleGrant{UniversityID: 7, Address: "0xaa", Role: model.RoleVerifier, Authorized: true, CheckedAt: checked}))

	g, err := s.GetRoleGrant(ctx, 7, "0xaa", model.RoleVerifier)
	require.NoError(t, err)
	assert.True(t, g.Authorized)
	assert.True(t, checked.Equal(g.CheckedAt))

	require.NoError(t, s.PutRoleGrant(ctx, model.RoleGrant{UniversityID: 7, Address: "0xaa", Role: model.RoleVerifier, Authorized: false, CheckedAt: checked.Add(time.Hour)}))
	g, err = s.GetRoleGrant(ctx, 7, "0xaa", model.RoleVerifier)
	require.NoError(t, err)
	assert.False(t, g.Authorized)

	_, err = s.GetRoleGrant(ctx, 7, "0xaa", model.RoleIssuer)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUniversities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUniversity(ctx, model.University{ID: "uni-a", Name: "A", IsActive: true, RequiredApprovals: 2}))

	chainID := uint64(7)
	require.NoError(t, s.SaveUniversity(ctx, model.University{ID: "uni-a", BlockchainID: &chainID, Name: "A", IsActive: true, RequiredApprovals: 2}))

	u, err := s.GetUniversityByBlockchainID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "uni-a", u.ID)
	assert.True(t, u.IsActive)

	other := uint64(8)
	err = s.SaveUniversity(ctx, model.University{ID: "uni-a", BlockchainID: &other, RequiredApprovals: 2})
	assert.ErrorIs(t, err, model.ErrInvariantViolation)

	err = s.SaveUniversity(ctx, model.University{ID: "uni-b", BlockchainID: &chainID, RequiredApprovals: 1})
	assert.ErrorIs(t, err, model.ErrInvariantViolation)

	err = s.SaveUniversity(ctx, model.University{ID: "uni-c", RequiredApprovals: 0})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = s.GetUniversity(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetUniversityByBlockchainID(ctx, 99)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
