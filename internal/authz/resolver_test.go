package authz

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"credential-registry/internal/model"
	"credential-registry/internal/repository/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// compressed public key of the secp256k1 generator point
const account = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

type fakeLedger struct {
	roles map[uint64]model.RoleSet
	err   error
	calls int
}

func (f *fakeLedger) CheckRole(_ context.Context, universityID uint64, _ string) (model.RoleSet, error) {
	f.calls++
	if f.err != nil {
		return model.RoleSet{}, f.err
	}
	return f.roles[universityID], nil
}

var errRPC = fmt.Errorf("%w: connection refused", model.ErrLedgerUnavailable)

func createTestResolver(t *testing.T, ledger Ledger) (*Resolver, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	r := NewResolver(zap.NewNop(), ledger, store, Config{MaxAge: time.Hour, Retries: 2, Backoff: time.Millisecond})
	return r, store
}

func TestLiveAnswerIsCached(t *testing.T) {
	ledger := &fakeLedger{roles: map[uint64]model.RoleSet{3: {IsVerifier: true}}}
	r, store := createTestResolver(t, ledger)
	ctx := context.Background()

	d := r.IsAuthorized(ctx, 3, account, model.RoleVerifier)
	assert.Equal(t, model.DecisionAuthorized, d.Decision)
	assert.Equal(t, model.SourceLedger, d.Source)

	d = r.IsAuthorized(ctx, 3, account, model.RoleIssuer)
	assert.Equal(t, model.DecisionUnauthorized, d.Decision)
	assert.Equal(t, model.SourceLedger, d.Source)

	grant, err := store.GetRoleGrant(ctx, 3, account, model.RoleVerifier)
	require.NoError(t, err)
	assert.True(t, grant.Authorized)
}

func TestTransientFailureNeverDowngrades(t *testing.T) {
	ledger := &fakeLedger{roles: map[uint64]model.RoleSet{3: {IsVerifier: true}}}
	r, _ := createTestResolver(t, ledger)
	ctx := context.Background()

	require.True(t, r.IsAuthorized(ctx, 3, account, model.RoleVerifier).Authorized())

	ledger.err = errRPC
	ledger.calls = 0
	d := r.IsAuthorized(ctx, 3, account, model.RoleVerifier)
	assert.Equal(t, model.DecisionAuthorized, d.Decision)
	assert.Equal(t, model.SourceCache, d.Source)
	assert.Equal(t, 3, ledger.calls)

	// an explicit negative answer from the ledger does revoke
	ledger.err = nil
	ledger.roles[3] = model.RoleSet{}
	d = r.IsAuthorized(ctx, 3, account, model.RoleVerifier)
	assert.Equal(t, model.DecisionUnauthorized, d.Decision)
	assert.Equal(t, model.SourceLedger, d.Source)

	ledger.err = errRPC
	d = r.IsAuthorized(ctx, 3, account, model.RoleVerifier)
	assert.Equal(t, model.DecisionUnauthorized, d.Decision)
	assert.Equal(t, model.SourceCache, d.Source)
}

func TestNoCacheIsUnknown(t *testing.T) {
	r, _ := createTestResolver(t, &fakeLedger{err: errRPC})

	d := r.IsAuthorized(context.Background(), 3, account, model.RoleVerifier)
	assert.Equal(t, model.DecisionUnknown, d.Decision)
	assert.Equal(t, model.SourceNone, d.Source)
}

func TestStaleCacheIsUnknown(t *testing.T) {
	ledger := &fakeLedger{roles: map[uint64]model.RoleSet{3: {IsVerifier: true}}}
	r, _ := createTestResolver(t, ledger)
	ctx := context.Background()

	require.True(t, r.IsAuthorized(ctx, 3, account, model.RoleVerifier).Authorized())

	ledger.err = errRPC
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	d := r.IsAuthorized(ctx, 3, account, model.RoleVerifier)
	assert.Equal(t, model.DecisionUnknown, d.Decision)
	assert.Equal(t, model.SourceCache, d.Source)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("bad role data")}
	r, _ := createTestResolver(t, ledger)

	d := r.IsAuthorized(context.Background(), 3, account, model.RoleVerifier)
	assert.Equal(t, model.DecisionUnknown, d.Decision)
	assert.Equal(t, 1, ledger.calls)
}

func TestInvalidAddress(t *testing.T) {
	ledger := &fakeLedger{}
	r, _ := createTestResolver(t, ledger)

	d := r.IsAuthorized(context.Background(), 3, "not-a-key", model.RoleVerifier)
	assert.Equal(t, model.DecisionUnauthorized, d.Decision)
	assert.Equal(t, 0, ledger.calls)
}
