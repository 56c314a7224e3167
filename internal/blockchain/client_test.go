package blockchain

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"credential-registry/internal/blockchain/credentialfamily"
	"credential-registry/internal/model"
	"credential-registry/internal/signkeys"

	"github.com/fxamacker/cbor"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/events_pb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// generator point of secp256k1, a valid compressed public key
const testVerifier = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

const testHead = 20

type fakeLedger struct {
	mu         sync.Mutex
	state      map[string][]byte
	failState  bool
	blockCalls int
	batches    int
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/blocks":
		f.blockCalls++
		start := uint64(testHead)
		if s := r.URL.Query().Get("start"); s != "" {
			n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			start = n
		}
		if start > testHead {
			start = testHead
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var items []string
		for n := int64(start); n >= 0 && len(items) < limit; n-- {
			items = append(items, fmt.Sprintf(`{"header": {"block_num": "%d"}, "header_signature": "block-%d"}`, n, n))
		}
		fmt.Fprintf(w, `{"data": [%s]}`, strings.Join(items, ", "))

	case strings.HasPrefix(r.URL.Path, "/state/"):
		if f.failState {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		data, ok := f.state[strings.TrimPrefix(r.URL.Path, "/state/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"data": "%s", "head": "block-%d"}`, base64.StdEncoding.EncodeToString(data), testHead)

	case r.URL.Path == "/batches" && r.Method == http.MethodPost:
		f.batches++
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"link": "http://localhost/batch_statuses?id=x"}`)

	case r.URL.Path == "/batch_statuses":
		fmt.Fprintf(w, `{"data": [{"id": "%s", "status": "COMMITTED", "invalid_transactions": []}]}`, r.URL.Query().Get("id"))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type fakeEvents map[string][]*events_pb2.Event

func (f fakeEvents) BlockEvents(_ context.Context, blockID string) ([]*events_pb2.Event, error) {
	return f[blockID], nil
}

func createTestClient(t *testing.T, ledger *fakeLedger) *Client {
	t.Helper()
	srv := httptest.NewServer(ledger)
	t.Cleanup(srv.Close)
	return NewClient(zap.NewNop(), srv.URL, "localhost:4004", time.Second)
}

func mustCbor(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := cbor.Marshal(v, cbor.CanonicalEncOptions())
	require.NoError(t, err)
	return data
}

func TestHeadBlock(t *testing.T) {
	c := createTestClient(t, &fakeLedger{})
	head, err := c.HeadBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(testHead), head)
}

func TestBlockRangeIsCached(t *testing.T) {
	ledger := &fakeLedger{}
	c := createTestClient(t, ledger)
	ctx := context.Background()
	_, err := c.HeadBlock(ctx)
	require.NoError(t, err)

	blocks, err := c.blockRange(ctx, 3, 6)
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	assert.Equal(t, blockRef{Num: 3, ID: "block-3"}, blocks[0])
	assert.Equal(t, blockRef{Num: 6, ID: "block-6"}, blocks[3])

	calls := ledger.blockCalls
	_, err = c.blockRange(ctx, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, calls, ledger.blockCalls)
}

func TestBlocksNearHeadAreNotCached(t *testing.T) {
	ledger := &fakeLedger{}
	c := createTestClient(t, ledger)
	ctx := context.Background()
	_, err := c.HeadBlock(ctx)
	require.NoError(t, err)

	_, err = c.blockRange(ctx, testHead-defaultFinality, testHead)
	require.NoError(t, err)
	calls := ledger.blockCalls

	// the finalized block is served from the cache, the rest is asked again
	_, err = c.blockRange(ctx, testHead-defaultFinality, testHead-defaultFinality)
	require.NoError(t, err)
	assert.Equal(t, calls, ledger.blockCalls)

	_, err = c.blockRange(ctx, testHead-1, testHead)
	require.NoError(t, err)
	assert.Equal(t, calls+1, ledger.blockCalls)
}

func TestNoBlockIsCachedBeforeHeadIsKnown(t *testing.T) {
	ledger := &fakeLedger{}
	c := createTestClient(t, ledger)
	ctx := context.Background()

	_, err := c.blockRange(ctx, 3, 4)
	require.NoError(t, err)
	_, err = c.blockRange(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.blockCalls)
}

func TestHeadMovingBackFlushesBlockIDs(t *testing.T) {
	c := createTestClient(t, &fakeLedger{})
	c.head.Store(testHead + 10)
	c.blockIDs.Set("25", "stale-25", 0)

	head, err := c.HeadBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(testHead), head)
	_, ok := c.blockIDs.Get("25")
	assert.False(t, ok)
}

func TestBlockRangeBeyondHead(t *testing.T) {
	c := createTestClient(t, &fakeLedger{})
	_, err := c.blockRange(context.Background(), testHead, testHead+2)
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)
}

func TestFetchEvents(t *testing.T) {
	c := createTestClient(t, &fakeLedger{})
	ref := model.RequestRef{Kind: model.KindIssuance, ID: 1}
	c.events = fakeEvents{
		"block-4": {
			{EventType: credentialfamily.EventRequestCreated, Data: mustCbor(t, credentialfamily.EventData{Kind: "issuance", RequestID: 1, UniversityID: 7, Quorum: 2, Payload: []byte("p")})},
			{EventType: credentialfamily.EventApproved, Data: []byte{0xff}},
		},
		"block-5": {
			{EventType: credentialfamily.EventApproved, Data: mustCbor(t, credentialfamily.EventData{Kind: "issuance", RequestID: 1, Verifier: testVerifier})},
		},
	}

	out, err := c.FetchEvents(context.Background(), 4, 5)
	require.NoError(t, err)
	require.Len(t, out.Events, 2)
	require.Len(t, out.Malformed, 1)
	assert.ErrorIs(t, out.Malformed[0], model.ErrMalformedEvent)

	assert.Equal(t, model.RequestCreated{At: model.Position{Block: 4}, Ref: ref, UniversityID: 7, Quorum: 2, Payload: []byte("p")}, out.Events[0])
	assert.Equal(t, model.Approved{At: model.Position{Block: 5}, Ref: ref, Verifier: testVerifier}, out.Events[1])

	empty, err := c.FetchEvents(context.Background(), 6, 5)
	require.NoError(t, err)
	assert.Empty(t, empty.Events)
}

func TestCheckRole(t *testing.T) {
	ledger := &fakeLedger{state: map[string][]byte{}}
	c := createTestClient(t, ledger)
	ctx := context.Background()

	roles, err := c.CheckRole(ctx, 7, testVerifier)
	require.NoError(t, err)
	assert.Equal(t, model.RoleSet{}, roles)

	ledger.state[credentialfamily.GetRoleAddress(7, testVerifier)] = mustCbor(t, credentialfamily.RoleData{IsVerifier: true})
	roles, err = c.CheckRole(ctx, 7, "0x"+strings.ToUpper(testVerifier))
	require.NoError(t, err)
	assert.True(t, roles.Has(model.RoleVerifier))
	assert.False(t, roles.Has(model.RoleIssuer))

	ledger.failState = true
	_, err = c.CheckRole(ctx, 7, testVerifier)
	assert.ErrorIs(t, err, model.ErrLedgerUnavailable)

	_, err = c.CheckRole(ctx, 7, "not-an-address")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestGetRequestSnapshot(t *testing.T) {
	ledger := &fakeLedger{state: map[string][]byte{}}
	c := createTestClient(t, ledger)
	ctx := context.Background()
	ref := model.RequestRef{Kind: model.KindIssuance, ID: 3}

	_, err := c.GetRequest(ctx, ref)
	assert.ErrorIs(t, err, model.ErrNotFound)

	token := "tok-3"
	ledger.state[credentialfamily.GetRequestAddress(ref)] = mustCbor(t, credentialfamily.RequestData{
		Status:    "executed",
		Quorum:    1,
		Approvals: []string{testVerifier},
		TokenID:   &token,
	})
	snapshot, err := c.GetRequest(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, snapshot.Status)
	assert.Equal(t, []string{testVerifier}, snapshot.Approvals)
	require.NotNil(t, snapshot.TokenID)
	assert.Equal(t, token, *snapshot.TokenID)
}

func TestSubmitAction(t *testing.T) {
	ledger := &fakeLedger{}
	c := createTestClient(t, ledger)

	keys, err := signkeys.GenerateKeys()
	require.NoError(t, err)

	ref := model.RequestRef{Kind: model.KindRevocation, ID: 2}
	batchID, status, err := c.SubmitAction(context.Background(), 7, ref, credentialfamily.ActionApprove, keys.GetSigner(), 2*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, batchID)
	assert.Equal(t, BatchCommitted, status)
	assert.Equal(t, 1, ledger.batches)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, classify(ctx, statusError{code: 404, status: "404 Not Found"}), model.ErrNotFound)
	assert.ErrorIs(t, classify(ctx, statusError{code: 429, status: "429"}), model.ErrLedgerUnavailable)
	assert.ErrorIs(t, classify(ctx, statusError{code: 502, status: "502"}), model.ErrLedgerUnavailable)
	assert.NotErrorIs(t, classify(ctx, statusError{code: 400, status: "400"}), model.ErrLedgerUnavailable)
	assert.ErrorIs(t, classify(ctx, context.DeadlineExceeded), model.ErrLedgerUnavailable)
}
