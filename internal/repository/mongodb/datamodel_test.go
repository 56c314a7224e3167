package mongodb

import (
	"testing"

	"credential-registry/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestStoredRequestRoundTrip(t *testing.T) {
	token := "tok-9"
	req := model.Request{
		Ref:             model.RequestRef{Kind: model.KindIssuance, ID: 9},
		UniversityID:    3,
		SubjectPayload:  []byte{1, 2},
		Status:          model.StatusExecuted,
		Quorum:          2,
		CreatedAtBlock:  100,
		ClosedAtBlock:   120,
		ExecutedTokenID: &token,
	}

	stored := toStoredRequest(req)
	assert.Equal(t, "issuance:9", stored.ID)
	assert.Equal(t, req, stored.toModel())
}

func TestCompositeKeys(t *testing.T) {
	ref := model.RequestRef{Kind: model.KindRevocation, ID: 4}
	assert.Equal(t, "revocation:4:0xab", approvalID(ref, "0xab"))
	assert.Equal(t, "12:3", historyID(model.Position{Block: 12, LogIndex: 3}))
	assert.Equal(t, "7:0xab:verifier", roleGrantID(7, "0xab", model.RoleVerifier))

	a := toStoredApproval(model.Approval{Ref: ref, Verifier: "0xab", Active: true, AtBlock: 5}, 7)
	assert.Equal(t, int64(7), a.UniversityID)
	assert.Equal(t, model.Approval{Ref: ref, Verifier: "0xab", Active: true, AtBlock: 5}, a.toModel())
}

func TestStoredUniversityKeepsMissingChainID(t *testing.T) {
	u := model.University{ID: "uni-a", Name: "A", RequiredApprovals: 2}
	stored := toStoredUniversity(u)
	assert.Nil(t, stored.BlockchainID)
	assert.Equal(t, u, stored.toModel())

	id := uint64(5)
	u.BlockchainID = &id
	assert.Equal(t, u, toStoredUniversity(u).toModel())
}
