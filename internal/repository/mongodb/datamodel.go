package mongodb

import (
	"fmt"
	"time"

	"credential-registry/internal/model"
)

// Ledger numbers are stored as int64, the widest integer bson has.

type storedRequest struct {
	ID              string  `bson:"_id"`
	Kind            string  `bson:"kind"`
	RequestID       int64   `bson:"request_id"`
	UniversityID    int64   `bson:"university_id"`
	SubjectPayload  []byte  `bson:"subject_payload"`
	Status          string  `bson:"status"`
	Quorum          int     `bson:"quorum"`
	CreatedAtBlock  int64   `bson:"created_at_block"`
	ClosedAtBlock   int64   `bson:"closed_at_block"`
	ExecutedTokenID *string `bson:"executed_token_id,omitempty"`
}

func toStoredRequest(r model.Request) storedRequest {
	return storedRequest{
		ID:              r.Ref.String(),
		Kind:            string(r.Ref.Kind),
		RequestID:       int64(r.Ref.ID),
		UniversityID:    int64(r.UniversityID),
		SubjectPayload:  r.SubjectPayload,
		Status:          string(r.Status),
		Quorum:          r.Quorum,
		CreatedAtBlock:  int64(r.CreatedAtBlock),
		ClosedAtBlock:   int64(r.ClosedAtBlock),
		ExecutedTokenID: r.ExecutedTokenID,
	}
}

func (s storedRequest) toModel() model.Request {
	return model.Request{
		Ref:             model.RequestRef{Kind: model.RequestKind(s.Kind), ID: uint64(s.RequestID)},
		UniversityID:    uint64(s.UniversityID),
		SubjectPayload:  s.SubjectPayload,
		Status:          model.RequestStatus(s.Status),
		Quorum:          s.Quorum,
		CreatedAtBlock:  uint64(s.CreatedAtBlock),
		ClosedAtBlock:   uint64(s.ClosedAtBlock),
		ExecutedTokenID: s.ExecutedTokenID,
	}
}

type storedApproval struct {
	ID           string `bson:"_id"`
	Kind         string `bson:"kind"`
	RequestID    int64  `bson:"request_id"`
	Verifier     string `bson:"verifier"`
	UniversityID int64  `bson:"university_id"`
	Active       bool   `bson:"active"`
	AtBlock      int64  `bson:"at_block"`
}

// approvalID is the composite key (kind, request, verifier) that makes a
// second approval from the same verifier an update, never a new row.
func approvalID(ref model.RequestRef, verifier string) string {
	return ref.String() + ":" + verifier
}

func toStoredApproval(a model.Approval, universityID uint64) storedApproval {
	return storedApproval{
		ID:           approvalID(a.Ref, a.Verifier),
		Kind:         string(a.Ref.Kind),
		RequestID:    int64(a.Ref.ID),
		Verifier:     a.Verifier,
		UniversityID: int64(universityID),
		Active:       a.Active,
		AtBlock:      int64(a.AtBlock),
	}
}

func (s storedApproval) toModel() model.Approval {
	return model.Approval{
		Ref:      model.RequestRef{Kind: model.RequestKind(s.Kind), ID: uint64(s.RequestID)},
		Verifier: s.Verifier,
		Active:   s.Active,
		AtBlock:  uint64(s.AtBlock),
	}
}

type storedHistory struct {
	ID           string `bson:"_id,omitempty"`
	Block        int64  `bson:"block"`
	LogIndex     int64  `bson:"log_index"`
	Kind         string `bson:"kind"`
	RequestID    int64  `bson:"request_id"`
	Verifier     string `bson:"verifier"`
	UniversityID int64  `bson:"university_id"`
	Action       string `bson:"action"`
	Counted      bool   `bson:"counted"`
}

func historyID(at model.Position) string {
	return fmt.Sprintf("%d:%d", at.Block, at.LogIndex)
}

func toStoredHistory(e model.ApprovalEvent, universityID uint64) storedHistory {
	return storedHistory{
		ID:           historyID(e.At),
		Block:        int64(e.At.Block),
		LogIndex:     int64(e.At.LogIndex),
		Kind:         string(e.Ref.Kind),
		RequestID:    int64(e.Ref.ID),
		Verifier:     e.Verifier,
		UniversityID: int64(universityID),
		Action:       string(e.Action),
		Counted:      e.Counted,
	}
}

func (s storedHistory) toModel() model.ApprovalEvent {
	return model.ApprovalEvent{
		At:       model.Position{Block: uint64(s.Block), LogIndex: uint32(s.LogIndex)},
		Ref:      model.RequestRef{Kind: model.RequestKind(s.Kind), ID: uint64(s.RequestID)},
		Verifier: s.Verifier,
		Action:   model.ApprovalAction(s.Action),
		Counted:  s.Counted,
	}
}

type storedCursor struct {
	Scope           string    `bson:"_id"`
	LastSyncedBlock int64     `bson:"last_synced_block"`
	SyncedAt        time.Time `bson:"synced_at"`
}

type storedRoleGrant struct {
	ID           string    `bson:"_id"`
	UniversityID int64     `bson:"university_id"`
	Address      string    `bson:"address"`
	Role         string    `bson:"role"`
	Authorized   bool      `bson:"authorized"`
	CheckedAt    time.Time `bson:"checked_at"`
}

func roleGrantID(universityID uint64, address string, role model.Role) string {
	return fmt.Sprintf("%d:%s:%s", universityID, address, role)
}

type storedUniversity struct {
	ID                string `bson:"_id"`
	BlockchainID      *int64 `bson:"blockchain_id,omitempty"`
	Name              string `bson:"name"`
	IsActive          bool   `bson:"is_active"`
	RequiredApprovals int    `bson:"required_approvals"`
}

func toStoredUniversity(u model.University) storedUniversity {
	s := storedUniversity{
		ID:                u.ID,
		Name:              u.Name,
		IsActive:          u.IsActive,
		RequiredApprovals: u.RequiredApprovals,
	}
	if u.BlockchainID != nil {
		id := int64(*u.BlockchainID)
		s.BlockchainID = &id
	}
	return s
}

func (s storedUniversity) toModel() model.University {
	u := model.University{
		ID:                s.ID,
		Name:              s.Name,
		IsActive:          s.IsActive,
		RequiredApprovals: s.RequiredApprovals,
	}
	if s.BlockchainID != nil {
		id := uint64(*s.BlockchainID)
		u.BlockchainID = &id
	}
	return u
}
