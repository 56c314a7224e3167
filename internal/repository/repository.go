// Package repository defines the replica contract shared by the mongodb and
// sqlite stores, plus the write guards both of them enforce.
package repository

import (
	"context"
	"fmt"

	"credential-registry/internal/model"
)

// Batch is one durable unit of projected state.
type Batch struct {
	// Requests carry their full approval set.
	Requests []model.Request
	History  []model.ApprovalEvent
}

// BatchReport describes what a batch write did. Violations are per-request
// rejections; the rest of the batch is still written.
type BatchReport struct {
	RequestsWritten  int
	ApprovalsWritten int
	HistoryWritten   int
	Violations       []error
}

type Store interface {
	Cursor(ctx context.Context, scope string) (model.SyncCursor, error)
	ListCursors(ctx context.Context) ([]model.SyncCursor, error)
	AdvanceCursor(ctx context.Context, scope string, block uint64) error

	LoadRequests(ctx context.Context, refs []model.RequestRef) ([]model.Request, error)
	SaveBatch(ctx context.Context, batch Batch) (BatchReport, error)
	ReplaceUniversity(ctx context.Context, universityID uint64, batch Batch) (BatchReport, error)

	ListRequests(ctx context.Context, filter model.RequestFilter) ([]model.Request, error)
	GetRequest(ctx context.Context, ref model.RequestRef) (model.Request, error)

	GetRoleGrant(ctx context.Context, universityID uint64, address string, role model.Role) (model.RoleGrant, error)
	PutRoleGrant(ctx context.Context, grant model.RoleGrant) error

	SaveUniversity(ctx context.Context, university model.University) error
	GetUniversity(ctx context.Context, id string) (model.University, error)
	GetUniversityByBlockchainID(ctx context.Context, blockchainID uint64) (model.University, error)

	Close(ctx context.Context) error
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{model.ErrInvariantViolation}, args...)...)
}

// CheckRequestWrite validates replacing the stored row (nil when absent) with next.
func CheckRequestWrite(stored *model.Request, next model.Request) error {
	if !next.Ref.Kind.IsValid() || !next.Status.IsValid() || next.Quorum < 1 {
		return violation("request %s has kind %q, status %q, quorum %d", next.Ref, next.Ref.Kind, next.Status, next.Quorum)
	}
	if next.ExecutedTokenID != nil && (next.Status != model.StatusExecuted || next.Ref.Kind != model.KindIssuance) {
		return violation("request %s has a token but is %s %s", next.Ref, next.Status, next.Ref.Kind)
	}
	if stored == nil {
		return nil
	}

	if stored.UniversityID != next.UniversityID || stored.Quorum != next.Quorum || stored.CreatedAtBlock != next.CreatedAtBlock {
		return violation("request %s creation data changed", next.Ref)
	}
	if !stored.Status.IsTerminal() {
		return nil
	}
	if stored.Status != next.Status {
		return violation("request %s cannot move from %s to %s", next.Ref, stored.Status, next.Status)
	}
	if stored.ExecutedTokenID != nil && (next.ExecutedTokenID == nil || *stored.ExecutedTokenID != *next.ExecutedTokenID) {
		return violation("request %s executed token is already set", next.Ref)
	}
	return nil
}

// CheckApprovalWrite validates an approval write given the request status
// before the batch. Closed requests keep their approvals as they were.
func CheckApprovalWrite(status model.RequestStatus, stored *model.Approval, next model.Approval) error {
	if next.Verifier == "" {
		return violation("approval for %s without verifier", next.Ref)
	}
	if !status.IsTerminal() {
		return nil
	}
	if stored == nil || stored.Active != next.Active {
		return violation("approval of %s on %s request %s cannot change", next.Verifier, status, next.Ref)
	}
	return nil
}

// CheckCursorAdvance keeps cursors monotonic.
func CheckCursorAdvance(current model.SyncCursor, block uint64) error {
	if block < current.LastSyncedBlock {
		return violation("cursor %s cannot move back from %d to %d", current.Scope, current.LastSyncedBlock, block)
	}
	return nil
}

// CheckUniversityWrite keeps the ledger id of a university assigned once.
func CheckUniversityWrite(stored *model.University, next model.University) error {
	if next.ID == "" || next.RequiredApprovals < 1 {
		return fmt.Errorf("%w: university %q needs an id and a positive quorum", model.ErrInvalidArgument, next.ID)
	}
	if stored == nil || stored.BlockchainID == nil {
		return nil
	}
	if next.BlockchainID == nil || *next.BlockchainID != *stored.BlockchainID {
		return violation("university %s blockchain id is already assigned", next.ID)
	}
	return nil
}

// UniversityIndex maps the requests of a batch to their universities, used to
// tag history rows.
func UniversityIndex(requests []model.Request) map[model.RequestRef]uint64 {
	idx := make(map[model.RequestRef]uint64, len(requests))
	for _, r := range requests {
		idx[r.Ref] = r.UniversityID
	}
	return idx
}
