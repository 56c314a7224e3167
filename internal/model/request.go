package model

import (
	"fmt"
	"strconv"
	"strings"
)

type RequestKind string

const (
	KindIssuance   RequestKind = "issuance"
	KindRevocation RequestKind = "revocation"
)

func (k RequestKind) IsValid() bool {
	return k == KindIssuance || k == KindRevocation
}

func (k RequestKind) String() string {
	return string(k)
}

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusExecuted RequestStatus = "executed"
	StatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) IsValid() bool {
	return s == StatusPending || s == StatusExecuted || s == StatusRejected
}

func (s RequestStatus) IsTerminal() bool {
	return s == StatusExecuted || s == StatusRejected
}

func (s RequestStatus) String() string {
	return string(s)
}

// RequestRef identifies a request. Ledger request ids are only unique per kind.
type RequestRef struct {
	Kind RequestKind
	ID   uint64
}

func (r RequestRef) String() string {
	return string(r.Kind) + ":" + strconv.FormatUint(r.ID, 10)
}

func ParseRequestRef(kind, id string) (RequestRef, error) {
	k := RequestKind(strings.ToLower(strings.TrimSpace(kind)))
	if !k.IsValid() {
		return RequestRef{}, fmt.Errorf("%w: request kind %q", ErrInvalidArgument, kind)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return RequestRef{}, fmt.Errorf("%w: request id %q", ErrInvalidArgument, id)
	}
	return RequestRef{Kind: k, ID: n}, nil
}

type Request struct {
	Ref            RequestRef
	UniversityID   uint64
	SubjectPayload []byte
	Status         RequestStatus
	Quorum         int
	CreatedAtBlock uint64
	// ClosedAtBlock is the block of the Executed or Rejected event, 0 while pending.
	ClosedAtBlock   uint64
	ExecutedTokenID *string

	Approvals []Approval
	History   []ApprovalEvent
}

func (r Request) ActiveApprovals() int {
	n := 0
	for _, a := range r.Approvals {
		if a.Active {
			n++
		}
	}
	return n
}

func (r Request) ApprovalProgress() float64 {
	if r.Quorum <= 0 {
		return 0
	}
	return float64(r.ActiveApprovals()) / float64(r.Quorum)
}

// SameOutcome reports whether two rows agree on every field the ledger fixes
// once: creation data, status and executed token.
func (r Request) SameOutcome(other Request) bool {
	return r.Ref == other.Ref &&
		r.UniversityID == other.UniversityID &&
		r.Quorum == other.Quorum &&
		r.Status == other.Status &&
		sameToken(r.ExecutedTokenID, other.ExecutedTokenID)
}

func sameToken(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type Approval struct {
	Ref      RequestRef
	Verifier string
	Active   bool
	AtBlock  uint64
}

type ApprovalAction string

const (
	ActionApprove  ApprovalAction = "approve"
	ActionWithdraw ApprovalAction = "withdraw"
	ActionReject   ApprovalAction = "reject"
)

func (a ApprovalAction) IsValid() bool {
	return a == ActionApprove || a == ActionWithdraw || a == ActionReject
}

// ApprovalEvent is one Approved or Withdrawn event as seen on the ledger.
// Counted is false for audit rows that changed no approval: events after the
// request was closed and repeats of the current approval state.
type ApprovalEvent struct {
	At       Position
	Ref      RequestRef
	Verifier string
	Action   ApprovalAction
	Counted  bool
}

type RequestFilter struct {
	UniversityID uint64
	Status       RequestStatus
	Kind         RequestKind
	Offset       int
	Limit        int
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

func (f RequestFilter) Normalized() RequestFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// RequestSnapshot is the ledger's own view of a request, used for spot checks.
type RequestSnapshot struct {
	Ref       RequestRef
	Status    RequestStatus
	Quorum    int
	Approvals []string
	TokenID   *string
}
