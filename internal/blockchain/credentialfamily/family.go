// Package credentialfamily holds the wire contract of the credential
// transaction family: state addresses, payloads and event types.
package credentialfamily

type Action string

const (
	ActionApprove  Action = "approve"
	ActionWithdraw Action = "withdraw"
	ActionReject   Action = "reject"
)

const (
	FamilyName    string = "credentials"
	FamilyVersion string = "1.0"

	// role grants of an address within a university
	rolePrefix = "role"
	// request state, keyed by kind and id
	requestPrefix = "request"
)

// Event types emitted by the transaction processor.
const (
	EventRequestCreated = "credential/request-created"
	EventApproved       = "credential/approved"
	EventWithdrawn      = "credential/withdrawn"
	EventRejected       = "credential/rejected"
	EventExecuted       = "credential/executed"

	// BlockCommit is emitted by the validator itself for every new block.
	BlockCommit = "sawtooth/block-commit"
)

func EventTypes() []string {
	return []string{EventRequestCreated, EventApproved, EventWithdrawn, EventRejected, EventExecuted}
}

// EventData is the CBOR body of every credential event. Fields that do not
// apply to an event type are left empty.
type EventData struct {
	Kind         string  `cbor:"kind"`
	RequestID    uint64  `cbor:"requestId"`
	UniversityID uint64  `cbor:"universityId"`
	Quorum       int     `cbor:"quorum"`
	Payload      []byte  `cbor:"payload"`
	Verifier     string  `cbor:"verifier"`
	TokenID      *string `cbor:"tokenId"`
}

// RoleData is stored at the role address of (university, account).
type RoleData struct {
	IsVerifier bool `cbor:"isVerifier"`
	IsIssuer   bool `cbor:"isIssuer"`
	IsRevoker  bool `cbor:"isRevoker"`
}

// RequestData is stored at the request address.
type RequestData struct {
	Status    string   `cbor:"status"`
	Quorum    int      `cbor:"quorum"`
	Approvals []string `cbor:"approvals"`
	TokenID   *string  `cbor:"tokenId"`
}

// ActionPayload is the transaction payload of a verifier action.
type ActionPayload struct {
	Action    Action `cbor:"action"`
	Kind      string `cbor:"kind"`
	RequestID uint64 `cbor:"requestId"`
}
