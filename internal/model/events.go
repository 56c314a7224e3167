package model

import "sort"

// Position orders ledger events: block first, then log index within the block.
type Position struct {
	Block    uint64
	LogIndex uint32
}

func (p Position) Less(other Position) bool {
	if p.Block != other.Block {
		return p.Block < other.Block
	}
	return p.LogIndex < other.LogIndex
}

// Event is the closed set of ledger events the projector understands.
// Values are validated when decoded, so consumers never see malformed input.
type Event interface {
	Position() Position
	Request() RequestRef
	isEvent()
}

type RequestCreated struct {
	At           Position
	Ref          RequestRef
	UniversityID uint64
	Quorum       int
	Payload      []byte
}

type Approved struct {
	At       Position
	Ref      RequestRef
	Verifier string
}

type Withdrawn struct {
	At       Position
	Ref      RequestRef
	Verifier string
}

type Rejected struct {
	At  Position
	Ref RequestRef
}

type Executed struct {
	At      Position
	Ref     RequestRef
	TokenID *string
}

func (e RequestCreated) Position() Position { return e.At }
func (e Approved) Position() Position       { return e.At }
func (e Withdrawn) Position() Position      { return e.At }
func (e Rejected) Position() Position       { return e.At }
func (e Executed) Position() Position       { return e.At }

func (e RequestCreated) Request() RequestRef { return e.Ref }
func (e Approved) Request() RequestRef       { return e.Ref }
func (e Withdrawn) Request() RequestRef      { return e.Ref }
func (e Rejected) Request() RequestRef       { return e.Ref }
func (e Executed) Request() RequestRef       { return e.Ref }

func (RequestCreated) isEvent() {}
func (Approved) isEvent()       {}
func (Withdrawn) isEvent()      {}
func (Rejected) isEvent()       {}
func (Executed) isEvent()       {}

// SortEvents orders events by ledger position. The sort is stable so events
// sharing a position keep their delivery order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Position().Less(events[j].Position())
	})
}

// EventName is used in logs and alerts.
func EventName(e Event) string {
	switch e.(type) {
	case RequestCreated:
		return "RequestCreated"
	case Approved:
		return "Approved"
	case Withdrawn:
		return "Withdrawn"
	case Rejected:
		return "Rejected"
	case Executed:
		return "Executed"
	default:
		return "unknown"
	}
}

// EventRange is the reader's answer for the inclusive block range [From, To].
// Malformed holds one error per event that failed validation and was dropped.
type EventRange struct {
	From      uint64
	To        uint64
	Events    []Event
	Malformed []error
}
