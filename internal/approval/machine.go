// Package approval holds the request lifecycle rules. Everything here is pure:
// no I/O, no clocks, inputs are never mutated.
package approval

import (
	"bytes"
	"fmt"
	"sort"

	"credential-registry/internal/model"
)

// State is the projector's view of one request.
type State struct {
	Request   model.Request
	Approvals map[string]model.Approval
}

// NewState builds a state from a stored request row and its approvals.
func NewState(req model.Request) State {
	s := State{Request: req, Approvals: make(map[string]model.Approval, len(req.Approvals))}
	for _, a := range req.Approvals {
		s.Approvals[a.Verifier] = a
	}
	s.Request.Approvals = nil
	s.Request.History = nil
	return s
}

func (s State) clone() State {
	c := State{Request: s.Request, Approvals: make(map[string]model.Approval, len(s.Approvals))}
	for k, v := range s.Approvals {
		c.Approvals[k] = v
	}
	if s.Request.ExecutedTokenID != nil {
		tok := *s.Request.ExecutedTokenID
		c.Request.ExecutedTokenID = &tok
	}
	return c
}

func (s State) ActiveCount() int {
	n := 0
	for _, a := range s.Approvals {
		if a.Active {
			n++
		}
	}
	return n
}

// ToRequest returns the request row with approvals sorted by verifier.
func (s State) ToRequest() model.Request {
	req := s.Request
	req.Approvals = make([]model.Approval, 0, len(s.Approvals))
	for _, a := range s.Approvals {
		req.Approvals = append(req.Approvals, a)
	}
	sort.Slice(req.Approvals, func(i, j int) bool {
		return req.Approvals[i].Verifier < req.Approvals[j].Verifier
	})
	return req
}

type EffectKind string

const (
	EffectCreated         EffectKind = "created"
	EffectApprovalChanged EffectKind = "approval_changed"
	// EffectQuorumReached is advisory: the ledger executes on its own and the
	// projector only learns about it from an Executed event.
	EffectQuorumReached EffectKind = "quorum_reached"
	EffectExecuted      EffectKind = "executed"
	EffectRejected      EffectKind = "rejected"
	// EffectLateEvent marks an approval event for a closed request. It is kept
	// as audit history and does not change the request.
	EffectLateEvent EffectKind = "late_event"
)

type Effect struct {
	Kind     EffectKind
	Ref      model.RequestRef
	At       model.Position
	Verifier string
}

// Apply computes the next state of a request for one ledger event.
// cur is nil when the request is not known yet. On error the returned state
// equals *cur (or the zero State) and no effects are produced.
func Apply(cur *State, ev model.Event) (State, []Effect, error) {
	if cur == nil {
		created, ok := ev.(model.RequestCreated)
		if !ok {
			return State{}, nil, fmt.Errorf("%w: %s for %s", model.ErrUnknownRequest, model.EventName(ev), ev.Request())
		}
		return create(created)
	}

	if cur.Request.Ref != ev.Request() {
		return *cur, nil, fmt.Errorf("%w: %s for %s applied to %s", model.ErrInvariantViolation, model.EventName(ev), ev.Request(), cur.Request.Ref)
	}

	switch e := ev.(type) {
	case model.RequestCreated:
		return recreate(*cur, e)
	case model.Approved:
		return approve(*cur, e)
	case model.Withdrawn:
		return withdraw(*cur, e)
	case model.Rejected:
		return reject(*cur, e)
	case model.Executed:
		return execute(*cur, e)
	}

	return *cur, nil, fmt.Errorf("%w: unsupported event %T", model.ErrMalformedEvent, ev)
}

func create(e model.RequestCreated) (State, []Effect, error) {
	if !e.Ref.Kind.IsValid() || e.Quorum < 1 {
		return State{}, nil, fmt.Errorf("%w: RequestCreated %s with quorum %d", model.ErrMalformedEvent, e.Ref, e.Quorum)
	}

	s := State{
		Request: model.Request{
			Ref:            e.Ref,
			UniversityID:   e.UniversityID,
			SubjectPayload: append([]byte(nil), e.Payload...),
			Status:         model.StatusPending,
			Quorum:         e.Quorum,
			CreatedAtBlock: e.At.Block,
		},
		Approvals: map[string]model.Approval{},
	}
	return s, []Effect{{Kind: EffectCreated, Ref: e.Ref, At: e.At}}, nil
}

// recreate accepts a replayed RequestCreated as long as it states the same facts.
func recreate(cur State, e model.RequestCreated) (State, []Effect, error) {
	r := cur.Request
	if r.UniversityID == e.UniversityID && r.Quorum == e.Quorum && r.CreatedAtBlock == e.At.Block && bytes.Equal(r.SubjectPayload, e.Payload) {
		return cur, nil, nil
	}
	return cur, nil, fmt.Errorf("%w: conflicting RequestCreated for %s at block %d", model.ErrInvariantViolation, e.Ref, e.At.Block)
}

func approve(cur State, e model.Approved) (State, []Effect, error) {
	if cur.Request.Status.IsTerminal() {
		return cur, []Effect{{Kind: EffectLateEvent, Ref: e.Ref, At: e.At, Verifier: e.Verifier}}, nil
	}
	if a, ok := cur.Approvals[e.Verifier]; ok && a.Active {
		return cur, nil, nil
	}

	next := cur.clone()
	before := next.ActiveCount()
	next.Approvals[e.Verifier] = model.Approval{Ref: e.Ref, Verifier: e.Verifier, Active: true, AtBlock: e.At.Block}

	effects := []Effect{{Kind: EffectApprovalChanged, Ref: e.Ref, At: e.At, Verifier: e.Verifier}}
	if before < next.Request.Quorum && next.ActiveCount() >= next.Request.Quorum {
		effects = append(effects, Effect{Kind: EffectQuorumReached, Ref: e.Ref, At: e.At})
	}
	return next, effects, nil
}

func withdraw(cur State, e model.Withdrawn) (State, []Effect, error) {
	if cur.Request.Status.IsTerminal() {
		return cur, []Effect{{Kind: EffectLateEvent, Ref: e.Ref, At: e.At, Verifier: e.Verifier}}, nil
	}
	a, ok := cur.Approvals[e.Verifier]
	if !ok || !a.Active {
		return cur, nil, nil
	}

	next := cur.clone()
	a.Active = false
	a.AtBlock = e.At.Block
	next.Approvals[e.Verifier] = a
	return next, []Effect{{Kind: EffectApprovalChanged, Ref: e.Ref, At: e.At, Verifier: e.Verifier}}, nil
}

func reject(cur State, e model.Rejected) (State, []Effect, error) {
	switch cur.Request.Status {
	case model.StatusRejected:
		return cur, nil, nil
	case model.StatusExecuted:
		return cur, nil, fmt.Errorf("%w: Rejected for executed request %s", model.ErrInvariantViolation, e.Ref)
	}

	next := cur.clone()
	next.Request.Status = model.StatusRejected
	next.Request.ClosedAtBlock = e.At.Block
	return next, []Effect{{Kind: EffectRejected, Ref: e.Ref, At: e.At}}, nil
}

func execute(cur State, e model.Executed) (State, []Effect, error) {
	// revocations never carry a minted token
	token := e.TokenID
	if cur.Request.Ref.Kind != model.KindIssuance {
		token = nil
	}

	switch cur.Request.Status {
	case model.StatusRejected:
		return cur, nil, fmt.Errorf("%w: Executed for rejected request %s", model.ErrInvariantViolation, e.Ref)
	case model.StatusExecuted:
		stored := cur.Request.ExecutedTokenID
		switch {
		case token == nil || (stored != nil && *stored == *token):
			return cur, nil, nil
		case stored == nil:
			next := cur.clone()
			tok := *token
			next.Request.ExecutedTokenID = &tok
			return next, nil, nil
		default:
			return cur, nil, fmt.Errorf("%w: Executed for %s with token %s, already executed with token %s", model.ErrInvariantViolation, e.Ref, *token, *stored)
		}
	}

	next := cur.clone()
	next.Request.Status = model.StatusExecuted
	next.Request.ClosedAtBlock = e.At.Block
	if token != nil {
		tok := *token
		next.Request.ExecutedTokenID = &tok
	}
	return next, []Effect{{Kind: EffectExecuted, Ref: e.Ref, At: e.At}}, nil
}
