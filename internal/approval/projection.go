package approval

import (
	"errors"
	"sort"

	"credential-registry/internal/model"
)

// Issue is an event the projection could not apply.
type Issue struct {
	Event model.Event
	Err   error
}

func (i Issue) IsViolation() bool {
	return errors.Is(i.Err, model.ErrInvariantViolation)
}

// Outcome is everything one batch of events produced.
type Outcome struct {
	// Requests holds the final state of every request touched by the batch,
	// approvals included.
	Requests []model.Request
	History  []model.ApprovalEvent
	Effects  []Effect
	Issues   []Issue
	// Orphans are events whose RequestCreated never showed up in the batch
	// or in the loaded states.
	Orphans []model.Event
}

// Projection applies a batch of ledger events on top of known request states.
// Events for requests that are not known yet are held back and replayed right
// after the matching RequestCreated.
type Projection struct {
	states  map[model.RequestRef]State
	touched map[model.RequestRef]bool
	held    map[model.RequestRef][]model.Event
	skipped map[model.RequestRef]bool
	accept  func(model.RequestCreated) bool

	history []model.ApprovalEvent
	effects []Effect
	issues  []Issue
}

type ProjectionOption func(*Projection)

// WithScope restricts the projection to requests accepted by the filter.
// Later events of a rejected request are dropped silently.
func WithScope(accept func(model.RequestCreated) bool) ProjectionOption {
	return func(p *Projection) {
		p.accept = accept
	}
}

func NewProjection(known []State, opts ...ProjectionOption) *Projection {
	p := &Projection{
		states:  make(map[model.RequestRef]State, len(known)),
		touched: map[model.RequestRef]bool{},
		held:    map[model.RequestRef][]model.Event{},
		skipped: map[model.RequestRef]bool{},
	}
	for _, s := range known {
		p.states[s.Request.Ref] = s
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ApplyAll sorts events by ledger position and applies them in order.
func (p *Projection) ApplyAll(events []model.Event) {
	sorted := append([]model.Event(nil), events...)
	model.SortEvents(sorted)
	for _, ev := range sorted {
		p.Apply(ev)
	}
}

func (p *Projection) Apply(ev model.Event) {
	ref := ev.Request()
	if p.skipped[ref] {
		return
	}

	cur, known := p.states[ref]
	if !known {
		created, ok := ev.(model.RequestCreated)
		if !ok {
			p.held[ref] = append(p.held[ref], ev)
			return
		}
		if p.accept != nil && !p.accept(created) {
			p.skipped[ref] = true
			delete(p.held, ref)
			return
		}
	}

	var curPtr *State
	if known {
		curPtr = &cur
	}
	next, effects, err := Apply(curPtr, ev)
	if err != nil {
		p.issues = append(p.issues, Issue{Event: ev, Err: err})
		return
	}

	p.states[ref] = next
	p.touched[ref] = true
	p.effects = append(p.effects, effects...)
	p.record(ev, effects)

	if held, ok := p.held[ref]; ok && !known {
		delete(p.held, ref)
		for _, h := range held {
			p.Apply(h)
		}
	}
}

// record keeps every approval event as history. Only events that changed an
// approval are counted; late and repeated ones are audit only.
func (p *Projection) record(ev model.Event, effects []Effect) {
	counted := false
	for _, e := range effects {
		if e.Kind == EffectApprovalChanged {
			counted = true
		}
	}

	switch e := ev.(type) {
	case model.Approved:
		p.history = append(p.history, model.ApprovalEvent{At: e.At, Ref: e.Ref, Verifier: e.Verifier, Action: model.ActionApprove, Counted: counted})
	case model.Withdrawn:
		p.history = append(p.history, model.ApprovalEvent{At: e.At, Ref: e.Ref, Verifier: e.Verifier, Action: model.ActionWithdraw, Counted: counted})
	}
}

// State returns the current state of a request in the projection.
func (p *Projection) State(ref model.RequestRef) (State, bool) {
	s, ok := p.states[ref]
	return s, ok
}

func (p *Projection) Outcome() Outcome {
	out := Outcome{
		History: append([]model.ApprovalEvent(nil), p.history...),
		Effects: append([]Effect(nil), p.effects...),
		Issues:  append([]Issue(nil), p.issues...),
	}

	refs := make([]model.RequestRef, 0, len(p.touched))
	for ref := range p.touched {
		refs = append(refs, ref)
	}
	sortRefs(refs)
	for _, ref := range refs {
		out.Requests = append(out.Requests, p.states[ref].ToRequest())
	}

	for _, events := range p.held {
		out.Orphans = append(out.Orphans, events...)
	}
	model.SortEvents(out.Orphans)

	return out
}

func sortRefs(refs []model.RequestRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}
