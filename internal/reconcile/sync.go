package reconcile

import (
	"context"
	"fmt"

	"credential-registry/internal/approval"
	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Result describes one physical run. Callers that shared the run through
// single-flight all see the same value, with Shared set.
type Result struct {
	RunID string `json:"runId"`
	Scope string `json:"scope"`
	// From and To bound the blocks processed; meaningless when Blocks is 0.
	From            uint64 `json:"from"`
	To              uint64 `json:"to"`
	Blocks          uint64 `json:"blocks"`
	Batches         int    `json:"batches"`
	Events          int    `json:"events"`
	RequestsWritten int    `json:"requestsWritten"`
	Malformed       int    `json:"malformed"`
	Orphans         int    `json:"orphans"`
	Violations      int    `json:"violations"`
	Shared          bool   `json:"shared"`
}

func (r *Result) merge(o Result) {
	if o.Blocks == 0 {
		return
	}
	if r.Blocks == 0 {
		r.From = o.From
	}
	r.To = o.To
	r.Blocks += o.Blocks
	r.Batches += o.Batches
	r.Events += o.Events
	r.RequestsWritten += o.RequestsWritten
	r.Malformed += o.Malformed
	r.Orphans += o.Orphans
	r.Violations += o.Violations
}

// nextBlock is the first block the cursor has not covered yet.
func (e *Engine) nextBlock(cursor model.SyncCursor) uint64 {
	if cursor.SyncedAt.IsZero() && cursor.LastSyncedBlock == 0 {
		return e.cfg.DeploymentBlock
	}
	return cursor.LastSyncedBlock + 1
}

// Resync brings the replica up to the confirmed head. Every scope is served
// by the one global cursor, so concurrent calls share one run whatever scope
// they name; Result.Scope is the caller's own.
func (e *Engine) Resync(ctx context.Context, scope string) (Result, error) {
	if _, _, err := ParseScope(scope); err != nil {
		return Result{}, err
	}

	ch := e.group.DoChan(syncKey, func() (interface{}, error) {
		e.runMu.Lock()
		defer e.runMu.Unlock()

		id := uuid.NewString()
		res, err := e.syncToHead(ctx, e.logger.With(zap.String("runID", id), zap.String("scope", scope)))
		res.RunID = id
		e.recordRun(id, err)
		return res, err
	})

	// a caller that joined someone else's run stops waiting on its own ctx
	select {
	case <-ctx.Done():
		return Result{Scope: scope}, ctx.Err()
	case r := <-ch:
		res := r.Val.(Result)
		res.Scope = scope
		res.Shared = r.Shared
		return res, r.Err
	}
}

const syncKey = "sync:" + model.GlobalScope

// SyncOnce is Resync of the global scope.
func (e *Engine) SyncOnce(ctx context.Context) (Result, error) {
	return e.Resync(ctx, model.GlobalScope)
}

// SyncRange processes blocks from..to as one durable batch. The part of the
// range the cursor already covers is skipped; a range starting after the
// block following the cursor is refused with model.ErrRangeGap.
func (e *Engine) SyncRange(ctx context.Context, from, to uint64) (Result, error) {
	if from > to {
		return Result{}, fmt.Errorf("%w: empty range %d..%d", model.ErrInvalidArgument, from, to)
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	id := uuid.NewString()
	res, err := e.syncRange(ctx, e.logger.With(zap.String("runID", id)), from, to)
	res.RunID = id
	res.Scope = model.GlobalScope
	e.recordRun(id, err)
	return res, err
}

func (e *Engine) syncToHead(ctx context.Context, log *zap.Logger) (Result, error) {
	var res Result

	var head uint64
	err := e.retry(ctx, "read head block", func() (err error) {
		head, err = e.ledger.HeadBlock(ctx)
		return err
	})
	if err != nil {
		return res, err
	}
	if head < e.cfg.Confirmations {
		return res, nil
	}
	target := head - e.cfg.Confirmations

	cursor, err := e.store.Cursor(ctx, model.GlobalScope)
	if err != nil {
		return res, err
	}

	for next := e.nextBlock(cursor); next <= target; {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := next + e.cfg.BatchBlocks - 1
		if end > target {
			end = target
		}

		r, err := e.syncRange(ctx, log, next, end)
		res.merge(r)
		if err != nil {
			return res, err
		}
		next = end + 1
	}

	if res.Blocks > 0 {
		log.Info("replica synced",
			zap.Uint64("from", res.From),
			zap.Uint64("to", res.To),
			zap.Int("events", res.Events),
			zap.Int("requests", res.RequestsWritten))
	}
	return res, nil
}

// syncRange expects the run lock to be held.
func (e *Engine) syncRange(ctx context.Context, log *zap.Logger, from, to uint64) (Result, error) {
	var res Result

	cursor, err := e.store.Cursor(ctx, model.GlobalScope)
	if err != nil {
		return res, err
	}
	next := e.nextBlock(cursor)
	if to < next {
		log.Debug("range already synced", zap.Uint64("from", from), zap.Uint64("to", to), zap.Uint64("cursor", cursor.LastSyncedBlock))
		return res, nil
	}
	if from > next {
		return res, fmt.Errorf("%w: range %d..%d, next block is %d", model.ErrRangeGap, from, to, next)
	}
	from = next

	var rng model.EventRange
	err = e.retry(ctx, "fetch events", func() (err error) {
		rng, err = e.ledger.FetchEvents(ctx, from, to)
		return err
	})
	if err != nil {
		return res, err
	}
	e.noteMalformed(log, rng.Malformed)

	known, err := e.store.LoadRequests(ctx, requestRefs(rng.Events))
	if err != nil {
		return res, err
	}
	states := make([]approval.State, 0, len(known))
	for _, req := range known {
		states = append(states, approval.NewState(req))
	}

	projection := approval.NewProjection(states)
	projection.ApplyAll(rng.Events)
	outcome := projection.Outcome()
	e.noteOutcome(ctx, log, outcome)

	// the batch and the cursor are written even if the caller goes away
	writeCtx := context.WithoutCancel(ctx)
	report, err := e.store.SaveBatch(writeCtx, repository.Batch{Requests: outcome.Requests, History: outcome.History})
	if err != nil {
		log.Error("failed to persist batch, cursor stays", zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
		return res, err
	}
	e.noteViolations(log, report.Violations)

	if err := e.store.AdvanceCursor(writeCtx, model.GlobalScope, to); err != nil {
		return res, err
	}

	e.stats.blocksSynced.Add(to - from + 1)
	e.stats.eventsApplied.Add(uint64(len(rng.Events)))

	return Result{
		From:            from,
		To:              to,
		Blocks:          to - from + 1,
		Batches:         1,
		Events:          len(rng.Events),
		RequestsWritten: report.RequestsWritten,
		Malformed:       len(rng.Malformed),
		Orphans:         len(outcome.Orphans),
		Violations:      len(report.Violations) + countViolations(outcome.Issues),
	}, nil
}

func requestRefs(events []model.Event) []model.RequestRef {
	seen := map[model.RequestRef]bool{}
	var refs []model.RequestRef
	for _, ev := range events {
		ref := ev.Request()
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

func countViolations(issues []approval.Issue) int {
	n := 0
	for _, issue := range issues {
		if issue.IsViolation() {
			n++
		}
	}
	return n
}

func (e *Engine) noteMalformed(log *zap.Logger, malformed []error) {
	for _, err := range malformed {
		e.stats.malformedEvents.Inc()
		log.Error("malformed ledger event skipped", zap.Error(err))
	}
}

func (e *Engine) noteViolations(log *zap.Logger, violations []error) {
	for _, err := range violations {
		e.stats.invariantViolations.Inc()
		log.Error("store rejected a request write", zap.Error(err))
	}
}

// noteOutcome raises alerts for what the projection could not apply and
// reacts to the advisory effects.
func (e *Engine) noteOutcome(ctx context.Context, log *zap.Logger, outcome approval.Outcome) {
	for _, issue := range outcome.Issues {
		fields := []zap.Field{
			zap.String("event", model.EventName(issue.Event)),
			zap.String("request", issue.Event.Request().String()),
			zap.Uint64("block", issue.Event.Position().Block),
			zap.Error(issue.Err),
		}
		if issue.IsViolation() {
			e.stats.invariantViolations.Inc()
			log.Error("invariant violation, event ignored", fields...)
			continue
		}
		log.Warn("event not applied", fields...)
	}

	for _, orphan := range outcome.Orphans {
		e.stats.orphanEvents.Inc()
		log.Error("event for unknown request skipped",
			zap.String("event", model.EventName(orphan)),
			zap.String("request", orphan.Request().String()),
			zap.Uint64("block", orphan.Position().Block))
	}

	for _, effect := range outcome.Effects {
		switch effect.Kind {
		case approval.EffectQuorumReached:
			log.Info("quorum reached, polling for execution", zap.String("request", effect.Ref.String()))
			e.scheduleFollowUp()
		case approval.EffectExecuted:
			log.Info("request executed", zap.String("request", effect.Ref.String()), zap.Uint64("block", effect.At.Block))
		case approval.EffectRejected:
			log.Info("request rejected", zap.String("request", effect.Ref.String()), zap.Uint64("block", effect.At.Block))
		}
	}

	e.checkQuorums(ctx, log, outcome)
}

// checkQuorums compares the quorum of new requests with the registered
// university. The ledger value is kept either way.
func (e *Engine) checkQuorums(ctx context.Context, log *zap.Logger, outcome approval.Outcome) {
	created := map[model.RequestRef]bool{}
	for _, effect := range outcome.Effects {
		if effect.Kind == approval.EffectCreated {
			created[effect.Ref] = true
		}
	}
	if len(created) == 0 {
		return
	}

	for _, req := range outcome.Requests {
		if !created[req.Ref] {
			continue
		}
		uni, err := e.store.GetUniversityByBlockchainID(ctx, req.UniversityID)
		if err != nil {
			if !model.IsNotFound(err) {
				log.Warn("university lookup failed", zap.Uint64("university", req.UniversityID), zap.Error(err))
			}
			continue
		}
		if uni.RequiredApprovals != req.Quorum {
			log.Warn("request quorum differs from the university setting",
				zap.String("request", req.Ref.String()),
				zap.String("university", uni.ID),
				zap.Int("quorum", req.Quorum),
				zap.Int("requiredApprovals", uni.RequiredApprovals))
		}
	}
}
