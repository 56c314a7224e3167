package reconcile

import (
	"context"
	"strconv"

	"credential-registry/internal/approval"
	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backfill re-derives every request of a university from the deployment
// block up to the global cursor and replaces the university's rows in one
// transaction. Concurrent calls for the same university share one run.
func (e *Engine) Backfill(ctx context.Context, universityID uint64) (Result, error) {
	v, err, shared := e.group.Do("backfill:"+strconv.FormatUint(universityID, 10), func() (interface{}, error) {
		e.runMu.Lock()
		defer e.runMu.Unlock()

		id := uuid.NewString()
		scope := UniversityScope(universityID)
		res, err := e.backfill(ctx, e.logger.With(zap.String("runID", id), zap.String("scope", scope)), universityID)
		res.RunID = id
		res.Scope = scope
		e.recordRun(id, err)
		return res, err
	})

	res := v.(Result)
	res.Shared = shared
	return res, err
}

func (e *Engine) backfill(ctx context.Context, log *zap.Logger, universityID uint64) (Result, error) {
	var res Result

	cursor, err := e.store.Cursor(ctx, model.GlobalScope)
	if err != nil {
		return res, err
	}
	if cursor.SyncedAt.IsZero() || cursor.LastSyncedBlock < e.cfg.DeploymentBlock {
		log.Info("nothing synced yet, backfill skipped")
		return res, nil
	}
	end := cursor.LastSyncedBlock

	projection := approval.NewProjection(nil, approval.WithScope(func(c model.RequestCreated) bool {
		return c.UniversityID == universityID
	}))

	for from := e.cfg.DeploymentBlock; from <= end; {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		to := from + e.cfg.BatchBlocks - 1
		if to > end || to < from {
			to = end
		}

		var rng model.EventRange
		err := e.retry(ctx, "fetch events", func() (err error) {
			rng, err = e.ledger.FetchEvents(ctx, from, to)
			return err
		})
		if err != nil {
			return res, err
		}
		projection.ApplyAll(rng.Events)

		res.merge(Result{From: from, To: to, Blocks: to - from + 1, Batches: 1, Events: len(rng.Events), Malformed: len(rng.Malformed)})
		if to == end {
			break
		}
		from = to + 1
	}

	outcome := projection.Outcome()
	res.Orphans = len(outcome.Orphans)
	res.Violations = countViolations(outcome.Issues)
	if res.Orphans > 0 {
		// other universities' events can end up here too, so no alert
		log.Warn("backfill left events without request", zap.Int("orphans", res.Orphans))
	}

	report, err := e.store.ReplaceUniversity(context.WithoutCancel(ctx), universityID, repository.Batch{
		Requests: outcome.Requests,
		History:  outcome.History,
	})
	if err != nil {
		return res, err
	}
	e.noteViolations(log, report.Violations)
	res.RequestsWritten = report.RequestsWritten
	res.Violations += len(report.Violations)

	log.Info("university backfilled",
		zap.Uint64("university", universityID),
		zap.Uint64("to", end),
		zap.Int("requests", report.RequestsWritten))
	return res, nil
}
