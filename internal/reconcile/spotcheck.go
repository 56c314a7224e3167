package reconcile

import (
	"context"
	"fmt"
	"sort"

	"credential-registry/internal/model"

	"go.uber.org/zap"
)

// Drift is the result of comparing one replica row with the ledger.
type Drift struct {
	Ref     model.RequestRef       `json:"ref"`
	Replica *model.RequestSnapshot `json:"replica,omitempty"`
	Ledger  *model.RequestSnapshot `json:"ledger,omitempty"`
	// Differences is empty when both sides agree.
	Differences []string `json:"differences"`
}

func (d Drift) InSync() bool {
	return len(d.Differences) == 0
}

// SpotCheck compares the replica row of a request with the ledger's view.
// A replica lagging behind the cursor shows up as drift too.
func (e *Engine) SpotCheck(ctx context.Context, ref model.RequestRef) (Drift, error) {
	drift := Drift{Ref: ref}

	stored, err := e.store.GetRequest(ctx, ref)
	switch {
	case err == nil:
		s := snapshotOf(stored)
		drift.Replica = &s
	case !model.IsNotFound(err):
		return drift, err
	}

	var onChain model.RequestSnapshot
	err = e.retry(ctx, "read ledger request", func() (err error) {
		onChain, err = e.ledger.GetRequest(ctx, ref)
		return err
	})
	switch {
	case err == nil:
		drift.Ledger = &onChain
	case !model.IsNotFound(err):
		return drift, err
	}

	switch {
	case drift.Replica == nil && drift.Ledger == nil:
		return drift, fmt.Errorf("request %s: %w", ref, model.ErrNotFound)
	case drift.Replica == nil:
		drift.Differences = append(drift.Differences, "missing in replica")
	case drift.Ledger == nil:
		drift.Differences = append(drift.Differences, "missing on ledger")
	default:
		drift.Differences = compareSnapshots(*drift.Replica, *drift.Ledger)
	}

	if !drift.InSync() {
		e.logger.Warn("replica drift", zap.String("request", ref.String()), zap.Strings("differences", drift.Differences))
	}
	return drift, nil
}

func snapshotOf(req model.Request) model.RequestSnapshot {
	s := model.RequestSnapshot{
		Ref:     req.Ref,
		Status:  req.Status,
		Quorum:  req.Quorum,
		TokenID: req.ExecutedTokenID,
	}
	for _, a := range req.Approvals {
		if a.Active {
			s.Approvals = append(s.Approvals, a.Verifier)
		}
	}
	return s
}

func compareSnapshots(replica, ledger model.RequestSnapshot) []string {
	var diffs []string
	if replica.Status != ledger.Status {
		diffs = append(diffs, fmt.Sprintf("status: replica %s, ledger %s", replica.Status, ledger.Status))
	}
	if replica.Quorum != ledger.Quorum {
		diffs = append(diffs, fmt.Sprintf("quorum: replica %d, ledger %d", replica.Quorum, ledger.Quorum))
	}
	if tokenString(replica.TokenID) != tokenString(ledger.TokenID) {
		diffs = append(diffs, fmt.Sprintf("token: replica %q, ledger %q", tokenString(replica.TokenID), tokenString(ledger.TokenID)))
	}

	have := sortedCopy(replica.Approvals)
	want := sortedCopy(ledger.Approvals)
	if fmt.Sprint(have) != fmt.Sprint(want) {
		diffs = append(diffs, fmt.Sprintf("approvals: replica %v, ledger %v", have, want))
	}
	return diffs
}

func tokenString(t *string) string {
	if t == nil {
		return ""
	}
	return *t
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
