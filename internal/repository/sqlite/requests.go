package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const requestColumns = `kind, request_id, university_id, subject_payload, status, quorum, created_at_block, closed_at_block, executed_token_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (model.Request, error) {
	var (
		r                        model.Request
		kind, status             string
		id, uni, created, closed int64
		token                    sql.NullString
	)
	if err := row.Scan(&kind, &id, &uni, &r.SubjectPayload, &status, &r.Quorum, &created, &closed, &token); err != nil {
		return model.Request{}, err
	}
	r.Ref = model.RequestRef{Kind: model.RequestKind(kind), ID: uint64(id)}
	r.UniversityID = uint64(uni)
	r.Status = model.RequestStatus(status)
	r.CreatedAtBlock = uint64(created)
	r.ClosedAtBlock = uint64(closed)
	if token.Valid {
		tok := token.String
		r.ExecutedTokenID = &tok
	}
	return r, nil
}

func loadRequest(ctx context.Context, q queryer, ref model.RequestRef) (*model.Request, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE kind = ? AND request_id = ?`, string(ref.Kind), int64(ref.ID))
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", ref, err)
	}
	return &r, nil
}

func loadApprovals(ctx context.Context, q queryer, ref model.RequestRef) ([]model.Approval, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT verifier, active, at_block FROM approvals
		WHERE kind = ? AND request_id = ?
		ORDER BY verifier
	`, string(ref.Kind), int64(ref.ID))
	if err != nil {
		return nil, fmt.Errorf("load approvals of %s: %w", ref, err)
	}
	defer rows.Close()

	var out []model.Approval
	for rows.Next() {
		var (
			a      = model.Approval{Ref: ref}
			active int
			block  int64
		)
		if err := rows.Scan(&a.Verifier, &active, &block); err != nil {
			return nil, fmt.Errorf("load approvals of %s: %w", ref, err)
		}
		a.Active = active == 1
		a.AtBlock = uint64(block)
		out = append(out, a)
	}
	return out, rows.Err()
}

func loadHistory(ctx context.Context, q queryer, ref model.RequestRef) ([]model.ApprovalEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT block, log_index, verifier, action, counted FROM approval_history
		WHERE kind = ? AND request_id = ?
		ORDER BY block, log_index
	`, string(ref.Kind), int64(ref.ID))
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", ref, err)
	}
	defer rows.Close()

	var out []model.ApprovalEvent
	for rows.Next() {
		var (
			e       = model.ApprovalEvent{Ref: ref}
			block   int64
			logIdx  int64
			action  string
			counted int
		)
		if err := rows.Scan(&block, &logIdx, &e.Verifier, &action, &counted); err != nil {
			return nil, fmt.Errorf("load history of %s: %w", ref, err)
		}
		e.At = model.Position{Block: uint64(block), LogIndex: uint32(logIdx)}
		e.Action = model.ApprovalAction(action)
		e.Counted = counted == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LoadRequests(ctx context.Context, refs []model.RequestRef) ([]model.Request, error) {
	var out []model.Request
	for _, ref := range refs {
		r, err := loadRequest(ctx, s.db, ref)
		if err != nil {
			return nil, err
		}
		if r == nil {
			continue
		}
		if r.Approvals, err = loadApprovals(ctx, s.db, ref); err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *Store) GetRequest(ctx context.Context, ref model.RequestRef) (model.Request, error) {
	r, err := loadRequest(ctx, s.db, ref)
	if err != nil {
		return model.Request{}, err
	}
	if r == nil {
		return model.Request{}, fmt.Errorf("request %s: %w", ref, model.ErrNotFound)
	}
	if r.Approvals, err = loadApprovals(ctx, s.db, ref); err != nil {
		return model.Request{}, err
	}
	if r.History, err = loadHistory(ctx, s.db, ref); err != nil {
		return model.Request{}, err
	}
	return *r, nil
}

func (s *Store) ListRequests(ctx context.Context, filter model.RequestFilter) ([]model.Request, error) {
	filter = filter.Normalized()

	where := []string{"university_id = ?"}
	args := []interface{}{int64(filter.UniversityID)}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at_block DESC, kind, request_id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	var out []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("list requests: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Approvals, err = loadApprovals(ctx, s.db, out[i].Ref); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) SaveBatch(ctx context.Context, batch repository.Batch) (repository.BatchReport, error) {
	var report repository.BatchReport
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		report = repository.BatchReport{}
		return s.writeBatch(ctx, tx, batch, &report, map[model.RequestRef]bool{})
	})
	return report, err
}

// ReplaceUniversity drops every row of the university and writes the batch
// in the same transaction.
func (s *Store) ReplaceUniversity(ctx context.Context, universityID uint64, batch repository.Batch) (repository.BatchReport, error) {
	var report repository.BatchReport
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		report = repository.BatchReport{}
		for _, table := range []string{"approval_history", "approvals", "requests"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE university_id = ?`, int64(universityID)); err != nil {
				return fmt.Errorf("clear %s of university %d: %w", table, universityID, err)
			}
		}

		rejected := map[model.RequestRef]bool{}
		for _, r := range batch.Requests {
			if r.UniversityID != universityID {
				rejected[r.Ref] = true
				report.Violations = append(report.Violations, fmt.Errorf("%w: request %s belongs to university %d", model.ErrInvariantViolation, r.Ref, r.UniversityID))
			}
		}
		return s.writeBatch(ctx, tx, batch, &report, rejected)
	})
	return report, err
}

// writeBatch writes requests first so history rows of rejected requests can be skipped.
func (s *Store) writeBatch(ctx context.Context, tx *sql.Tx, batch repository.Batch, report *repository.BatchReport, rejected map[model.RequestRef]bool) error {
	universities := repository.UniversityIndex(batch.Requests)

	for _, r := range batch.Requests {
		if rejected[r.Ref] {
			continue
		}
		err := s.writeRequest(ctx, tx, r, report)
		if errors.Is(err, model.ErrInvariantViolation) {
			rejected[r.Ref] = true
			report.Violations = append(report.Violations, err)
			s.logger.Error("request write rejected", zap.String("request", r.Ref.String()), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
	}

	for _, h := range batch.History {
		uni, ok := universities[h.Ref]
		if !ok || rejected[h.Ref] {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO approval_history (block, log_index, kind, request_id, verifier, university_id, action, counted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(block, log_index) DO NOTHING
		`, int64(h.At.Block), int64(h.At.LogIndex), string(h.Ref.Kind), int64(h.Ref.ID), h.Verifier, int64(uni), string(h.Action), boolToInt(h.Counted))
		if err != nil {
			return fmt.Errorf("write history of %s: %w", h.Ref, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			report.HistoryWritten++
		}
	}

	return nil
}

func (s *Store) writeRequest(ctx context.Context, tx *sql.Tx, r model.Request, report *repository.BatchReport) error {
	stored, err := loadRequest(ctx, tx, r.Ref)
	if err != nil {
		return err
	}
	if err := repository.CheckRequestWrite(stored, r); err != nil {
		return err
	}

	status := model.StatusPending
	existing := map[string]model.Approval{}
	if stored != nil {
		status = stored.Status
		approvals, err := loadApprovals(ctx, tx, r.Ref)
		if err != nil {
			return err
		}
		for _, a := range approvals {
			existing[a.Verifier] = a
		}
	}

	var writes []model.Approval
	var errs error
	for _, a := range r.Approvals {
		a.Ref = r.Ref
		var prev *model.Approval
		if e, ok := existing[a.Verifier]; ok {
			prev = &e
		}
		if err := repository.CheckApprovalWrite(status, prev, a); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if prev != nil && *prev == a {
			continue
		}
		writes = append(writes, a)
	}
	if errs != nil {
		return fmt.Errorf("%w in approvals of %s: %v", model.ErrInvariantViolation, r.Ref, errs)
	}

	var token sql.NullString
	if r.ExecutedTokenID != nil {
		token = sql.NullString{String: *r.ExecutedTokenID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, request_id) DO UPDATE SET
			status = excluded.status,
			closed_at_block = excluded.closed_at_block,
			executed_token_id = excluded.executed_token_id
	`, string(r.Ref.Kind), int64(r.Ref.ID), int64(r.UniversityID), r.SubjectPayload, string(r.Status), r.Quorum,
		int64(r.CreatedAtBlock), int64(r.ClosedAtBlock), token)
	if err != nil {
		return fmt.Errorf("write request %s: %w", r.Ref, err)
	}
	report.RequestsWritten++

	for _, a := range writes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approvals (kind, request_id, verifier, university_id, active, at_block)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(kind, request_id, verifier) DO UPDATE SET
				active = excluded.active,
				at_block = excluded.at_block
		`, string(r.Ref.Kind), int64(r.Ref.ID), a.Verifier, int64(r.UniversityID), boolToInt(a.Active), int64(a.AtBlock))
		if err != nil {
			return fmt.Errorf("write approval of %s on %s: %w", a.Verifier, r.Ref, err)
		}
		report.ApprovalsWritten++
	}

	return nil
}
