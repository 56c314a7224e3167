package mongodb

import (
	"context"
	"errors"
	"fmt"

	"credential-registry/internal/model"
	"credential-registry/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func refFilter(ref model.RequestRef) bson.M {
	return bson.M{"kind": string(ref.Kind), "request_id": int64(ref.ID)}
}

func (r *Repository) loadRequest(ctx context.Context, ref model.RequestRef) (*model.Request, error) {
	var stored storedRequest
	err := r.db.Collection(requestsCollection).FindOne(ctx, bson.M{"_id": ref.String()}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", ref, err)
	}
	req := stored.toModel()
	return &req, nil
}

func (r *Repository) loadApprovals(ctx context.Context, ref model.RequestRef) ([]model.Approval, error) {
	cursor, err := r.db.Collection(approvalsCollection).Find(ctx, refFilter(ref),
		options.Find().SetSort(bson.D{{Key: "verifier", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("load approvals of %s: %w", ref, err)
	}

	var stored []storedApproval
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, fmt.Errorf("load approvals of %s: %w", ref, err)
	}

	out := make([]model.Approval, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.toModel())
	}
	return out, nil
}

func (r *Repository) loadHistory(ctx context.Context, ref model.RequestRef) ([]model.ApprovalEvent, error) {
	cursor, err := r.db.Collection(historyCollection).Find(ctx, refFilter(ref),
		options.Find().SetSort(bson.D{{Key: "block", Value: 1}, {Key: "log_index", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", ref, err)
	}

	var stored []storedHistory
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, fmt.Errorf("load history of %s: %w", ref, err)
	}

	out := make([]model.ApprovalEvent, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.toModel())
	}
	return out, nil
}

func (r *Repository) LoadRequests(ctx context.Context, refs []model.RequestRef) ([]model.Request, error) {
	var out []model.Request
	for _, ref := range refs {
		req, err := r.loadRequest(ctx, ref)
		if err != nil {
			return nil, err
		}
		if req == nil {
			continue
		}
		if req.Approvals, err = r.loadApprovals(ctx, ref); err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, nil
}

func (r *Repository) GetRequest(ctx context.Context, ref model.RequestRef) (model.Request, error) {
	req, err := r.loadRequest(ctx, ref)
	if err != nil {
		return model.Request{}, err
	}
	if req == nil {
		return model.Request{}, fmt.Errorf("request %s: %w", ref, model.ErrNotFound)
	}
	if req.Approvals, err = r.loadApprovals(ctx, ref); err != nil {
		return model.Request{}, err
	}
	if req.History, err = r.loadHistory(ctx, ref); err != nil {
		return model.Request{}, err
	}
	return *req, nil
}

func (r *Repository) ListRequests(ctx context.Context, filter model.RequestFilter) ([]model.Request, error) {
	filter = filter.Normalized()

	query := bson.M{"university_id": int64(filter.UniversityID)}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Kind != "" {
		query["kind"] = string(filter.Kind)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at_block", Value: -1}, {Key: "kind", Value: 1}, {Key: "request_id", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(filter.Limit))

	cursor, err := r.db.Collection(requestsCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	var stored []storedRequest
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	out := make([]model.Request, 0, len(stored))
	for _, s := range stored {
		req := s.toModel()
		if req.Approvals, err = r.loadApprovals(ctx, req.Ref); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *Repository) SaveBatch(ctx context.Context, batch repository.Batch) (repository.BatchReport, error) {
	var report repository.BatchReport
	err := r.withTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		report = repository.BatchReport{}
		return r.writeBatch(sessCtx, batch, &report, map[model.RequestRef]bool{})
	})
	return report, err
}

func (r *Repository) ReplaceUniversity(ctx context.Context, universityID uint64, batch repository.Batch) (repository.BatchReport, error) {
	var report repository.BatchReport
	err := r.withTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		report = repository.BatchReport{}
		filter := bson.M{"university_id": int64(universityID)}
		for _, coll := range []string{historyCollection, approvalsCollection, requestsCollection} {
			if _, err := r.db.Collection(coll).DeleteMany(sessCtx, filter); err != nil {
				return fmt.Errorf("clear %s of university %d: %w", coll, universityID, err)
			}
		}

		rejected := map[model.RequestRef]bool{}
		for _, req := range batch.Requests {
			if req.UniversityID != universityID {
				rejected[req.Ref] = true
				report.Violations = append(report.Violations, fmt.Errorf("%w: request %s belongs to university %d", model.ErrInvariantViolation, req.Ref, req.UniversityID))
			}
		}
		return r.writeBatch(sessCtx, batch, &report, rejected)
	})
	return report, err
}

func (r *Repository) writeBatch(ctx context.Context, batch repository.Batch, report *repository.BatchReport, rejected map[model.RequestRef]bool) error {
	universities := repository.UniversityIndex(batch.Requests)

	for _, req := range batch.Requests {
		if rejected[req.Ref] {
			continue
		}
		err := r.writeRequest(ctx, req, report)
		if errors.Is(err, model.ErrInvariantViolation) {
			rejected[req.Ref] = true
			report.Violations = append(report.Violations, err)
			r.logger.Error("request write rejected", zap.String("request", req.Ref.String()), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
	}

	coll := r.db.Collection(historyCollection)
	for _, h := range batch.History {
		uni, ok := universities[h.Ref]
		if !ok || rejected[h.Ref] {
			continue
		}
		stored := toStoredHistory(h, uni)
		id := stored.ID
		stored.ID = ""
		res, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$setOnInsert": stored}, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("write history of %s: %w", h.Ref, err)
		}
		if res.UpsertedCount > 0 {
			report.HistoryWritten++
		}
	}

	return nil
}

func (r *Repository) writeRequest(ctx context.Context, req model.Request, report *repository.BatchReport) error {
	stored, err := r.loadRequest(ctx, req.Ref)
	if err != nil {
		return err
	}
	if err := repository.CheckRequestWrite(stored, req); err != nil {
		return err
	}

	status := model.StatusPending
	existing := map[string]model.Approval{}
	if stored != nil {
		status = stored.Status
		approvals, err := r.loadApprovals(ctx, req.Ref)
		if err != nil {
			return err
		}
		for _, a := range approvals {
			existing[a.Verifier] = a
		}
	}

	var writes []model.Approval
	var errs error
	for _, a := range req.Approvals {
		a.Ref = req.Ref
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
		return fmt.Errorf("%w in approvals of %s: %v", model.ErrInvariantViolation, req.Ref, errs)
	}

	doc := toStoredRequest(req)
	_, err = r.db.Collection(requestsCollection).ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("write request %s: %w", req.Ref, err)
	}
	report.RequestsWritten++

	approvals := r.db.Collection(approvalsCollection)
	for _, a := range writes {
		doc := toStoredApproval(a, req.UniversityID)
		if _, err := approvals.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true)); err != nil {
			return fmt.Errorf("write approval of %s on %s: %w", a.Verifier, req.Ref, err)
		}
		report.ApprovalsWritten++
	}

	return nil
}
