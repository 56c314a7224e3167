package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"credential-registry/internal/app"
	"credential-registry/internal/model"
	"credential-registry/internal/ports/http/middleware/auth"
	"credential-registry/internal/signkeys"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type approvalView struct {
	Verifier string `json:"verifier"`
	Active   bool   `json:"active"`
	AtBlock  uint64 `json:"atBlock"`
}

type historyView struct {
	Block    uint64 `json:"block"`
	LogIndex uint32 `json:"logIndex"`
	Verifier string `json:"verifier"`
	Action   string `json:"action"`
	Counted  bool   `json:"counted"`
}

type requestView struct {
	Kind             string         `json:"kind"`
	RequestID        uint64         `json:"requestId"`
	UniversityID     uint64         `json:"universityId"`
	Status           string         `json:"status"`
	Quorum           int            `json:"quorum"`
	ActiveApprovals  int            `json:"activeApprovals"`
	ApprovalProgress float64        `json:"approvalProgress"`
	CreatedAtBlock   uint64         `json:"createdAtBlock"`
	ClosedAtBlock    uint64         `json:"closedAtBlock,omitempty"`
	ExecutedTokenID  *string        `json:"executedTokenId,omitempty"`
	SubjectPayload   []byte         `json:"subjectPayload,omitempty"`
	Approvals        []approvalView `json:"approvals"`
	History          []historyView  `json:"history,omitempty"`
}

func (v *requestView) assign(r model.Request) {
	v.Kind = string(r.Ref.Kind)
	v.RequestID = r.Ref.ID
	v.UniversityID = r.UniversityID
	v.Status = string(r.Status)
	v.Quorum = r.Quorum
	v.ActiveApprovals = r.ActiveApprovals()
	v.ApprovalProgress = r.ApprovalProgress()
	v.CreatedAtBlock = r.CreatedAtBlock
	v.ClosedAtBlock = r.ClosedAtBlock
	v.ExecutedTokenID = r.ExecutedTokenID
	v.SubjectPayload = r.SubjectPayload

	v.Approvals = make([]approvalView, 0, len(r.Approvals))
	for _, a := range r.Approvals {
		v.Approvals = append(v.Approvals, approvalView{Verifier: a.Verifier, Active: a.Active, AtBlock: a.AtBlock})
	}
	for _, h := range r.History {
		v.History = append(v.History, historyView{Block: h.At.Block, LogIndex: h.At.LogIndex, Verifier: h.Verifier, Action: string(h.Action), Counted: h.Counted})
	}
}

func (ser *server) listRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := readRequestFilter(r)
	if err != nil {
		ser.badRequest(w, err.Error())
		return
	}
	ser.logger.Debug("listing requests", zap.Uint64("university", filter.UniversityID), zap.String("status", string(filter.Status)), zap.String("kind", string(filter.Kind)))

	requests, err := ser.app.ListRequests(r.Context(), filter)
	if err != nil {
		ser.fail(w, err)
		return
	}

	views := make([]requestView, len(requests))
	for i, req := range requests {
		views[i].assign(req)
	}
	ser.respond(w, http.StatusOK, views)
}

func readRequestFilter(r *http.Request) (model.RequestFilter, error) {
	query := r.URL.Query()

	var filter model.RequestFilter
	uni, err := strconv.ParseUint(normalize(query.Get("universityId")), 10, 64)
	if err != nil {
		return filter, fmt.Errorf("universityId is missing or not a number")
	}
	filter.UniversityID = uni
	filter.Status = model.RequestStatus(normalize(query.Get("status")))
	filter.Kind = model.RequestKind(normalize(query.Get("kind")))

	if filter.Offset, err = readInt(query.Get("offset")); err != nil {
		return filter, fmt.Errorf("offset: %v", err)
	}
	if filter.Limit, err = readInt(query.Get("limit")); err != nil {
		return filter, fmt.Errorf("limit: %v", err)
	}
	return filter, nil
}

func readInt(s string) (int, error) {
	if s = normalize(s); s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func readRequestRef(r *http.Request) (model.RequestRef, error) {
	params := mux.Vars(r)
	return model.ParseRequestRef(params["kind"], params["requestID"])
}

func (ser *server) getRequest(w http.ResponseWriter, r *http.Request) {
	ref, err := readRequestRef(r)
	if err != nil {
		ser.badRequest(w, err.Error())
		return
	}

	req, err := ser.app.GetRequest(r.Context(), ref)
	if err != nil {
		ser.fail(w, err)
		return
	}

	var view requestView
	view.assign(req)
	ser.respond(w, http.StatusOK, view)
}

func (ser *server) getDrift(w http.ResponseWriter, r *http.Request) {
	ref, err := readRequestRef(r)
	if err != nil {
		ser.badRequest(w, err.Error())
		return
	}

	drift, err := ser.app.SpotCheck(r.Context(), ref)
	if err != nil {
		ser.fail(w, err)
		return
	}
	ser.respond(w, http.StatusOK, drift)
}

type actionBody struct {
	Verifier string `json:"verifier"`
	Action   string `json:"action"`
}

func (ser *server) postAction(w http.ResponseWriter, r *http.Request) {
	ref, err := readRequestRef(r)
	if err != nil {
		ser.badRequest(w, err.Error())
		return
	}

	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ser.badRequest(w, "failed to decode the body: "+err.Error())
		return
	}

	verifier, err := signkeys.NormalizeAddress(body.Verifier)
	if err != nil {
		ser.badRequest(w, err.Error())
		return
	}
	// a caller only ever acts as the verifier its token names
	if subject, err := signkeys.NormalizeAddress(auth.Subject(r.Context())); err != nil || subject != verifier {
		ser.writeMessage(w, http.StatusForbidden, "token subject may not act as verifier "+verifier)
		return
	}

	ctx, cancel := ser.commandContext(r)
	defer cancel()

	res, err := ser.app.SubmitAction(ctx, app.ActionRequest{
		Ref:      ref,
		Verifier: verifier,
		Action:   model.ApprovalAction(normalize(body.Action)),
	})
	if err != nil {
		ser.fail(w, err)
		return
	}
	ser.respond(w, http.StatusAccepted, res)
}

type roleView struct {
	UniversityID uint64 `json:"universityId"`
	Address      string `json:"address"`
	Role         string `json:"role"`
	Decision     string `json:"decision"`
	Source       string `json:"source"`
	CheckedAt    string `json:"checkedAt,omitempty"`
}

func (ser *server) getRole(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	uni, err := strconv.ParseUint(normalize(query.Get("universityId")), 10, 64)
	if err != nil {
		ser.badRequest(w, "universityId is missing or not a number")
		return
	}
	address := normalize(query.Get("address"))
	if address == "" {
		ser.badRequest(w, "address is missing")
		return
	}
	roleParam := normalize(query.Get("role"))
	if roleParam == "" {
		roleParam = string(model.RoleVerifier)
	}
	role, err := model.ParseRole(roleParam)
	if err != nil {
		ser.badRequest(w, err.Error())
		return
	}

	decision := ser.app.IsAuthorized(r.Context(), uni, address, role)
	view := roleView{
		UniversityID: uni,
		Address:      address,
		Role:         string(role),
		Decision:     string(decision.Decision),
		Source:       string(decision.Source),
	}
	if !decision.CheckedAt.IsZero() {
		view.CheckedAt = decision.CheckedAt.Format(time.RFC3339)
	}
	ser.respond(w, http.StatusOK, view)
}
