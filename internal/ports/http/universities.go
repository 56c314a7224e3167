package http

import (
	"encoding/json"
	"net/http"

	"credential-registry/internal/model"

	"github.com/gorilla/mux"
)

type universityView struct {
	ID                string  `json:"id"`
	BlockchainID      *uint64 `json:"blockchainId,omitempty"`
	Name              string  `json:"name"`
	IsActive          bool    `json:"isActive"`
	RequiredApprovals int     `json:"requiredApprovals"`
}

func (v universityView) toModel() model.University {
	return model.University{
		ID:                normalize(v.ID),
		BlockchainID:      v.BlockchainID,
		Name:              normalize(v.Name),
		IsActive:          v.IsActive,
		RequiredApprovals: v.RequiredApprovals,
	}
}

func (ser *server) postUniversity(w http.ResponseWriter, r *http.Request) {
	var body universityView
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ser.badRequest(w, "failed to decode the body: "+err.Error())
		return
	}

	if err := ser.app.RegisterUniversity(r.Context(), body.toModel()); err != nil {
		ser.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (ser *server) getUniversity(w http.ResponseWriter, r *http.Request) {
	u, err := ser.app.GetUniversity(r.Context(), normalize(mux.Vars(r)["id"]))
	if err != nil {
		ser.fail(w, err)
		return
	}
	ser.respond(w, http.StatusOK, universityView{
		ID:                u.ID,
		BlockchainID:      u.BlockchainID,
		Name:              u.Name,
		IsActive:          u.IsActive,
		RequiredApprovals: u.RequiredApprovals,
	})
}
