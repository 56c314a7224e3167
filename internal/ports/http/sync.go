package http

import (
	"net/http"
	"strconv"

	"credential-registry/internal/model"

	"go.uber.org/zap"
)

func (ser *server) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := ser.app.SyncStatus(r.Context())
	if err != nil {
		ser.fail(w, err)
		return
	}
	ser.respond(w, http.StatusOK, status)
}

// postResync only schedules the run, the replica may still be stale when
// the response arrives.
func (ser *server) postResync(w http.ResponseWriter, r *http.Request) {
	scope := normalize(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = model.GlobalScope
	}

	if err := ser.app.TriggerResync(scope); err != nil {
		ser.fail(w, err)
		return
	}
	ser.logger.Info("resync requested", zap.String("scope", scope))
	w.WriteHeader(http.StatusAccepted)
}

func (ser *server) postBackfill(w http.ResponseWriter, r *http.Request) {
	uni, err := strconv.ParseUint(normalize(r.URL.Query().Get("universityId")), 10, 64)
	if err != nil {
		ser.badRequest(w, "universityId is missing or not a number")
		return
	}

	ctx, cancel := ser.commandContext(r)
	defer cancel()

	res, err := ser.app.Backfill(ctx, uni)
	if err != nil {
		ser.fail(w, err)
		return
	}
	ser.respond(w, http.StatusOK, res)
}
