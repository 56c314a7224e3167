// Package http exposes the read-mostly query API and the few commands the
// UI needs: verifier actions, resync triggers and university registration.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"credential-registry/internal/app"
	"credential-registry/internal/blockchain"
	"credential-registry/internal/model"
	"credential-registry/internal/ports/http/middleware/auth"
	"credential-registry/internal/ports/http/middleware/cors"
	"credential-registry/internal/reconcile"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Service is the part of app.App the server calls.
type Service interface {
	ListRequests(ctx context.Context, filter model.RequestFilter) ([]model.Request, error)
	GetRequest(ctx context.Context, ref model.RequestRef) (model.Request, error)
	SubmitAction(ctx context.Context, req app.ActionRequest) (app.ActionResult, error)
	IsAuthorized(ctx context.Context, universityID uint64, address string, role model.Role) model.AuthDecision
	TriggerResync(scope string) error
	SyncStatus(ctx context.Context) (app.SyncStatus, error)
	Backfill(ctx context.Context, universityID uint64) (reconcile.Result, error)
	SpotCheck(ctx context.Context, ref model.RequestRef) (reconcile.Drift, error)
	RegisterUniversity(ctx context.Context, u model.University) error
	GetUniversity(ctx context.Context, id string) (model.University, error)
}

type server struct {
	app            Service
	httpServer     *http.Server
	addr           string
	logger         *zap.Logger
	validator      auth.TokenValidator
	requestTimeout time.Duration
}

func NewServer(logger *zap.Logger, a Service, address string, tokenParams auth.JwtTokenParams, requestTimeout time.Duration) *server {
	return &server{
		app:            a,
		addr:           address,
		logger:         logger,
		validator:      auth.NewTokenValidator(logger, tokenParams),
		requestTimeout: requestTimeout,
	}
}

func (ser *server) registerHandlers(router *mux.Router) {
	router.HandleFunc("/health", healthcheck)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/requests", ser.listRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{kind}/{requestID}", ser.getRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{kind}/{requestID}/drift", ser.getDrift).Methods(http.MethodGet)
	api.HandleFunc("/roles", ser.getRole).Methods(http.MethodGet)
	api.HandleFunc("/sync/status", ser.getSyncStatus).Methods(http.MethodGet)
	api.HandleFunc("/universities/{id}", ser.getUniversity).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(ser.validator.Validate)
	protected.HandleFunc("/requests/{kind}/{requestID}/actions", ser.postAction).Methods(http.MethodPost)
	protected.HandleFunc("/sync/resync", ser.postResync).Methods(http.MethodPost)
	protected.HandleFunc("/sync/backfill", ser.postBackfill).Methods(http.MethodPost)
	protected.HandleFunc("/universities", ser.postUniversity).Methods(http.MethodPost)
}

func (ser *server) handler() http.Handler {
	router := mux.NewRouter()
	ser.registerHandlers(router)
	return cors.AddCorsPolicy(router)
}

func healthcheck(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("all good here"))
}

func (ser *server) Run() error {
	ser.httpServer = &http.Server{
		Handler:           ser.handler(),
		Addr:              ser.addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ser.logger.Info("http server listening", zap.String("addr", ser.addr))
	if err := ser.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ser *server) Shutdown(ctx context.Context) error {
	if ser.httpServer == nil {
		return nil
	}
	return ser.httpServer.Shutdown(ctx)
}

func (ser *server) respond(w http.ResponseWriter, status int, body interface{}) {
	response, err := json.Marshal(body)
	if err != nil {
		ser.serverError(w, "marshalling the response failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		ser.logger.Error("failed to write the response: " + err.Error())
	}
}

func (ser *server) writeMessage(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(message)); err != nil {
		ser.logger.Error("failed to write an error message: " + err.Error())
	}
}

func (ser *server) badRequest(w http.ResponseWriter, message string) {
	ser.writeMessage(w, http.StatusBadRequest, message)
	ser.logger.Warn(message)
}

func (ser *server) serverError(w http.ResponseWriter, message string) {
	ser.writeMessage(w, http.StatusInternalServerError, message)
	ser.logger.Error(message)
}

// fail maps domain errors to status codes.
func (ser *server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		ser.badRequest(w, err.Error())
	case errors.Is(err, model.ErrNotFound):
		ser.writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrUnauthorized):
		ser.writeMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrRequestClosed), errors.Is(err, model.ErrRangeGap), errors.Is(err, model.ErrInvariantViolation):
		ser.writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, blockchain.ErrBatchInvalid):
		ser.writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, model.ErrAuthorizationUnknown), model.IsTransient(err):
		w.Header().Set("Retry-After", "10")
		ser.writeMessage(w, http.StatusServiceUnavailable, err.Error())
		ser.logger.Warn(err.Error())
	default:
		ser.serverError(w, err.Error())
	}
}

// commandContext detaches ledger commands from the client connection, the
// way a submitted batch cannot be taken back either.
func (ser *server) commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), ser.requestTimeout)
}

func normalize(s string) string {
	return strings.TrimSpace(s)
}
