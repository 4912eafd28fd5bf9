// Package httpapi exposes the administrative surface of the access control
// engine: permission checks, grant/revoke, group membership, the permission
// matrix and audit review, plus health and metrics endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/audit"
	"github.com/Waesta/Wapos-sub010/internal/obs"
	"github.com/Waesta/Wapos-sub010/internal/perm"
)

// ReadyProbe checks readiness (e.g. a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. It builds a fresh resolution engine per request so
// each request sees one consistent policy snapshot.
type API struct {
	mux        *http.ServeMux
	store      perm.Store
	recorder   *audit.Recorder
	readyProbe ReadyProbe
	version    string
	engineOpts []perm.Option
}

// New wires the routes.
func New(store perm.Store, recorder *audit.Recorder, rp ReadyProbe, version string, engineOpts ...perm.Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		store:      store,
		recorder:   recorder,
		readyProbe: rp,
		version:    version,
		engineOpts: append([]perm.Option{
			perm.WithLocationProvider(LocationFromContext),
			perm.WithRoleProvider(actorRole),
		}, engineOpts...),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/catalog/modules", a.handleCatalogModules)
	a.mux.HandleFunc("/v1/catalog/actions", a.handleCatalogActions)

	a.mux.HandleFunc("/v1/permissions/check", a.handleCheck)
	a.mux.HandleFunc("/v1/permissions/grant", a.handleGrant)
	a.mux.HandleFunc("/v1/permissions/deny", a.handleDeny)
	a.mux.HandleFunc("/v1/permissions/revoke", a.handleRevoke)
	a.mux.HandleFunc("/v1/permissions/matrix", a.handleMatrix)

	a.mux.HandleFunc("/v1/groups", a.handleGroups)
	a.mux.HandleFunc("/v1/groups/", a.handleGroupScoped)

	a.mux.HandleFunc("/v1/audit", a.handleAuditQuery)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the server handler with middleware applied.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = WithRequestMeta(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = RateLimit(h, 50, 25)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// engine builds the request-scoped resolution engine.
func (a *API) engine() *perm.Engine {
	e, err := perm.NewEngine(a.store, a.recorder, a.engineOpts...)
	if err != nil {
		// store and recorder are validated at construction; unreachable
		panic(err)
	}
	return e
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "wapos-access",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "wapos-access",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleDomainError maps domain sentinels to HTTP statuses.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, perm.ErrInvalidInput),
		errors.Is(err, perm.ErrUnknownModule),
		errors.Is(err, perm.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, perm.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, perm.ErrConflict):
		writeError(w, http.StatusConflict, "resource conflict")
	case errors.Is(err, perm.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access denied")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
