package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/audit"
	"github.com/Waesta/Wapos-sub010/internal/auth"
	"github.com/Waesta/Wapos-sub010/internal/perm"
)

type checkRequest struct {
	UserID   string         `json:"user_id"`
	Module   string         `json:"module"`
	Action   string         `json:"action"`
	Resource *perm.Resource `json:"resource,omitempty"`
}

type grantRequest struct {
	UserID     string           `json:"user_id"`
	Module     string           `json:"module"`
	Action     string           `json:"action"`
	Conditions *perm.Conditions `json:"conditions,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

type revokeRequest struct {
	UserID string `json:"user_id"`
	Module string `json:"module"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

type addMemberRequest struct {
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

type setGroupPermissionRequest struct {
	Module     string           `json:"module"`
	Action     string           `json:"action"`
	IsGranted  bool             `json:"is_granted"`
	Conditions *perm.Conditions `json:"conditions,omitempty"`
}

func (a *API) handleCatalogModules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	modules, err := a.store.ListModules(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": modules})
}

func (a *API) handleCatalogActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if module := strings.TrimSpace(r.URL.Query().Get("module")); module != "" {
		catalog, err := perm.NewCatalog(a.store)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		actions, err := catalog.ListModuleActions(r.Context(), module)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
		return
	}
	actions, err := a.store.ListActions(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

// handleCheck resolves a permission for the acting user, or for another user
// when the caller holds the manage-permissions capability.
func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = actor.UserID
	}
	e := a.engine()
	if req.UserID != actor.UserID {
		if _, ok := a.requireManager(w, r, e); !ok {
			return
		}
	}
	granted := e.HasPermission(r.Context(), req.UserID, req.Module, req.Action, req.Resource)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": req.UserID,
		"module":  req.Module,
		"action":  req.Action,
		"granted": granted,
	})
}

func (a *API) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	e := a.engine()
	actor, ok := a.requireManager(w, r, e)
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := e.GrantPermission(r.Context(), perm.GrantRequest{
		UserID:     req.UserID,
		Module:     req.Module,
		Action:     req.Action,
		GrantedBy:  actor.UserID,
		Conditions: req.Conditions,
		ExpiresAt:  req.ExpiresAt,
		Reason:     req.Reason,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "granted"})
}

func (a *API) handleDeny(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	e := a.engine()
	actor, ok := a.requireManager(w, r, e)
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := e.DenyPermission(r.Context(), perm.DenyRequest{
		UserID:    req.UserID,
		Module:    req.Module,
		Action:    req.Action,
		DeniedBy:  actor.UserID,
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "denied"})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	e := a.engine()
	actor, ok := a.requireManager(w, r, e)
	if !ok {
		return
	}
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := e.RevokePermission(r.Context(), req.UserID, req.Module, req.Action, actor.UserID, req.Reason); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func (a *API) handleMatrix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = actor.UserID
	}
	e := a.engine()
	if userID != actor.UserID {
		if _, ok := a.requireManager(w, r, e); !ok {
			return
		}
	}
	matrix, err := e.PermissionMatrix(r.Context(), userID)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "matrix": matrix})
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := a.store.ListGroups(r.Context())
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	case http.MethodPost:
		e := a.engine()
		if _, ok := a.requireManager(w, r, e); !ok {
			return
		}
		var req createGroupRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "group name is required")
			return
		}
		group, err := a.store.CreateGroup(r.Context(), perm.Group{
			Name:        strings.TrimSpace(req.Name),
			Description: req.Description,
			Color:       req.Color,
			Active:      true,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, group)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// handleGroupScoped routes /v1/groups/{id}/members[/{userID}] and
// /v1/groups/{id}/permissions.
func (a *API) handleGroupScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/groups/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	groupID := parts[0]

	e := a.engine()
	actor, ok := a.requireManager(w, r, e)
	if !ok {
		return
	}

	switch {
	case parts[1] == "members" && len(parts) == 2 && r.Method == http.MethodPost:
		var req addMemberRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := e.AddUserToGroup(r.Context(), req.UserID, groupID, actor.UserID, req.ExpiresAt); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "added"})
	case parts[1] == "members" && len(parts) == 3 && r.Method == http.MethodDelete:
		reason := strings.TrimSpace(r.URL.Query().Get("reason"))
		if err := e.RemoveUserFromGroup(r.Context(), parts[2], groupID, actor.UserID, reason); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
	case parts[1] == "permissions" && len(parts) == 2 && r.Method == http.MethodPost:
		var req setGroupPermissionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		err := e.SetGroupPermission(r.Context(), groupID, req.Module, req.Action, req.IsGranted, req.Conditions, actor.UserID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	e := a.engine()
	if _, ok := a.requireManager(w, r, e); !ok {
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		ActorID:   strings.TrimSpace(q.Get("actor_id")),
		Type:      audit.ActionType(strings.TrimSpace(q.Get("type"))),
		RiskLevel: audit.RiskLevel(strings.TrimSpace(q.Get("risk_level"))),
		Module:    strings.TrimSpace(q.Get("module")),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		filter.Until = t
	}
	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := a.recorder.Query(r.Context(), filter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
