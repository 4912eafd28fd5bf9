// Package audit records permission decisions and administrative changes as an
// append-only trail. Writes never fail the calling operation: the hot path is
// a bounded queue drained by a background writer, and mutation entries take a
// synchronous path whose failures are reported to the operational log only.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/ids"
)

// ActionType classifies an audit entry.
type ActionType string

const (
	TypePermissionCheck   ActionType = "permission_check"
	TypePermissionDenied  ActionType = "permission_denied"
	TypePermissionGranted ActionType = "permission_granted"
	TypePermissionChanged ActionType = "permission_changed"
	TypePolicyViolation   ActionType = "policy_violation"
	TypeSensitiveAction   ActionType = "sensitive_action"
)

// RiskLevel tags an entry for review triage.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Entry is an immutable audit record. Module and Action are empty for entries
// that are not module-scoped (e.g. membership changes).
type Entry struct {
	ID        string     `json:"id"`
	ActorID   string     `json:"actor_id"`
	Type      ActionType `json:"action_type"`
	Module    string     `json:"module,omitempty"`
	Action    string     `json:"action,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	RiskLevel RiskLevel  `json:"risk_level"`
	Details   string     `json:"details,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Filter narrows administrative queries. Zero fields match everything.
type Filter struct {
	ActorID   string
	Type      ActionType
	RiskLevel RiskLevel
	Module    string
	Since     time.Time
	Until     time.Time
}

// Matches reports whether the entry satisfies the filter.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// Store persists audit entries. Append must be insert-only.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter, limit int) ([]Entry, error)
}

type ctxKey struct{}

// Meta carries request attribution copied onto every entry recorded under the
// request's context.
type Meta struct {
	IP        string
	UserAgent string
	SessionID string
}

// WithMeta attaches request attribution to the context.
func WithMeta(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, ctxKey{}, meta)
}

func metaFromContext(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	if m, ok := ctx.Value(ctxKey{}).(Meta); ok {
		return m
	}
	return Meta{}
}

// normalize fills defaults and context attribution on an entry before it is
// persisted.
func normalize(ctx context.Context, e Entry, now time.Time) Entry {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	if e.RiskLevel == "" {
		e.RiskLevel = RiskLow
	}
	meta := metaFromContext(ctx)
	if e.IP == "" {
		e.IP = meta.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = meta.UserAgent
	}
	if e.SessionID == "" {
		e.SessionID = meta.SessionID
	}
	e.ActorID = strings.TrimSpace(e.ActorID)
	return e
}
