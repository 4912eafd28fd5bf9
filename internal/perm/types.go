package perm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput  = errors.New("perm: invalid input")
	ErrNotFound      = errors.New("perm: not found")
	ErrConflict      = errors.New("perm: resource conflict")
	ErrAccessDenied  = errors.New("perm: access denied")
	ErrUnknownModule = errors.New("perm: unknown module")
	ErrUnknownAction = errors.New("perm: unknown action")
)

// ModuleKey identifies a business capability area (e.g. "sales", "inventory").
type ModuleKey string

// ActionKey identifies a verb within a module (e.g. "view", "refund").
type ActionKey string

// ParseModuleKey validates and interns a module key at the boundary.
func ParseModuleKey(s string) (ModuleKey, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if !validKey(s) {
		return "", fmt.Errorf("%w: module key %q", ErrInvalidInput, s)
	}
	return ModuleKey(s), nil
}

// ParseActionKey validates and interns an action key at the boundary.
func ParseActionKey(s string) (ActionKey, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if !validKey(s) {
		return "", fmt.Errorf("%w: action key %q", ErrInvalidInput, s)
	}
	return ActionKey(s), nil
}

// validKey accepts lowercase snake_case identifiers up to 64 bytes.
func validKey(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			continue
		}
		if c == '_' || (c >= '0' && c <= '9') {
			if i == 0 {
				return false
			}
			continue
		}
		return false
	}
	return true
}

// Module is a business capability area gated by permissions.
type Module struct {
	Key         ModuleKey `json:"key"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	SortOrder   int       `json:"sort_order"`
	Active      bool      `json:"active"`
}

// Action is a verb applicable across modules.
type Action struct {
	Key              ActionKey `json:"key"`
	DisplayName      string    `json:"display_name"`
	Description      string    `json:"description,omitempty"`
	IsSensitive      bool      `json:"is_sensitive"`
	RequiresApproval bool      `json:"requires_approval"`
}

// ModuleAction declares that an action applies to a module. IsDefault marks
// edges newly provisioned roles receive automatically.
type ModuleAction struct {
	Module    ModuleKey `json:"module"`
	Action    ActionKey `json:"action"`
	IsDefault bool      `json:"is_default"`
}

// Group is a named bundle of grants.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupPermission grants (module, action) to a group.
type GroupPermission struct {
	GroupID    string      `json:"group_id"`
	Module     ModuleKey   `json:"module"`
	Action     ActionKey   `json:"action"`
	IsGranted  bool        `json:"is_granted"`
	Conditions *Conditions `json:"conditions,omitempty"`
	GrantedBy  string      `json:"granted_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Membership links a user to a group. Effective only while IsActive and not
// past ExpiresAt (nil means permanent).
type Membership struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	GroupID    string     `json:"group_id"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Effective reports whether the membership is active and unexpired at now.
func (m Membership) Effective(now time.Time) bool {
	if !m.IsActive {
		return false
	}
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}

// PermissionType distinguishes an individual allow from an explicit deny.
type PermissionType string

const (
	PermissionAllow PermissionType = "allow"
	PermissionDeny  PermissionType = "deny"
)

// IndividualPermission is a per-user override of (module, action). An
// unexpired deny row beats any group grant; expired rows are inert but kept
// until purged.
type IndividualPermission struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Module     ModuleKey      `json:"module"`
	Action     ActionKey      `json:"action"`
	Type       PermissionType `json:"permission_type"`
	IsGranted  bool           `json:"is_granted"`
	Conditions *Conditions    `json:"conditions,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	GrantedBy  string         `json:"granted_by,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Expired reports whether the override has lapsed at now.
func (p IndividualPermission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// Resource describes the target of an amount- or location-gated check.
// Amount is in minor units (e.g. cents). No floats.
type Resource struct {
	Location string `json:"location,omitempty"`
	Amount   *int64 `json:"amount,omitempty"`
}

func permKey(m ModuleKey, a ActionKey) string {
	return string(m) + ":" + string(a)
}
