package perm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/audit"
)

// Mutation endpoints assume the caller has already passed its own check for
// the staff.manage_permissions capability; the engine does not self-authorize
// its mutation API. Every mutation writes its audit entry synchronously and
// invalidates the affected cached views.

// GrantRequest describes an individual allow override.
type GrantRequest struct {
	UserID     string
	Module     string
	Action     string
	GrantedBy  string
	Conditions *Conditions
	ExpiresAt  *time.Time
	Reason     string
}

// GrantPermission upserts an allow override keyed by (user, module, action).
// Calling it twice with identical parameters leaves exactly one row.
func (e *Engine) GrantPermission(ctx context.Context, req GrantRequest) error {
	m, a, err := e.validateTarget(ctx, req.UserID, req.Module, req.Action, req.GrantedBy)
	if err != nil {
		return err
	}
	sensitive := e.actionSensitive(ctx, a)
	if sensitive && strings.TrimSpace(req.Reason) == "" {
		return fmt.Errorf("%w: a reason is required when granting sensitive action %s", ErrInvalidInput, a)
	}
	err = e.store.UpsertIndividual(ctx, IndividualPermission{
		UserID:     req.UserID,
		Module:     m,
		Action:     a,
		Type:       PermissionAllow,
		IsGranted:  true,
		Conditions: req.Conditions,
		ExpiresAt:  req.ExpiresAt,
		GrantedBy:  req.GrantedBy,
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return err
	}
	risk := audit.RiskMedium
	if sensitive {
		risk = audit.RiskHigh
	}
	e.audit.RecordSync(ctx, audit.Entry{
		ActorID:   req.GrantedBy,
		Type:      audit.TypePermissionGranted,
		Module:    string(m),
		Action:    string(a),
		RiskLevel: risk,
		Details:   fmt.Sprintf("granted to %s: %s", req.UserID, req.Reason),
	})
	e.InvalidateUser(req.UserID)
	return nil
}

// DenyRequest describes an explicit individual deny.
type DenyRequest struct {
	UserID    string
	Module    string
	Action    string
	DeniedBy  string
	ExpiresAt *time.Time
	Reason    string
}

// DenyPermission upserts a deny override. A deny beats any group grant for
// the user and is distinct from RevokePermission, which merely removes an
// override and lets group policy apply again.
func (e *Engine) DenyPermission(ctx context.Context, req DenyRequest) error {
	m, a, err := e.validateTarget(ctx, req.UserID, req.Module, req.Action, req.DeniedBy)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return fmt.Errorf("%w: a reason is required for an explicit deny", ErrInvalidInput)
	}
	err = e.store.UpsertIndividual(ctx, IndividualPermission{
		UserID:    req.UserID,
		Module:    m,
		Action:    a,
		Type:      PermissionDeny,
		IsGranted: false,
		ExpiresAt: req.ExpiresAt,
		GrantedBy: req.DeniedBy,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return err
	}
	e.audit.RecordSync(ctx, audit.Entry{
		ActorID:   req.DeniedBy,
		Type:      audit.TypePermissionChanged,
		Module:    string(m),
		Action:    string(a),
		RiskLevel: audit.RiskHigh,
		Details:   fmt.Sprintf("explicit deny for %s: %s", req.UserID, req.Reason),
	})
	e.InvalidateUser(req.UserID)
	return nil
}

// RevokePermission deletes the matching override. Group grants the user held
// before the override are not restored; they simply apply again on the next
// resolution.
func (e *Engine) RevokePermission(ctx context.Context, userID, module, action, revokedBy, reason string) error {
	m, a, err := e.validateTarget(ctx, userID, module, action, revokedBy)
	if err != nil {
		return err
	}
	if err := e.store.DeleteIndividual(ctx, userID, m, a); err != nil {
		return err
	}
	e.audit.RecordSync(ctx, audit.Entry{
		ActorID:   revokedBy,
		Type:      audit.TypePermissionChanged,
		Module:    string(m),
		Action:    string(a),
		RiskLevel: audit.RiskMedium,
		Details:   fmt.Sprintf("override revoked for %s: %s", userID, reason),
	})
	e.InvalidateUser(userID)
	return nil
}

// AddUserToGroup upserts the membership row and reactivates a soft-removed
// one.
func (e *Engine) AddUserToGroup(ctx context.Context, userID, groupID, assignedBy string, expiresAt *time.Time) error {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" || strings.TrimSpace(assignedBy) == "" {
		return fmt.Errorf("%w: user_id, group_id and assigned_by are required", ErrInvalidInput)
	}
	err := e.store.UpsertMembership(ctx, Membership{
		UserID:     userID,
		GroupID:    groupID,
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
		IsActive:   true,
	})
	if err != nil {
		return err
	}
	e.audit.RecordSync(ctx, audit.Entry{
		ActorID:   assignedBy,
		Type:      audit.TypePermissionChanged,
		RiskLevel: audit.RiskMedium,
		Details:   fmt.Sprintf("added %s to group %s", userID, groupID),
	})
	e.InvalidateUser(userID)
	return nil
}

// RemoveUserFromGroup soft-deactivates the membership row.
func (e *Engine) RemoveUserFromGroup(ctx context.Context, userID, groupID, removedBy, reason string) error {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" || strings.TrimSpace(removedBy) == "" {
		return fmt.Errorf("%w: user_id, group_id and removed_by are required", ErrInvalidInput)
	}
	if err := e.store.DeactivateMembership(ctx, userID, groupID); err != nil {
		return err
	}
	e.audit.RecordSync(ctx, audit.Entry{
		ActorID:   removedBy,
		Type:      audit.TypePermissionChanged,
		RiskLevel: audit.RiskMedium,
		Details:   fmt.Sprintf("removed %s from group %s: %s", userID, groupID, reason),
	})
	e.InvalidateUser(userID)
	return nil
}

// SetGroupPermission upserts a (module, action) grant for a group. Affects an
// unknown set of users, so every cached view is dropped.
func (e *Engine) SetGroupPermission(ctx context.Context, groupID string, module, action string, isGranted bool, conditions *Conditions, grantedBy string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" || strings.TrimSpace(grantedBy) == "" {
		return fmt.Errorf("%w: group_id and granted_by are required", ErrInvalidInput)
	}
	m, a, err := e.parseCatalogPair(ctx, module, action)
	if err != nil {
		return err
	}
	err = e.store.UpsertGroupPermission(ctx, GroupPermission{
		GroupID:    groupID,
		Module:     m,
		Action:     a,
		IsGranted:  isGranted,
		Conditions: conditions,
		GrantedBy:  grantedBy,
	})
	if err != nil {
		return err
	}
	e.audit.RecordSync(ctx, audit.Entry{
		ActorID:   grantedBy,
		Type:      audit.TypePermissionChanged,
		Module:    string(m),
		Action:    string(a),
		RiskLevel: audit.RiskMedium,
		Details:   fmt.Sprintf("group %s grant set (granted=%t)", groupID, isGranted),
	})
	e.invalidateAll()
	return nil
}

// PurgeExpired removes individual overrides whose expiry has passed. Expired
// rows are already inert; this is housekeeping, not a policy change.
func (e *Engine) PurgeExpired(ctx context.Context, purgedBy string) (int64, error) {
	n, err := e.store.PurgeExpiredIndividual(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.audit.RecordSync(ctx, audit.Entry{
			ActorID:   purgedBy,
			Type:      audit.TypePermissionChanged,
			RiskLevel: audit.RiskLow,
			Details:   fmt.Sprintf("purged %d expired overrides", n),
		})
		e.invalidateAll()
	}
	return n, nil
}

// validateTarget parses and validates the mutation target. A key that is not
// in the catalog is a configuration defect and fails loudly rather than
// silently denying.
func (e *Engine) validateTarget(ctx context.Context, userID, module, action, actor string) (ModuleKey, ActionKey, error) {
	if strings.TrimSpace(userID) == "" {
		return "", "", fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(actor) == "" {
		return "", "", fmt.Errorf("%w: acting user is required", ErrInvalidInput)
	}
	return e.parseCatalogPair(ctx, module, action)
}

func (e *Engine) parseCatalogPair(ctx context.Context, module, action string) (ModuleKey, ActionKey, error) {
	m, err := ParseModuleKey(module)
	if err != nil {
		return "", "", err
	}
	a, err := ParseActionKey(action)
	if err != nil {
		return "", "", err
	}
	ok, err := e.store.ModuleActionExists(ctx, m, a)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("%w: %s.%s is not in the catalog", ErrUnknownAction, m, a)
	}
	return m, a, nil
}
