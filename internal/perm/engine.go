package perm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/audit"
	"github.com/Waesta/Wapos-sub010/internal/obs"
)

// Auditor receives the engine's decision and mutation trail. Record is the
// fire-and-forget hot path; RecordSync must not return until the entry has
// been handed to storage.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
	RecordSync(ctx context.Context, e audit.Entry)
}

// DefaultElevatedRoles bypass policy resolution entirely. Break-glass access
// for operational accounts; immune to group and individual overrides.
var DefaultElevatedRoles = []string{"super_admin", "admin", "developer"}

// Engine resolves permission checks and applies administrative mutations.
// Construct one per request: the per-user view cache is never shared across
// requests, so concurrent administrative changes become visible to new
// requests only.
type Engine struct {
	store    Store
	audit    Auditor
	elevated map[string]struct{}
	now      func() time.Time
	location func(ctx context.Context) string
	role     func(ctx context.Context, userID string) string

	// invoked after a mutation commits, so longer-lived callers can drop
	// their own derived state for the affected user ("" means all users)
	onInvalidate func(userID string)

	mu      sync.RWMutex
	views   map[string]*userView
	actions map[ActionKey]Action
}

// userView is one user's policy snapshot, loaded at most once per engine
// instance. All checks against the same view are read-consistent.
type userView struct {
	role       string
	individual map[string]IndividualPermission
	groups     map[string][]GroupPermission
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for condition evaluation and
// expiry checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocationProvider supplies the user's current operating location for
// location-restricted grants.
func WithLocationProvider(f func(ctx context.Context) string) Option {
	return func(e *Engine) {
		if f != nil {
			e.location = f
		}
	}
}

// WithRoleProvider supplies the user's role from the caller's authentication
// context (e.g. a signed token claim). A non-empty value takes precedence over
// the stored role; an empty one falls back to the store.
func WithRoleProvider(f func(ctx context.Context, userID string) string) Option {
	return func(e *Engine) {
		if f != nil {
			e.role = f
		}
	}
}

// WithElevatedRoles replaces the role-bypass set.
func WithElevatedRoles(roles ...string) Option {
	return func(e *Engine) {
		e.elevated = make(map[string]struct{}, len(roles))
		for _, r := range roles {
			e.elevated[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
		}
	}
}

// WithInvalidationHook registers a callback fired after every mutation.
func WithInvalidationHook(f func(userID string)) Option {
	return func(e *Engine) { e.onInvalidate = f }
}

// NewEngine constructs an Engine.
func NewEngine(store Store, auditor Auditor, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: engine store is required", ErrInvalidInput)
	}
	if auditor == nil {
		return nil, fmt.Errorf("%w: engine auditor is required", ErrInvalidInput)
	}
	e := &Engine{
		store:    store,
		audit:    auditor,
		now:      time.Now,
		location: func(context.Context) string { return "" },
		role:     func(context.Context, string) string { return "" },
		views:    make(map[string]*userView),
	}
	WithElevatedRoles(DefaultElevatedRoles...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HasPermission reports whether userID may perform (module, action) against
// res. Every call writes exactly one audit entry. A storage failure denies:
// the engine never grants access it cannot verify.
func (e *Engine) HasPermission(ctx context.Context, userID, module, action string, res *Resource) bool {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		e.logDecision(ctx, "", module, action, false, "missing user id", false)
		return false
	}
	m, err := ParseModuleKey(module)
	if err != nil {
		e.logDecision(ctx, userID, module, action, false, "invalid module key", false)
		return false
	}
	a, err := ParseActionKey(action)
	if err != nil {
		e.logDecision(ctx, userID, module, action, false, "invalid action key", false)
		return false
	}

	granted, reason, err := e.resolve(ctx, userID, m, a, res)
	sensitive := e.actionSensitive(ctx, a)
	if err != nil {
		// fail closed
		obs.LogEvent(map[string]any{
			"level":  "error",
			"msg":    "permission resolution failed, denying",
			"user":   userID,
			"module": string(m),
			"action": string(a),
			"error":  err.Error(),
		})
		e.logDecision(ctx, userID, string(m), string(a), false, "storage error", sensitive)
		return false
	}
	e.logDecision(ctx, userID, string(m), string(a), granted, reason, sensitive)
	return granted
}

// RequirePermission wraps HasPermission for hard gating. On denial it records
// an additional policy_violation entry and returns ErrAccessDenied; callers
// surface it without detail about why.
func (e *Engine) RequirePermission(ctx context.Context, userID, module, action string, res *Resource) error {
	if e.HasPermission(ctx, userID, module, action, res) {
		return nil
	}
	e.audit.Record(ctx, audit.Entry{
		ActorID:   userID,
		Type:      audit.TypePolicyViolation,
		Module:    strings.TrimSpace(strings.ToLower(module)),
		Action:    strings.TrimSpace(strings.ToLower(action)),
		RiskLevel: audit.RiskHigh,
		Details:   "operation blocked by policy",
	})
	return fmt.Errorf("%w: %s.%s", ErrAccessDenied, module, action)
}

// resolve applies the precedence order: role bypass, individual override,
// group grants (any active grant wins), default deny.
func (e *Engine) resolve(ctx context.Context, userID string, m ModuleKey, a ActionKey, res *Resource) (bool, string, error) {
	view, err := e.loadView(ctx, userID)
	if err != nil {
		return false, "", err
	}
	if _, ok := e.elevated[view.role]; ok {
		return true, "role bypass: " + view.role, nil
	}

	now := e.now()
	loc := e.location(ctx)
	key := permKey(m, a)

	if p, ok := view.individual[key]; ok && !p.Expired(now) {
		if p.Type == PermissionDeny {
			return false, "individual deny", nil
		}
		if !p.Conditions.Evaluate(now, loc, res) {
			return false, "individual grant condition failed", nil
		}
		if p.IsGranted {
			return true, "individual grant", nil
		}
		return false, "individual grant inactive", nil
	}

	grants := view.groups[key]
	for _, gp := range grants {
		if gp.IsGranted && gp.Conditions.Evaluate(now, loc, res) {
			return true, "group grant: " + gp.GroupID, nil
		}
	}
	if len(grants) > 0 {
		return false, "group grant condition failed", nil
	}
	return false, "no matching grant", nil
}

// loadView returns the user's cached policy snapshot, loading it once per
// engine instance.
func (e *Engine) loadView(ctx context.Context, userID string) (*userView, error) {
	e.mu.RLock()
	view, ok := e.views[userID]
	e.mu.RUnlock()
	if ok {
		return view, nil
	}

	role := e.role(ctx, userID)
	if role == "" {
		stored, err := e.store.UserRole(ctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		role = stored
	}
	grants, err := e.store.GroupGrants(ctx, userID, e.now())
	if err != nil {
		return nil, err
	}
	overrides, err := e.store.IndividualGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	view = &userView{
		role:       strings.ToLower(strings.TrimSpace(role)),
		individual: make(map[string]IndividualPermission, len(overrides)),
		groups:     make(map[string][]GroupPermission),
	}
	for _, p := range overrides {
		view.individual[permKey(p.Module, p.Action)] = p
	}
	for _, gp := range grants {
		k := permKey(gp.Module, gp.Action)
		view.groups[k] = append(view.groups[k], gp)
	}

	e.mu.Lock()
	e.views[userID] = view
	e.mu.Unlock()
	return view, nil
}

// InvalidateUser drops the cached view for one user.
func (e *Engine) InvalidateUser(userID string) {
	e.mu.Lock()
	delete(e.views, userID)
	e.mu.Unlock()
	if e.onInvalidate != nil {
		e.onInvalidate(userID)
	}
}

// invalidateAll drops every cached view; used after group-level mutations
// that affect an unknown set of users.
func (e *Engine) invalidateAll() {
	e.mu.Lock()
	e.views = make(map[string]*userView)
	e.mu.Unlock()
	if e.onInvalidate != nil {
		e.onInvalidate("")
	}
}

// actionSensitive consults the catalog for risk tagging; best effort only.
func (e *Engine) actionSensitive(ctx context.Context, a ActionKey) bool {
	e.mu.RLock()
	actions := e.actions
	e.mu.RUnlock()
	if actions == nil {
		loaded, err := e.store.ListActions(ctx)
		if err != nil {
			return false
		}
		actions = make(map[ActionKey]Action, len(loaded))
		for _, act := range loaded {
			actions[act.Key] = act
		}
		e.mu.Lock()
		e.actions = actions
		e.mu.Unlock()
	}
	return actions[a].IsSensitive
}

func (e *Engine) logDecision(ctx context.Context, userID, module, action string, granted bool, reason string, sensitive bool) {
	entry := audit.Entry{
		ActorID: userID,
		Module:  strings.TrimSpace(strings.ToLower(module)),
		Action:  strings.TrimSpace(strings.ToLower(action)),
		Details: reason,
	}
	if granted {
		entry.Type = audit.TypePermissionCheck
		entry.RiskLevel = audit.RiskLow
		if sensitive {
			entry.RiskLevel = audit.RiskMedium
		}
		obs.ObservePermissionCheck("granted")
	} else {
		entry.Type = audit.TypePermissionDenied
		entry.RiskLevel = audit.RiskMedium
		if sensitive {
			entry.RiskLevel = audit.RiskHigh
		}
		obs.ObservePermissionCheck("denied")
	}
	e.audit.Record(ctx, entry)
}
