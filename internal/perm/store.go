package perm

import (
	"context"
	"time"
)

// Store describes persistence operations required by the permission engine.
// Implementations must enforce the uniqueness invariants: one module_actions
// edge per (module, action), one group_permissions row per (group, module,
// action), one individual_permissions row per (user, module, action), one
// membership row per (user, group). Upserts rely on the storage layer's
// native insert-or-update atomicity so concurrent administrators cannot
// produce duplicate grant rows.
type Store interface {
	// Catalog. SeedCatalog is an idempotent upsert: insert-if-absent,
	// update-if-changed, and it must not clobber fields it does not own
	// (module active flags survive re-seeding).
	ListModules(ctx context.Context) ([]Module, error)
	ListActions(ctx context.Context) ([]Action, error)
	ListModuleActions(ctx context.Context, module ModuleKey) ([]Action, error)
	ModuleActionExists(ctx context.Context, module ModuleKey, action ActionKey) (bool, error)
	SeedCatalog(ctx context.Context, modules []Module, actions []Action, edges []ModuleAction) error

	// Resolution reads. GroupGrants returns only rows reachable through
	// active groups and effective memberships at now.
	UserRole(ctx context.Context, userID string) (string, error)
	GroupGrants(ctx context.Context, userID string, now time.Time) ([]GroupPermission, error)
	IndividualGrants(ctx context.Context, userID string) ([]IndividualPermission, error)

	// Individual overrides.
	UpsertIndividual(ctx context.Context, p IndividualPermission) error
	DeleteIndividual(ctx context.Context, userID string, module ModuleKey, action ActionKey) error
	PurgeExpiredIndividual(ctx context.Context, before time.Time) (int64, error)

	// Groups and group grants.
	CreateGroup(ctx context.Context, g Group) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, groupID string) (Group, error)
	UpsertGroupPermission(ctx context.Context, gp GroupPermission) error
	DeleteGroupPermission(ctx context.Context, groupID string, module ModuleKey, action ActionKey) error

	// Group membership.
	UpsertMembership(ctx context.Context, m Membership) error
	DeactivateMembership(ctx context.Context, userID, groupID string) error
}
