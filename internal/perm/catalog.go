package perm

import (
	"context"
	"fmt"
)

// Builtin catalog provisioned at seed time. Real deployments extend it via
// migrations; re-running the seed is safe.
const (
	ModuleSales     ModuleKey = "sales"
	ModuleInventory ModuleKey = "inventory"
	ModuleCustomers ModuleKey = "customers"
	ModuleReports   ModuleKey = "reports"
	ModuleStaff     ModuleKey = "staff"
	ModuleSettings  ModuleKey = "settings"

	ActionView              ActionKey = "view"
	ActionCreate            ActionKey = "create"
	ActionUpdate            ActionKey = "update"
	ActionDelete            ActionKey = "delete"
	ActionRefund            ActionKey = "refund"
	ActionVoid              ActionKey = "void"
	ActionExport            ActionKey = "export"
	ActionApprove           ActionKey = "approve"
	ActionManagePermissions ActionKey = "manage_permissions"
)

var BuiltinModules = []Module{
	{Key: ModuleSales, DisplayName: "Sales", Description: "Orders, receipts and refunds", Icon: "cart", SortOrder: 10, Active: true},
	{Key: ModuleInventory, DisplayName: "Inventory", Description: "Stock levels and adjustments", Icon: "boxes", SortOrder: 20, Active: true},
	{Key: ModuleCustomers, DisplayName: "Customers", Description: "Customer accounts and loyalty", Icon: "users", SortOrder: 30, Active: true},
	{Key: ModuleReports, DisplayName: "Reports", Description: "Sales and stock reporting", Icon: "chart", SortOrder: 40, Active: true},
	{Key: ModuleStaff, DisplayName: "Staff", Description: "Employees, groups and access", Icon: "badge", SortOrder: 50, Active: true},
	{Key: ModuleSettings, DisplayName: "Settings", Description: "Store configuration", Icon: "gear", SortOrder: 60, Active: true},
}

var BuiltinActions = []Action{
	{Key: ActionView, DisplayName: "View"},
	{Key: ActionCreate, DisplayName: "Create"},
	{Key: ActionUpdate, DisplayName: "Update"},
	{Key: ActionDelete, DisplayName: "Delete", IsSensitive: true},
	{Key: ActionRefund, DisplayName: "Refund", IsSensitive: true, RequiresApproval: true},
	{Key: ActionVoid, DisplayName: "Void", IsSensitive: true, RequiresApproval: true},
	{Key: ActionExport, DisplayName: "Export"},
	{Key: ActionApprove, DisplayName: "Approve", IsSensitive: true},
	{Key: ActionManagePermissions, DisplayName: "Manage permissions", IsSensitive: true},
}

// BuiltinModuleActions lists which actions apply to which modules. Edges
// flagged default are handed to newly provisioned roles automatically.
var BuiltinModuleActions = []ModuleAction{
	{Module: ModuleSales, Action: ActionView, IsDefault: true},
	{Module: ModuleSales, Action: ActionCreate, IsDefault: true},
	{Module: ModuleSales, Action: ActionUpdate},
	{Module: ModuleSales, Action: ActionDelete},
	{Module: ModuleSales, Action: ActionRefund},
	{Module: ModuleSales, Action: ActionVoid},
	{Module: ModuleInventory, Action: ActionView, IsDefault: true},
	{Module: ModuleInventory, Action: ActionCreate},
	{Module: ModuleInventory, Action: ActionUpdate},
	{Module: ModuleInventory, Action: ActionDelete},
	{Module: ModuleCustomers, Action: ActionView, IsDefault: true},
	{Module: ModuleCustomers, Action: ActionCreate},
	{Module: ModuleCustomers, Action: ActionUpdate},
	{Module: ModuleCustomers, Action: ActionDelete},
	{Module: ModuleCustomers, Action: ActionExport},
	{Module: ModuleReports, Action: ActionView},
	{Module: ModuleReports, Action: ActionExport},
	{Module: ModuleStaff, Action: ActionView},
	{Module: ModuleStaff, Action: ActionCreate},
	{Module: ModuleStaff, Action: ActionUpdate},
	{Module: ModuleStaff, Action: ActionManagePermissions},
	{Module: ModuleSettings, Action: ActionView},
	{Module: ModuleSettings, Action: ActionUpdate},
	{Module: ModuleSettings, Action: ActionApprove},
}

// Catalog exposes the read-only permission catalog and its idempotent seed.
type Catalog struct {
	store Store
}

// NewCatalog constructs a Catalog.
func NewCatalog(store Store) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: catalog store is required", ErrInvalidInput)
	}
	return &Catalog{store: store}, nil
}

// ListModules returns all modules ordered by sort order.
func (c *Catalog) ListModules(ctx context.Context) ([]Module, error) {
	return c.store.ListModules(ctx)
}

// ListActions returns the full action registry.
func (c *Catalog) ListActions(ctx context.Context) ([]Action, error) {
	return c.store.ListActions(ctx)
}

// ListModuleActions returns the actions applicable to one module.
func (c *Catalog) ListModuleActions(ctx context.Context, module string) ([]Action, error) {
	key, err := ParseModuleKey(module)
	if err != nil {
		return nil, err
	}
	return c.store.ListModuleActions(ctx, key)
}

// Seed provisions the builtin catalog. Safe to re-run on every deployment.
func (c *Catalog) Seed(ctx context.Context) error {
	return c.store.SeedCatalog(ctx, BuiltinModules, BuiltinActions, BuiltinModuleActions)
}
