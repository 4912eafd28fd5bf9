package perm

import (
	"context"
	"fmt"
	"strings"

	"github.com/Waesta/Wapos-sub010/internal/audit"
)

// MatrixAction is one cell of the admin grant/revoke grid.
type MatrixAction struct {
	DisplayName   string `json:"display_name"`
	IsSensitive   bool   `json:"is_sensitive"`
	HasPermission bool   `json:"has_permission"`
}

// MatrixModule groups the cells of one module row.
type MatrixModule struct {
	DisplayName string                  `json:"display_name"`
	Icon        string                  `json:"icon,omitempty"`
	Actions     map[string]MatrixAction `json:"actions"`
}

// Matrix is the read-only projection rendered by the administrative UI,
// keyed by module key.
type Matrix map[string]MatrixModule

// PermissionMatrix resolves every applicable (module, action) pair for the
// user. Cells share the user's cached view, so the projection is one
// consistent snapshot; a single permission_check entry covers the render
// rather than one per cell.
func (e *Engine) PermissionMatrix(ctx context.Context, userID string) (Matrix, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	modules, err := e.store.ListModules(ctx)
	if err != nil {
		return nil, err
	}

	matrix := make(Matrix, len(modules))
	for _, mod := range modules {
		if !mod.Active {
			continue
		}
		actions, err := e.store.ListModuleActions(ctx, mod.Key)
		if err != nil {
			return nil, err
		}
		cells := make(map[string]MatrixAction, len(actions))
		for _, act := range actions {
			granted, _, err := e.resolve(ctx, userID, mod.Key, act.Key, nil)
			if err != nil {
				return nil, err
			}
			cells[string(act.Key)] = MatrixAction{
				DisplayName:   act.DisplayName,
				IsSensitive:   act.IsSensitive,
				HasPermission: granted,
			}
		}
		matrix[string(mod.Key)] = MatrixModule{
			DisplayName: mod.DisplayName,
			Icon:        mod.Icon,
			Actions:     cells,
		}
	}

	e.audit.Record(ctx, audit.Entry{
		ActorID:   userID,
		Type:      audit.TypePermissionCheck,
		RiskLevel: audit.RiskLow,
		Details:   "permission matrix rendered",
	})
	return matrix, nil
}
