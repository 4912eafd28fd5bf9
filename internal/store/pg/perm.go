package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/ids"
	"github.com/Waesta/Wapos-sub010/internal/perm"
)

var _ perm.Store = (*Store)(nil)

func (s *Store) ListModules(ctx context.Context) ([]perm.Module, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, display_name, description, icon, sort_order, active
		from modules
		order by sort_order, key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []perm.Module
	for rows.Next() {
		var (
			m          perm.Module
			desc, icon sql.NullString
		)
		if err := rows.Scan(&m.Key, &m.DisplayName, &desc, &icon, &m.SortOrder, &m.Active); err != nil {
			return nil, err
		}
		m.Description = desc.String
		m.Icon = icon.String
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) ListActions(ctx context.Context) ([]perm.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, display_name, description, is_sensitive, requires_approval
		from actions
		order by key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

func (s *Store) ListModuleActions(ctx context.Context, module perm.ModuleKey) ([]perm.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		select a.key, a.display_name, a.description, a.is_sensitive, a.requires_approval
		from module_actions ma
		join actions a on a.key = ma.action_key
		where ma.module_key = $1
		order by a.key
	`, module)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActions(rows)
}

func scanActions(rows *sql.Rows) ([]perm.Action, error) {
	var result []perm.Action
	for rows.Next() {
		var (
			a    perm.Action
			desc sql.NullString
		)
		if err := rows.Scan(&a.Key, &a.DisplayName, &desc, &a.IsSensitive, &a.RequiresApproval); err != nil {
			return nil, err
		}
		a.Description = desc.String
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) ModuleActionExists(ctx context.Context, module perm.ModuleKey, action perm.ActionKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from module_actions where module_key = $1 and action_key = $2
	`, module, action).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SeedCatalog upserts the catalog inside one transaction. The module active
// flag is operator-owned after first provisioning, so re-seeding leaves it
// alone.
func (s *Store) SeedCatalog(ctx context.Context, modules []perm.Module, actions []perm.Action, edges []perm.ModuleAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range modules {
		if _, err := tx.ExecContext(ctx, `
			insert into modules (key, display_name, description, icon, sort_order, active)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (key) do update
			set display_name = excluded.display_name,
			    description  = excluded.description,
			    icon         = excluded.icon,
			    sort_order   = excluded.sort_order
		`, m.Key, m.DisplayName, nullIfEmpty(m.Description), nullIfEmpty(m.Icon), m.SortOrder, m.Active); err != nil {
			return fmt.Errorf("seed module %s: %w", m.Key, err)
		}
	}
	for _, a := range actions {
		if _, err := tx.ExecContext(ctx, `
			insert into actions (key, display_name, description, is_sensitive, requires_approval)
			values ($1, $2, $3, $4, $5)
			on conflict (key) do update
			set display_name      = excluded.display_name,
			    description       = excluded.description,
			    is_sensitive      = excluded.is_sensitive,
			    requires_approval = excluded.requires_approval
		`, a.Key, a.DisplayName, nullIfEmpty(a.Description), a.IsSensitive, a.RequiresApproval); err != nil {
			return fmt.Errorf("seed action %s: %w", a.Key, err)
		}
	}
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `
			insert into module_actions (module_key, action_key, is_default)
			values ($1, $2, $3)
			on conflict (module_key, action_key) do update
			set is_default = excluded.is_default
		`, e.Module, e.Action, e.IsDefault); err != nil {
			return fmt.Errorf("seed edge %s.%s: %w", e.Module, e.Action, err)
		}
	}
	return tx.Commit()
}

func (s *Store) UserRole(ctx context.Context, userID string) (string, error) {
	var role sql.NullString
	err := s.db.QueryRowContext(ctx, `select role from users where id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", perm.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return role.String, nil
}

func (s *Store) GroupGrants(ctx context.Context, userID string, now time.Time) ([]perm.GroupPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select gp.group_id, gp.module_key, gp.action_key, gp.is_granted, gp.conditions, gp.granted_by, gp.created_at
		from user_group_memberships m
		join permission_groups g on g.id = m.group_id and g.active
		join group_permissions gp on gp.group_id = m.group_id
		where m.user_id = $1
		  and m.is_active
		  and (m.expires_at is null or m.expires_at > $2)
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []perm.GroupPermission
	for rows.Next() {
		var (
			gp       perm.GroupPermission
			rawConds []byte
			by       sql.NullString
		)
		if err := rows.Scan(&gp.GroupID, &gp.Module, &gp.Action, &gp.IsGranted, &rawConds, &by, &gp.CreatedAt); err != nil {
			return nil, err
		}
		gp.GrantedBy = by.String
		if gp.Conditions, err = decodeConditions(rawConds); err != nil {
			return nil, err
		}
		result = append(result, gp)
	}
	return result, rows.Err()
}

func (s *Store) IndividualGrants(ctx context.Context, userID string) ([]perm.IndividualPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, module_key, action_key, permission_type, is_granted,
		       conditions, expires_at, granted_by, reason, created_at, updated_at
		from individual_permissions
		where user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []perm.IndividualPermission
	for rows.Next() {
		var (
			p          perm.IndividualPermission
			rawConds   []byte
			expires    sql.NullTime
			by, reason sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Module, &p.Action, &p.Type, &p.IsGranted,
			&rawConds, &expires, &by, &reason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time
			p.ExpiresAt = &t
		}
		p.GrantedBy = by.String
		p.Reason = reason.String
		if p.Conditions, err = decodeConditions(rawConds); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) UpsertIndividual(ctx context.Context, p perm.IndividualPermission) error {
	conds, err := encodeConditions(p.Conditions)
	if err != nil {
		return err
	}
	id := p.ID
	if id == "" {
		id = ids.New()
	}
	_, err = s.db.ExecContext(ctx, `
		insert into individual_permissions
			(id, user_id, module_key, action_key, permission_type, is_granted, conditions, expires_at, granted_by, reason)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		on conflict (user_id, module_key, action_key) do update
		set permission_type = excluded.permission_type,
		    is_granted      = excluded.is_granted,
		    conditions      = excluded.conditions,
		    expires_at      = excluded.expires_at,
		    granted_by      = excluded.granted_by,
		    reason          = excluded.reason,
		    updated_at      = now()
	`, id, p.UserID, p.Module, p.Action, p.Type, p.IsGranted, conds,
		nullTime(p.ExpiresAt), nullIfEmpty(p.GrantedBy), nullIfEmpty(p.Reason))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return perm.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) DeleteIndividual(ctx context.Context, userID string, module perm.ModuleKey, action perm.ActionKey) error {
	res, err := s.db.ExecContext(ctx, `
		delete from individual_permissions
		where user_id = $1 and module_key = $2 and action_key = $3
	`, userID, module, action)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return perm.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeExpiredIndividual(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from individual_permissions
		where expires_at is not null and expires_at <= $1
	`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CreateGroup(ctx context.Context, g perm.Group) (perm.Group, error) {
	id := g.ID
	if id == "" {
		id = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into permission_groups (id, name, description, color, active)
		values ($1, $2, $3, $4, $5)
		returning id, name, description, color, active, created_at, updated_at
	`, id, g.Name, nullIfEmpty(g.Description), nullIfEmpty(g.Color), g.Active)
	var (
		out         perm.Group
		desc, color sql.NullString
	)
	if err := row.Scan(&out.ID, &out.Name, &desc, &color, &out.Active, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return perm.Group{}, perm.ErrConflict
		}
		return perm.Group{}, err
	}
	out.Description = desc.String
	out.Color = color.String
	return out, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]perm.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, color, active, created_at, updated_at
		from permission_groups
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []perm.Group
	for rows.Next() {
		var (
			g           perm.Group
			desc, color sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.Name, &desc, &color, &g.Active, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Description = desc.String
		g.Color = color.String
		result = append(result, g)
	}
	return result, rows.Err()
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (perm.Group, error) {
	var (
		g           perm.Group
		desc, color sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, color, active, created_at, updated_at
		from permission_groups
		where id = $1
	`, groupID).Scan(&g.ID, &g.Name, &desc, &color, &g.Active, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return perm.Group{}, perm.ErrNotFound
	}
	if err != nil {
		return perm.Group{}, err
	}
	g.Description = desc.String
	g.Color = color.String
	return g, nil
}

func (s *Store) UpsertGroupPermission(ctx context.Context, gp perm.GroupPermission) error {
	conds, err := encodeConditions(gp.Conditions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into group_permissions (group_id, module_key, action_key, is_granted, conditions, granted_by)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (group_id, module_key, action_key) do update
		set is_granted = excluded.is_granted,
		    conditions = excluded.conditions,
		    granted_by = excluded.granted_by
	`, gp.GroupID, gp.Module, gp.Action, gp.IsGranted, conds, nullIfEmpty(gp.GrantedBy))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return perm.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) DeleteGroupPermission(ctx context.Context, groupID string, module perm.ModuleKey, action perm.ActionKey) error {
	res, err := s.db.ExecContext(ctx, `
		delete from group_permissions
		where group_id = $1 and module_key = $2 and action_key = $3
	`, groupID, module, action)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return perm.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertMembership(ctx context.Context, m perm.Membership) error {
	id := m.ID
	if id == "" {
		id = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_group_memberships (id, user_id, group_id, assigned_by, expires_at, is_active)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id, group_id) do update
		set assigned_by = excluded.assigned_by,
		    expires_at  = excluded.expires_at,
		    is_active   = excluded.is_active,
		    updated_at  = now()
	`, id, m.UserID, m.GroupID, nullIfEmpty(m.AssignedBy), nullTime(m.ExpiresAt), m.IsActive)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return perm.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) DeactivateMembership(ctx context.Context, userID, groupID string) error {
	res, err := s.db.ExecContext(ctx, `
		update user_group_memberships
		set is_active = false, updated_at = now()
		where user_id = $1 and group_id = $2
	`, userID, groupID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return perm.ErrNotFound
	}
	return nil
}

func encodeConditions(c *perm.Conditions) ([]byte, error) {
	if c.Empty() {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}
	return data, nil
}

func decodeConditions(raw []byte) (*perm.Conditions, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c perm.Conditions
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	if c.Empty() {
		return nil, nil
	}
	return &c, nil
}
