package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Waesta/Wapos-sub010/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// Append inserts one immutable audit row. The engine never updates or deletes
// entries; retention is an external concern.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log
			(id, actor_id, action_type, module_key, action_key, ip, user_agent, session_id, risk_level, details, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, nullIfEmpty(e.ActorID), e.Type, nullIfEmpty(e.Module), nullIfEmpty(e.Action),
		nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), nullIfEmpty(e.SessionID),
		e.RiskLevel, nullIfEmpty(e.Details), e.CreatedAt)
	return err
}

// Query returns entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var (
		where []string
		args  []any
		idx   = 1
	)
	add := func(clause string, value any) {
		where = append(where, fmt.Sprintf(clause, idx))
		args = append(args, value)
		idx++
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Type != "" {
		add("action_type = $%d", f.Type)
	}
	if f.RiskLevel != "" {
		add("risk_level = $%d", f.RiskLevel)
	}
	if f.Module != "" {
		add("module_key = $%d", f.Module)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at <= $%d", f.Until)
	}

	query := `
		select id, actor_id, action_type, module_key, action_key, ip, user_agent, session_id, risk_level, details, created_at
		from audit_log
	`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += fmt.Sprintf(" order by created_at desc limit $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e                                          audit.Entry
			actor, module, action, ip, ua, sid, detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &actor, &e.Type, &module, &action, &ip, &ua, &sid, &e.RiskLevel, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = actor.String
		e.Module = module.String
		e.Action = action.String
		e.IP = ip.String
		e.UserAgent = ua.String
		e.SessionID = sid.String
		e.Details = detail.String
		result = append(result, e)
	}
	return result, rows.Err()
}
