package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Waesta/Wapos-sub010/internal/audit"
)

func TestAuditAppend(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("insert into audit_log").
		WithArgs("a1", "u1", "permission_denied", "sales", "refund",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "high", "no matching grant", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Append(context.Background(), audit.Entry{
		ID: "a1", ActorID: "u1", Type: audit.TypePermissionDenied,
		Module: "sales", Action: "refund",
		RiskLevel: audit.RiskHigh, Details: "no matching grant", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	expectMet(t, mock)
}

func TestAuditQueryNoFilter(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "actor_id", "action_type", "module_key", "action_key",
		"ip", "user_agent", "session_id", "risk_level", "details", "created_at",
	}).AddRow("a1", "u1", "permission_check", "sales", "view", nil, nil, nil, "low", nil, now)

	mock.ExpectQuery("from audit_log").
		WithArgs(100).
		WillReturnRows(rows)

	got, err := s.Query(context.Background(), audit.Filter{}, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" || got[0].IP != "" {
		t.Fatalf("scan mismatch: %+v", got)
	}
	expectMet(t, mock)
}

func TestAuditQueryBuildsWhereClause(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "actor_id", "action_type", "module_key", "action_key",
		"ip", "user_agent", "session_id", "risk_level", "details", "created_at",
	})

	mock.ExpectQuery(`actor_id = \$1 and action_type = \$2 and created_at >= \$3 order by created_at desc limit \$4`).
		WithArgs("u1", audit.TypePermissionDenied, since, 50).
		WillReturnRows(rows)

	_, err := s.Query(context.Background(), audit.Filter{
		ActorID: "u1",
		Type:    audit.TypePermissionDenied,
		Since:   since,
	}, 50)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	expectMet(t, mock)
}
