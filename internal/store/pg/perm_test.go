package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Waesta/Wapos-sub010/internal/perm"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertIndividual(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into individual_permissions").
		WithArgs(sqlmock.AnyArg(), "u1", "sales", "refund", "allow", true,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertIndividual(context.Background(), perm.IndividualPermission{
		UserID: "u1", Module: "sales", Action: "refund",
		Type: perm.PermissionAllow, IsGranted: true,
		GrantedBy: "admin-1", Reason: "cover",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	expectMet(t, mock)
}

func TestUpsertIndividualUnknownUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into individual_permissions").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := s.UpsertIndividual(context.Background(), perm.IndividualPermission{
		UserID: "ghost", Module: "sales", Action: "view",
		Type: perm.PermissionAllow, IsGranted: true,
	})
	if !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("fk violation must map to ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestDeleteIndividualNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("delete from individual_permissions").
		WithArgs("u1", "sales", "refund").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteIndividual(context.Background(), "u1", "sales", "refund")
	if !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("want ErrNotFound for zero rows, got %v", err)
	}
	expectMet(t, mock)
}

func TestUserRole(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select role from users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("manager"))

	role, err := s.UserRole(context.Background(), "u1")
	if err != nil || role != "manager" {
		t.Fatalf("want manager, got %q, %v", role, err)
	}

	mock.ExpectQuery("select role from users").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.UserRole(context.Background(), "ghost"); !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestGroupGrants(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"group_id", "module_key", "action_key", "is_granted", "conditions", "granted_by", "created_at"}).
		AddRow("g1", "sales", "refund", true, []byte(`{"amount_limit":1000}`), "admin-1", now).
		AddRow("g1", "sales", "view", true, nil, nil, now)

	mock.ExpectQuery("from user_group_memberships").
		WithArgs("u1", now).
		WillReturnRows(rows)

	grants, err := s.GroupGrants(context.Background(), "u1", now)
	if err != nil {
		t.Fatalf("group grants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("want 2 grants, got %d", len(grants))
	}
	if grants[0].Conditions == nil || grants[0].Conditions.AmountLimit == nil || *grants[0].Conditions.AmountLimit != 1000 {
		t.Fatalf("conditions must decode, got %+v", grants[0].Conditions)
	}
	if grants[1].Conditions != nil {
		t.Fatalf("null conditions must decode to nil, got %+v", grants[1].Conditions)
	}
	expectMet(t, mock)
}

func TestIndividualGrants(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "module_key", "action_key", "permission_type", "is_granted",
		"conditions", "expires_at", "granted_by", "reason", "created_at", "updated_at",
	}).AddRow("p1", "u1", "sales", "refund", "deny", false, nil, expires, "admin-1", "review", now, now)

	mock.ExpectQuery("from individual_permissions").
		WithArgs("u1").
		WillReturnRows(rows)

	grants, err := s.IndividualGrants(context.Background(), "u1")
	if err != nil {
		t.Fatalf("individual grants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("want 1 grant, got %d", len(grants))
	}
	p := grants[0]
	if p.Type != perm.PermissionDeny || p.ExpiresAt == nil || !p.ExpiresAt.Equal(expires) {
		t.Fatalf("scan mismatch: %+v", p)
	}
	if p.GrantedBy != "admin-1" || p.Reason != "review" {
		t.Fatalf("nullable strings must unwrap, got %+v", p)
	}
	expectMet(t, mock)
}

func TestCreateGroupConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("insert into permission_groups").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.CreateGroup(context.Background(), perm.Group{Name: "Cashiers", Active: true})
	if !errors.Is(err, perm.ErrConflict) {
		t.Fatalf("duplicate name must map to ErrConflict, got %v", err)
	}
	expectMet(t, mock)
}

func TestModuleActionExists(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("select 1 from module_actions").
		WithArgs("sales", "refund").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := s.ModuleActionExists(ctx, "sales", "refund")
	if err != nil || !ok {
		t.Fatalf("want true, got %t, %v", ok, err)
	}

	mock.ExpectQuery("select 1 from module_actions").
		WithArgs("sales", "fly").
		WillReturnError(sql.ErrNoRows)

	ok, err = s.ModuleActionExists(ctx, "sales", "fly")
	if err != nil || ok {
		t.Fatalf("missing edge must be false without error, got %t, %v", ok, err)
	}
	expectMet(t, mock)
}

func TestSeedCatalogTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into modules").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into actions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into module_actions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.SeedCatalog(context.Background(),
		[]perm.Module{{Key: "sales", DisplayName: "Sales", Active: true}},
		[]perm.Action{{Key: "view", DisplayName: "View"}},
		[]perm.ModuleAction{{Module: "sales", Action: "view", IsDefault: true}},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	expectMet(t, mock)
}

func TestSeedCatalogRollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into modules").
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := s.SeedCatalog(context.Background(),
		[]perm.Module{{Key: "sales", DisplayName: "Sales", Active: true}}, nil, nil)
	if err == nil {
		t.Fatal("seed must surface the exec failure")
	}
	expectMet(t, mock)
}

func TestDeactivateMembership(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update user_group_memberships").
		WithArgs("u1", "g1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.DeactivateMembership(ctx, "u1", "g1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	mock.ExpectExec("update user_group_memberships").
		WithArgs("u1", "g2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeactivateMembership(ctx, "u1", "g2"); !errors.Is(err, perm.ErrNotFound) {
		t.Fatalf("missing membership must be ErrNotFound, got %v", err)
	}
	expectMet(t, mock)
}

func TestPurgeExpiredIndividual(t *testing.T) {
	s, mock := newMockStore(t)
	before := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`delete from individual_permissions\s+where expires_at is not null and expires_at <= \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeExpiredIndividual(context.Background(), before)
	if err != nil || n != 3 {
		t.Fatalf("want 3 purged, got %d, %v", n, err)
	}
	expectMet(t, mock)
}
