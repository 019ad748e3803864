package pg

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"amana.org/internal/authz"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestIsPlatformAdmin(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select 1 from platform_admins`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := store.IsPlatformAdmin(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("IsPlatformAdmin: %v", err)
	}
	if !ok {
		t.Fatal("expected platform admin")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestIsPlatformAdminAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select 1 from platform_admins`).
		WithArgs("u-2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	ok, err := store.IsPlatformAdmin(context.Background(), "u-2")
	if err != nil {
		t.Fatalf("IsPlatformAdmin: %v", err)
	}
	if ok {
		t.Fatal("expected not a platform admin")
	}
}

func TestIsPlatformAdminQueryErrorPropagates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select 1 from platform_admins`).
		WithArgs("u-3").
		WillReturnError(errors.New("connection reset"))

	if _, err := store.IsPlatformAdmin(context.Background(), "u-3"); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestFindOwner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select role_id from organization_owners`).
		WithArgs("u-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow("role-9"))

	tier, err := store.FindOwner(context.Background(), "u-1", "org-1")
	if err != nil {
		t.Fatalf("FindOwner: %v", err)
	}
	if tier == nil || tier.Tier != authz.TierOwner {
		t.Fatalf("expected owner tier, got %+v", tier)
	}
	if tier.RoleID != "role-9" {
		t.Fatalf("role id = %q", tier.RoleID)
	}
}

func TestFindOwnerAbsentReturnsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select role_id from organization_owners`).
		WithArgs("u-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}))

	tier, err := store.FindOwner(context.Background(), "u-1", "org-1")
	if err != nil {
		t.Fatalf("FindOwner: %v", err)
	}
	if tier != nil {
		t.Fatalf("expected nil tier, got %+v", tier)
	}
}

func TestFindDelegate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select role_id from organization_delegates`).
		WithArgs("u-4", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(nil))

	tier, err := store.FindDelegate(context.Background(), "u-4", "org-1")
	if err != nil {
		t.Fatalf("FindDelegate: %v", err)
	}
	if tier == nil || tier.Tier != authz.TierDelegate {
		t.Fatalf("expected delegate tier, got %+v", tier)
	}
}

func TestFindMemberWithRoleFlags(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select m.id, m.role_id, r.default_modules`).
		WithArgs("u-5", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "default_modules"}).
			AddRow("mem-1", "role-2", []byte(`{"members": true, "donations": false}`)))

	tier, err := store.FindMember(context.Background(), "u-5", "org-1")
	if err != nil {
		t.Fatalf("FindMember: %v", err)
	}
	if tier == nil || tier.Tier != authz.TierMember {
		t.Fatalf("expected member tier, got %+v", tier)
	}
	if tier.MemberID != "mem-1" || tier.RoleID != "role-2" {
		t.Fatalf("unexpected ids: %+v", tier)
	}
	if !tier.DefaultModules["members"] || tier.DefaultModules["donations"] {
		t.Fatalf("unexpected flags: %+v", tier.DefaultModules)
	}
}

func TestFindMemberWithoutRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select m.id, m.role_id, r.default_modules`).
		WithArgs("u-6", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "default_modules"}).
			AddRow("mem-2", nil, nil))

	tier, err := store.FindMember(context.Background(), "u-6", "org-1")
	if err != nil {
		t.Fatalf("FindMember: %v", err)
	}
	if tier == nil || tier.DefaultModules != nil {
		t.Fatalf("expected nil flags for role-less member, got %+v", tier)
	}
}

func TestFindMemberBadFlagsJSON(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select m.id, m.role_id, r.default_modules`).
		WithArgs("u-7", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "role_id", "default_modules"}).
			AddRow("mem-3", "role-1", []byte(`{broken`)))

	if _, err := store.FindMember(context.Background(), "u-7", "org-1"); err == nil {
		t.Fatal("expected decode error")
	}
}
