package authz

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeGroupStore struct {
	groups  map[string]*PermissionGroup
	members map[string][]GroupMember
	userIDs map[string][]string

	deleted  []string
	setPerms map[string][]string
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{
		groups:   map[string]*PermissionGroup{},
		members:  map[string][]GroupMember{},
		userIDs:  map[string][]string{},
		setPerms: map[string][]string{},
	}
}

func (f *fakeGroupStore) ListGroups(ctx context.Context, orgID string) ([]GroupSummary, error) {
	return nil, nil
}

func (f *fakeGroupStore) GetGroup(ctx context.Context, groupID string) (*PermissionGroup, error) {
	return f.groups[groupID], nil
}

func (f *fakeGroupStore) CreateGroup(ctx context.Context, orgID, name, description string, permissionIDs []string) (*PermissionGroup, error) {
	g := &PermissionGroup{ID: "grp-new", OrganizationID: orgID, Name: name, Description: description}
	f.groups[g.ID] = g
	f.setPerms[g.ID] = permissionIDs
	return g, nil
}

func (f *fakeGroupStore) UpdateGroup(ctx context.Context, groupID string, upd GroupUpdate) (*PermissionGroup, error) {
	g, ok := f.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	if g.IsSystem && (upd.Name != nil || upd.Description != nil) {
		return nil, ErrSystemGroupProtected
	}
	if upd.Name != nil {
		g.Name = *upd.Name
	}
	if upd.PermissionIDs != nil {
		f.setPerms[groupID] = upd.PermissionIDs
	}
	return g, nil
}

func (f *fakeGroupStore) DeleteGroup(ctx context.Context, groupID string) error {
	g, ok := f.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if g.IsSystem {
		return ErrSystemGroupProtected
	}
	delete(f.groups, groupID)
	f.deleted = append(f.deleted, groupID)
	return nil
}

func (f *fakeGroupStore) SetGroupPermissions(ctx context.Context, groupID string, permissionIDs []string) error {
	if _, ok := f.groups[groupID]; !ok {
		return ErrNotFound
	}
	f.setPerms[groupID] = permissionIDs
	return nil
}

func (f *fakeGroupStore) ListMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	return f.members[groupID], nil
}

func (f *fakeGroupStore) ListMembersNotInGroup(ctx context.Context, orgID, groupID string) ([]MemberSummary, error) {
	return nil, nil
}

func (f *fakeGroupStore) AddMember(ctx context.Context, groupID, memberID string) (GroupMember, error) {
	for _, m := range f.members[groupID] {
		if m.MemberID == memberID {
			return GroupMember{}, ErrDuplicateMembership
		}
	}
	gm := GroupMember{GroupID: groupID, MemberID: memberID, UserID: "user-of-" + memberID, AssignedAt: time.Now()}
	f.members[groupID] = append(f.members[groupID], gm)
	return gm, nil
}

func (f *fakeGroupStore) RemoveMember(ctx context.Context, groupID, memberID string) error {
	kept := f.members[groupID][:0]
	for _, m := range f.members[groupID] {
		if m.MemberID != memberID {
			kept = append(kept, m)
		}
	}
	f.members[groupID] = kept
	return nil
}

func (f *fakeGroupStore) MemberPermissionCodes(ctx context.Context, memberID string) ([]string, error) {
	return nil, nil
}

func (f *fakeGroupStore) GroupUserIDs(ctx context.Context, groupID string) ([]string, error) {
	return f.userIDs[groupID], nil
}

func (f *fakeGroupStore) EnsurePermissions(ctx context.Context, perms []Permission) error { return nil }

func (f *fakeGroupStore) EnsureSystemGroups(ctx context.Context, orgID string) error { return nil }

func (f *fakeGroupStore) ListCatalog(ctx context.Context) ([]Permission, error) {
	return Catalog, nil
}

type recordingInvalidator struct {
	calls [][2]string
}

func (r *recordingInvalidator) Invalidate(userID, organizationID string) {
	r.calls = append(r.calls, [2]string{userID, organizationID})
}

func TestGroupServiceValidatesInput(t *testing.T) {
	svc, err := NewGroupService(newFakeGroupStore(), nil)
	if err != nil {
		t.Fatalf("NewGroupService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.ListGroups(ctx, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ListGroups: %v", err)
	}
	if _, err := svc.CreateGroup(ctx, "org-1", "   ", "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("CreateGroup: %v", err)
	}
	empty := "  "
	if _, err := svc.UpdateGroup(ctx, "grp-1", GroupUpdate{Name: &empty}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("UpdateGroup: %v", err)
	}
	if _, err := svc.AddMember(ctx, "grp-1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("AddMember: %v", err)
	}
}

func TestGroupServiceSetPermissionsInvalidatesEveryMember(t *testing.T) {
	store := newFakeGroupStore()
	store.groups["grp-1"] = &PermissionGroup{ID: "grp-1", OrganizationID: "org-1", Name: "Finance team"}
	store.userIDs["grp-1"] = []string{"u-1", "u-2"}
	inv := &recordingInvalidator{}
	svc, err := NewGroupService(store, inv)
	if err != nil {
		t.Fatalf("NewGroupService: %v", err)
	}

	if err := svc.SetGroupPermissions(context.Background(), "grp-1", []string{"perm-1"}); err != nil {
		t.Fatalf("SetGroupPermissions: %v", err)
	}
	if len(inv.calls) != 2 {
		t.Fatalf("expected 2 invalidations, got %v", inv.calls)
	}
	for i, want := range []string{"u-1", "u-2"} {
		if inv.calls[i] != [2]string{want, "org-1"} {
			t.Fatalf("call %d = %v", i, inv.calls[i])
		}
	}
}

func TestGroupServiceDeleteSnapshotsUsersBeforeCascade(t *testing.T) {
	store := newFakeGroupStore()
	store.groups["grp-1"] = &PermissionGroup{ID: "grp-1", OrganizationID: "org-1", Name: "Finance team"}
	store.userIDs["grp-1"] = []string{"u-9"}
	inv := &recordingInvalidator{}
	svc, err := NewGroupService(store, inv)
	if err != nil {
		t.Fatalf("NewGroupService: %v", err)
	}

	if err := svc.DeleteGroup(context.Background(), "grp-1"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "grp-1" {
		t.Fatalf("deleted = %v", store.deleted)
	}
	if len(inv.calls) != 1 || inv.calls[0] != [2]string{"u-9", "org-1"} {
		t.Fatalf("invalidations = %v", inv.calls)
	}
}

func TestGroupServiceDeleteSystemGroupRefused(t *testing.T) {
	store := newFakeGroupStore()
	store.groups["grp-sys"] = &PermissionGroup{ID: "grp-sys", OrganizationID: "org-1", Name: "Administrators", IsSystem: true}
	svc, err := NewGroupService(store, nil)
	if err != nil {
		t.Fatalf("NewGroupService: %v", err)
	}

	if err := svc.DeleteGroup(context.Background(), "grp-sys"); !errors.Is(err, ErrSystemGroupProtected) {
		t.Fatalf("expected ErrSystemGroupProtected, got %v", err)
	}
}

func TestGroupServiceAddMemberInvalidatesAssignedUser(t *testing.T) {
	store := newFakeGroupStore()
	store.groups["grp-1"] = &PermissionGroup{ID: "grp-1", OrganizationID: "org-1", Name: "Finance team"}
	inv := &recordingInvalidator{}
	svc, err := NewGroupService(store, inv)
	if err != nil {
		t.Fatalf("NewGroupService: %v", err)
	}

	assigned, err := svc.AddMember(context.Background(), "grp-1", "mem-1")
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if assigned.MemberID != "mem-1" {
		t.Fatalf("assigned = %+v", assigned)
	}
	if len(inv.calls) != 1 || inv.calls[0] != [2]string{"user-of-mem-1", "org-1"} {
		t.Fatalf("invalidations = %v", inv.calls)
	}

	if _, err := svc.AddMember(context.Background(), "grp-1", "mem-1"); !errors.Is(err, ErrDuplicateMembership) {
		t.Fatalf("expected ErrDuplicateMembership, got %v", err)
	}
}

func TestGroupServiceRemoveMemberInvalidatesUser(t *testing.T) {
	store := newFakeGroupStore()
	store.groups["grp-1"] = &PermissionGroup{ID: "grp-1", OrganizationID: "org-1", Name: "Finance team"}
	store.members["grp-1"] = []GroupMember{{GroupID: "grp-1", MemberID: "mem-1", UserID: "u-1"}}
	inv := &recordingInvalidator{}
	svc, err := NewGroupService(store, inv)
	if err != nil {
		t.Fatalf("NewGroupService: %v", err)
	}

	if err := svc.RemoveMember(context.Background(), "grp-1", "mem-1"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0] != [2]string{"u-1", "org-1"} {
		t.Fatalf("invalidations = %v", inv.calls)
	}

	// Removing an absent pair succeeds without invalidation.
	if err := svc.RemoveMember(context.Background(), "grp-1", "mem-ghost"); err != nil {
		t.Fatalf("RemoveMember absent: %v", err)
	}
	if len(inv.calls) != 1 {
		t.Fatalf("unexpected extra invalidation: %v", inv.calls)
	}
}

func TestGroupServiceUpdateDedupesPermissionIDs(t *testing.T) {
	store := newFakeGroupStore()
	store.groups["grp-1"] = &PermissionGroup{ID: "grp-1", OrganizationID: "org-1", Name: "Finance team"}
	svc, err := NewGroupService(store, nil)
	if err != nil {
		t.Fatalf("NewGroupService: %v", err)
	}

	_, err = svc.UpdateGroup(context.Background(), "grp-1", GroupUpdate{
		PermissionIDs: []string{" perm-1 ", "perm-1", "perm-2", ""},
	})
	if err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}
	if got := store.setPerms["grp-1"]; len(got) != 2 || got[0] != "perm-1" || got[1] != "perm-2" {
		t.Fatalf("setPerms = %v", got)
	}
}
