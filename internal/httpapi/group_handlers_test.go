package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"amana.org/internal/authz"
	"amana.org/internal/identity"
)

type stubGroupStore struct {
	listGroupsFn  func(context.Context, string) ([]authz.GroupSummary, error)
	getGroupFn    func(context.Context, string) (*authz.PermissionGroup, error)
	createGroupFn func(context.Context, string, string, string, []string) (*authz.PermissionGroup, error)
	updateGroupFn func(context.Context, string, authz.GroupUpdate) (*authz.PermissionGroup, error)
	deleteGroupFn func(context.Context, string) error
	setPermsFn    func(context.Context, string, []string) error
	listMembersFn func(context.Context, string) ([]authz.GroupMember, error)
	addMemberFn   func(context.Context, string, string) (authz.GroupMember, error)
	userIDsFn     func(context.Context, string) ([]string, error)
}

func (s *stubGroupStore) ListGroups(ctx context.Context, orgID string) ([]authz.GroupSummary, error) {
	if s.listGroupsFn != nil {
		return s.listGroupsFn(ctx, orgID)
	}
	return nil, nil
}

func (s *stubGroupStore) GetGroup(ctx context.Context, groupID string) (*authz.PermissionGroup, error) {
	if s.getGroupFn != nil {
		return s.getGroupFn(ctx, groupID)
	}
	return nil, nil
}

func (s *stubGroupStore) CreateGroup(ctx context.Context, orgID, name, description string, permissionIDs []string) (*authz.PermissionGroup, error) {
	if s.createGroupFn != nil {
		return s.createGroupFn(ctx, orgID, name, description, permissionIDs)
	}
	return &authz.PermissionGroup{}, nil
}

func (s *stubGroupStore) UpdateGroup(ctx context.Context, groupID string, upd authz.GroupUpdate) (*authz.PermissionGroup, error) {
	if s.updateGroupFn != nil {
		return s.updateGroupFn(ctx, groupID, upd)
	}
	return &authz.PermissionGroup{}, nil
}

func (s *stubGroupStore) DeleteGroup(ctx context.Context, groupID string) error {
	if s.deleteGroupFn != nil {
		return s.deleteGroupFn(ctx, groupID)
	}
	return nil
}

func (s *stubGroupStore) SetGroupPermissions(ctx context.Context, groupID string, permissionIDs []string) error {
	if s.setPermsFn != nil {
		return s.setPermsFn(ctx, groupID, permissionIDs)
	}
	return nil
}

func (s *stubGroupStore) ListMembers(ctx context.Context, groupID string) ([]authz.GroupMember, error) {
	if s.listMembersFn != nil {
		return s.listMembersFn(ctx, groupID)
	}
	return nil, nil
}

func (s *stubGroupStore) ListMembersNotInGroup(ctx context.Context, orgID, groupID string) ([]authz.MemberSummary, error) {
	return nil, nil
}

func (s *stubGroupStore) AddMember(ctx context.Context, groupID, memberID string) (authz.GroupMember, error) {
	if s.addMemberFn != nil {
		return s.addMemberFn(ctx, groupID, memberID)
	}
	return authz.GroupMember{}, nil
}

func (s *stubGroupStore) RemoveMember(ctx context.Context, groupID, memberID string) error {
	return nil
}

func (s *stubGroupStore) MemberPermissionCodes(ctx context.Context, memberID string) ([]string, error) {
	return nil, nil
}

func (s *stubGroupStore) GroupUserIDs(ctx context.Context, groupID string) ([]string, error) {
	if s.userIDsFn != nil {
		return s.userIDsFn(ctx, groupID)
	}
	return nil, nil
}

func (s *stubGroupStore) EnsurePermissions(ctx context.Context, perms []authz.Permission) error {
	return nil
}

func (s *stubGroupStore) EnsureSystemGroups(ctx context.Context, orgID string) error {
	return nil
}

func (s *stubGroupStore) ListCatalog(ctx context.Context) ([]authz.Permission, error) {
	return authz.Catalog, nil
}

type stubResolver struct {
	resolveFn func(context.Context, string, string) (authz.Access, error)
}

func (s *stubResolver) Resolve(ctx context.Context, userID, organizationID string) (authz.Access, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, userID, organizationID)
	}
	return authz.Access{Tier: authz.TierMember, ModuleFlags: authz.AllModules(false), PermissionCodes: map[string]bool{}}, nil
}

func ownerAccess(orgID string) authz.Access {
	return authz.Access{
		Tier:            authz.TierOwner,
		OrganizationID:  orgID,
		ModuleFlags:     authz.AllModules(true),
		PermissionCodes: map[string]bool{authz.Wildcard: true},
		ResolvedAt:      time.Now().UTC(),
	}
}

type testAPI struct {
	t      *testing.T
	server *httptest.Server
}

func newTestAPI(t *testing.T, store authz.GroupStore, resolver AccessResolver) *testAPI {
	t.Helper()
	identity.ResetSecretForTests()
	t.Setenv("AMANA_AUTH_SECRET", "test-secret")
	t.Cleanup(identity.ResetSecretForTests)

	groups, err := authz.NewGroupService(store, nil)
	if err != nil {
		t.Fatalf("group service: %v", err)
	}
	api := New(ReadyProbe{}, "test", resolver, groups)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return &testAPI{t: t, server: server}
}

func (ta *testAPI) token(userID string) string {
	ta.t.Helper()
	token, err := identity.GenerateToken(userID, "", time.Minute)
	if err != nil {
		ta.t.Fatalf("generate token: %v", err)
	}
	return token
}

func (ta *testAPI) do(method, path, token string, body any) *http.Response {
	ta.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			ta.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ta.server.URL+path, reader)
	if err != nil {
		ta.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ta.server.Client().Do(req)
	if err != nil {
		ta.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestAccessEndpointReturnsDecision(t *testing.T) {
	resolver := &stubResolver{
		resolveFn: func(_ context.Context, userID, orgID string) (authz.Access, error) {
			if userID != "u-1" || orgID != "org-1" {
				t.Fatalf("unexpected resolve args: %s %s", userID, orgID)
			}
			return ownerAccess(orgID), nil
		},
	}
	api := newTestAPI(t, &stubGroupStore{}, resolver)

	resp := api.do(http.MethodGet, "/v1/organizations/org-1/access", api.token("u-1"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var access authz.Access
	if err := json.NewDecoder(resp.Body).Decode(&access); err != nil {
		t.Fatalf("decode access: %v", err)
	}
	if access.Tier != authz.TierOwner {
		t.Fatalf("tier = %s", access.Tier)
	}
	if !access.PermissionCodes[authz.Wildcard] {
		t.Fatalf("expected wildcard code, got %v", access.PermissionCodes)
	}
}

func TestAccessEndpointRequiresToken(t *testing.T) {
	api := newTestAPI(t, &stubGroupStore{}, &stubResolver{})

	resp := api.do(http.MethodGet, "/v1/organizations/org-1/access", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestListGroupsRequiresManagePermission(t *testing.T) {
	resolver := &stubResolver{} // member with no codes
	api := newTestAPI(t, &stubGroupStore{}, resolver)

	resp := api.do(http.MethodGet, "/v1/organizations/org-1/groups", api.token("u-1"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestCreateGroup(t *testing.T) {
	var captured struct {
		name  string
		perms []string
	}
	store := &stubGroupStore{
		createGroupFn: func(_ context.Context, orgID, name, description string, permissionIDs []string) (*authz.PermissionGroup, error) {
			captured.name = name
			captured.perms = permissionIDs
			return &authz.PermissionGroup{
				ID:             "grp-1",
				OrganizationID: orgID,
				Name:           name,
				Description:    description,
				Permissions:    []authz.Permission{},
			}, nil
		},
	}
	resolver := &stubResolver{
		resolveFn: func(_ context.Context, _, orgID string) (authz.Access, error) {
			return ownerAccess(orgID), nil
		},
	}
	api := newTestAPI(t, store, resolver)

	body := map[string]any{
		"name":           "  Finance team  ",
		"description":    "Handles donations",
		"permission_ids": []string{"perm-1", "perm-1", "perm-2"},
	}
	resp := api.do(http.MethodPost, "/v1/organizations/org-1/groups", api.token("u-owner"), body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/v1/groups/grp-1" {
		t.Fatalf("location = %q", resp.Header.Get("Location"))
	}
	if captured.name != "Finance team" {
		t.Fatalf("expected trimmed name, got %q", captured.name)
	}
	if len(captured.perms) != 2 {
		t.Fatalf("expected deduplicated permissions, got %v", captured.perms)
	}
}

func TestGetGroupNotFound(t *testing.T) {
	resolver := &stubResolver{
		resolveFn: func(_ context.Context, _, orgID string) (authz.Access, error) {
			return ownerAccess(orgID), nil
		},
	}
	api := newTestAPI(t, &stubGroupStore{}, resolver)

	resp := api.do(http.MethodGet, "/v1/groups/missing", api.token("u-owner"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteSystemGroupConflict(t *testing.T) {
	store := &stubGroupStore{
		getGroupFn: func(_ context.Context, groupID string) (*authz.PermissionGroup, error) {
			return &authz.PermissionGroup{ID: groupID, OrganizationID: "org-1", Name: "Administrators", IsSystem: true}, nil
		},
		deleteGroupFn: func(_ context.Context, _ string) error {
			return authz.ErrSystemGroupProtected
		},
	}
	resolver := &stubResolver{
		resolveFn: func(_ context.Context, _, orgID string) (authz.Access, error) {
			return ownerAccess(orgID), nil
		},
	}
	api := newTestAPI(t, store, resolver)

	resp := api.do(http.MethodDelete, "/v1/groups/grp-sys", api.token("u-owner"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAddMemberDuplicateConflict(t *testing.T) {
	store := &stubGroupStore{
		getGroupFn: func(_ context.Context, groupID string) (*authz.PermissionGroup, error) {
			return &authz.PermissionGroup{ID: groupID, OrganizationID: "org-1", Name: "Finance team"}, nil
		},
		addMemberFn: func(_ context.Context, _, _ string) (authz.GroupMember, error) {
			return authz.GroupMember{}, authz.ErrDuplicateMembership
		},
	}
	resolver := &stubResolver{
		resolveFn: func(_ context.Context, _, orgID string) (authz.Access, error) {
			return ownerAccess(orgID), nil
		},
	}
	api := newTestAPI(t, store, resolver)

	resp := api.do(http.MethodPost, "/v1/groups/grp-1/members", api.token("u-owner"), map[string]any{"member_id": "mem-1"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAddMemberRequiresMemberID(t *testing.T) {
	store := &stubGroupStore{
		getGroupFn: func(_ context.Context, groupID string) (*authz.PermissionGroup, error) {
			return &authz.PermissionGroup{ID: groupID, OrganizationID: "org-1", Name: "Finance team"}, nil
		},
	}
	resolver := &stubResolver{
		resolveFn: func(_ context.Context, _, orgID string) (authz.Access, error) {
			return ownerAccess(orgID), nil
		},
	}
	api := newTestAPI(t, store, resolver)

	resp := api.do(http.MethodPost, "/v1/groups/grp-1/members", api.token("u-owner"), map[string]any{"member_id": "  "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPermissionCatalog(t *testing.T) {
	api := newTestAPI(t, &stubGroupStore{}, &stubResolver{})

	resp := api.do(http.MethodGet, "/v1/permissions", api.token("u-1"), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Permissions []authz.Permission `json:"permissions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if len(payload.Permissions) != len(authz.Catalog) {
		t.Fatalf("expected %d permissions, got %d", len(authz.Catalog), len(payload.Permissions))
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, &stubGroupStore{}, &stubResolver{})

	resp := api.do(http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["service"] != "amana-api" {
		t.Fatalf("unexpected service: %v", body["service"])
	}
}
