package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"amana.org/internal/audit"
	"amana.org/internal/authz"
	"amana.org/internal/identity"
)

type createGroupRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permission_ids"`
}

type updateGroupRequest struct {
	Name          *string  `json:"name"`
	Description   *string  `json:"description"`
	PermissionIDs []string `json:"permission_ids"`
}

type setPermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids"`
}

type addMemberRequest struct {
	MemberID string `json:"member_id"`
}

func (a *API) handlePermissionCatalog(w http.ResponseWriter, r *http.Request) {
	if a.groups == nil {
		writeError(w, r, http.StatusServiceUnavailable, "group service unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	perms, err := a.groups.ListCatalog(r.Context())
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/organizations/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	orgID := parts[0]
	switch parts[1] {
	case "access":
		a.handleAccess(w, r, orgID)
	case "groups":
		a.handleOrganizationGroups(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// handleAccess returns the caller's effective permissions for the
// organization, through the decision cache.
func (a *API) handleAccess(w http.ResponseWriter, r *http.Request, orgID string) {
	if a.access == nil {
		writeError(w, r, http.StatusServiceUnavailable, "access resolver unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	access, err := a.access.Resolve(r.Context(), userID, orgID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

func (a *API) handleOrganizationGroups(w http.ResponseWriter, r *http.Request, orgID string) {
	if a.groups == nil {
		writeError(w, r, http.StatusServiceUnavailable, "group service unavailable")
		return
	}
	if !a.ensureGroupAdmin(w, r, orgID) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		groups, err := a.groups.ListGroups(r.Context(), orgID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.groups.CreateGroup(r.Context(), orgID, req.Name, req.Description, req.PermissionIDs)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventGroupCreated, group.ID, map[string]any{
			"organization_id": orgID,
			"name":            group.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/groups/%s", group.ID))
		writeJSON(w, http.StatusCreated, group)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	if a.groups == nil {
		writeError(w, r, http.StatusServiceUnavailable, "group service unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/groups/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	groupID := parts[0]

	group, ok := a.loadGroup(w, r, groupID)
	if !ok {
		return
	}
	if !a.ensureGroupAdmin(w, r, group.OrganizationID) {
		return
	}

	switch {
	case len(parts) == 1:
		a.handleGroup(w, r, group)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleGroupPermissions(w, r, group)
	case len(parts) == 2 && parts[1] == "members":
		a.handleGroupMembers(w, r, group)
	case len(parts) == 3 && parts[1] == "members":
		a.handleGroupMember(w, r, group, parts[2])
	case len(parts) == 2 && parts[1] == "available-members":
		a.handleAvailableMembers(w, r, group)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGroup(w http.ResponseWriter, r *http.Request, group *authz.PermissionGroup) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, group)
	case http.MethodPatch:
		var req updateGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := a.groups.UpdateGroup(r.Context(), group.ID, authz.GroupUpdate{
			Name:          req.Name,
			Description:   req.Description,
			PermissionIDs: req.PermissionIDs,
		})
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventGroupUpdated, group.ID, map[string]any{
			"organization_id": group.OrganizationID,
		})
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := a.groups.DeleteGroup(r.Context(), group.ID); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventGroupDeleted, group.ID, map[string]any{
			"organization_id": group.OrganizationID,
			"name":            group.Name,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleGroupPermissions(w http.ResponseWriter, r *http.Request, group *authz.PermissionGroup) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req setPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.groups.SetGroupPermissions(r.Context(), group.ID, req.PermissionIDs); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventGroupPermissionSet, group.ID, map[string]any{
		"organization_id": group.OrganizationID,
		"count":           len(req.PermissionIDs),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGroupMembers(w http.ResponseWriter, r *http.Request, group *authz.PermissionGroup) {
	switch r.Method {
	case http.MethodGet:
		members, err := a.groups.ListMembers(r.Context(), group.ID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": members})
	case http.MethodPost:
		var req addMemberRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.MemberID = strings.TrimSpace(req.MemberID)
		if req.MemberID == "" {
			writeError(w, r, http.StatusBadRequest, "member_id is required")
			return
		}
		assigned, err := a.groups.AddMember(r.Context(), group.ID, req.MemberID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.audit(r.Context(), audit.EventGroupMemberAdded, group.ID, map[string]any{
			"organization_id": group.OrganizationID,
			"member_id":       assigned.MemberID,
		})
		writeJSON(w, http.StatusCreated, assigned)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGroupMember(w http.ResponseWriter, r *http.Request, group *authz.PermissionGroup, memberID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.groups.RemoveMember(r.Context(), group.ID, memberID); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.audit(r.Context(), audit.EventGroupMemberRemoved, group.ID, map[string]any{
		"organization_id": group.OrganizationID,
		"member_id":       memberID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAvailableMembers(w http.ResponseWriter, r *http.Request, group *authz.PermissionGroup) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	members, err := a.groups.ListMembersNotInGroup(r.Context(), group.OrganizationID, group.ID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// loadGroup fetches the group or finishes the response with 404.
func (a *API) loadGroup(w http.ResponseWriter, r *http.Request, groupID string) (*authz.PermissionGroup, bool) {
	group, err := a.groups.GetGroup(r.Context(), groupID)
	if err != nil {
		handleAuthzError(w, r, err)
		return nil, false
	}
	if group == nil {
		writeError(w, r, http.StatusNotFound, "group not found")
		return nil, false
	}
	return group, true
}

// ensureGroupAdmin resolves the caller's access for the organization and
// requires the group-administration permission. On failure the response is
// already written.
func (a *API) ensureGroupAdmin(w http.ResponseWriter, r *http.Request, orgID string) bool {
	if a.access == nil {
		writeError(w, r, http.StatusServiceUnavailable, "access resolver unavailable")
		return false
	}
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	access, err := a.access.Resolve(r.Context(), userID, orgID)
	if err != nil {
		handleAuthzError(w, r, err)
		return false
	}
	if !access.HasPermissionCode(authz.PermGroupsManage) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
}

func (a *API) audit(ctx context.Context, event, groupID string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["group_id"] = groupID
	_ = audit.LogEvent(ctx, event, fields)
}
