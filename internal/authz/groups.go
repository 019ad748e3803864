package authz

import (
	"context"
	"fmt"
	"strings"
)

// Invalidator receives cache invalidation for users whose reachable codes
// may have changed. DecisionCache satisfies it.
type Invalidator interface {
	Invalidate(userID, organizationID string)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(string, string) {}

// GroupService fronts the group store with input validation and cache
// invalidation fanout. Every mutation that can change a member's reachable
// permission codes invalidates each affected member's cached decision.
type GroupService struct {
	store GroupStore
	cache Invalidator
}

// NewGroupService constructs a GroupService. A nil invalidator disables
// fanout (useful for tooling that runs before the cache exists).
func NewGroupService(store GroupStore, cache Invalidator) (*GroupService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: group store is required", ErrInvalidInput)
	}
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &GroupService{store: store, cache: cache}, nil
}

func (s *GroupService) ListGroups(ctx context.Context, organizationID string) ([]GroupSummary, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListGroups(ctx, organizationID)
}

// GetGroup returns the group with its resolved permission list, or nil when
// the group does not exist.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*PermissionGroup, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	return s.store.GetGroup(ctx, groupID)
}

// CreateGroup creates a non-system group and attaches the given permissions
// atomically with creation.
func (s *GroupService) CreateGroup(ctx context.Context, organizationID, name, description string, permissionIDs []string) (*PermissionGroup, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	description = strings.TrimSpace(description)
	return s.store.CreateGroup(ctx, organizationID, name, description, dedupeStrings(permissionIDs))
}

// UpdateGroup applies the provided fields. System groups accept permission
// changes but keep their name and description fixed.
func (s *GroupService) UpdateGroup(ctx context.Context, groupID string, upd GroupUpdate) (*PermissionGroup, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.PermissionIDs != nil {
		upd.PermissionIDs = dedupeStrings(upd.PermissionIDs)
		if upd.PermissionIDs == nil {
			upd.PermissionIDs = []string{}
		}
	}
	group, err := s.store.UpdateGroup(ctx, groupID, upd)
	if err != nil {
		return nil, err
	}
	if upd.PermissionIDs != nil {
		s.invalidateGroup(ctx, group.ID, group.OrganizationID)
	}
	return group, nil
}

// DeleteGroup deletes a non-system group and cascades its joins. Deleting a
// system group fails with ErrSystemGroupProtected.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrNotFound
	}
	// Snapshot affected users before the joins cascade away.
	userIDs, err := s.store.GroupUserIDs(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	for _, userID := range userIDs {
		s.cache.Invalidate(userID, group.OrganizationID)
	}
	return nil
}

// SetGroupPermissions replaces the group's entire permission set; an empty
// list clears it. Calling twice with the same set is idempotent.
func (s *GroupService) SetGroupPermissions(ctx context.Context, groupID string, permissionIDs []string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrNotFound
	}
	ids := dedupeStrings(permissionIDs)
	if ids == nil {
		ids = []string{}
	}
	if err := s.store.SetGroupPermissions(ctx, groupID, ids); err != nil {
		return err
	}
	s.invalidateGroup(ctx, groupID, group.OrganizationID)
	return nil
}

func (s *GroupService) ListMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	return s.store.ListMembers(ctx, groupID)
}

func (s *GroupService) ListMembersNotInGroup(ctx context.Context, organizationID, groupID string) ([]MemberSummary, error) {
	organizationID = strings.TrimSpace(organizationID)
	groupID = strings.TrimSpace(groupID)
	if organizationID == "" || groupID == "" {
		return nil, fmt.Errorf("%w: organization_id and group_id are required", ErrInvalidInput)
	}
	return s.store.ListMembersNotInGroup(ctx, organizationID, groupID)
}

// AddMember assigns a member to the group. An existing pair fails with
// ErrDuplicateMembership rather than silently succeeding.
func (s *GroupService) AddMember(ctx context.Context, groupID, memberID string) (GroupMember, error) {
	groupID = strings.TrimSpace(groupID)
	memberID = strings.TrimSpace(memberID)
	if groupID == "" || memberID == "" {
		return GroupMember{}, fmt.Errorf("%w: group_id and member_id are required", ErrInvalidInput)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return GroupMember{}, err
	}
	if group == nil {
		return GroupMember{}, ErrNotFound
	}
	assigned, err := s.store.AddMember(ctx, groupID, memberID)
	if err != nil {
		return GroupMember{}, err
	}
	s.cache.Invalidate(assigned.UserID, group.OrganizationID)
	return assigned, nil
}

// RemoveMember unassigns a member from the group; a missing pair is a no-op.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, memberID string) error {
	groupID = strings.TrimSpace(groupID)
	memberID = strings.TrimSpace(memberID)
	if groupID == "" || memberID == "" {
		return fmt.Errorf("%w: group_id and member_id are required", ErrInvalidInput)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group == nil {
		return ErrNotFound
	}
	// Find the user behind the member before the join disappears so the
	// invalidation hits the right cache entry.
	members, err := s.store.ListMembers(ctx, groupID)
	if err != nil {
		return err
	}
	var userID string
	for _, m := range members {
		if m.MemberID == memberID {
			userID = m.UserID
			break
		}
	}
	if err := s.store.RemoveMember(ctx, groupID, memberID); err != nil {
		return err
	}
	if userID != "" {
		s.cache.Invalidate(userID, group.OrganizationID)
	}
	return nil
}

// EnsureCatalog upserts the built-in permission codes.
func (s *GroupService) EnsureCatalog(ctx context.Context) error {
	return s.store.EnsurePermissions(ctx, Catalog)
}

// EnsureSystemGroups provisions the protected per-organization groups.
func (s *GroupService) EnsureSystemGroups(ctx context.Context, organizationID string) error {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.EnsureSystemGroups(ctx, organizationID)
}

// ListCatalog returns every catalog permission, ordered by code.
func (s *GroupService) ListCatalog(ctx context.Context) ([]Permission, error) {
	return s.store.ListCatalog(ctx)
}

func (s *GroupService) invalidateGroup(ctx context.Context, groupID, organizationID string) {
	userIDs, err := s.store.GroupUserIDs(ctx, groupID)
	if err != nil {
		// The fanout target list is unavailable; invalidate the whole
		// organization so no member keeps stale elevated access.
		s.cache.Invalidate("", organizationID)
		return
	}
	for _, userID := range userIDs {
		s.cache.Invalidate(userID, organizationID)
	}
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
