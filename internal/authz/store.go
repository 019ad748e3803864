package authz

import "context"

// TierStore answers the four independent authority checks against the data
// service. Absence is reported as (nil, nil) or (false, nil); any transport
// or query failure must be returned as an error and never folded into
// "tier absent".
type TierStore interface {
	IsPlatformAdmin(ctx context.Context, userID string) (bool, error)
	FindOwner(ctx context.Context, userID, organizationID string) (*TenantTier, error)
	FindDelegate(ctx context.Context, userID, organizationID string) (*TenantTier, error)
	FindMember(ctx context.Context, userID, organizationID string) (*TenantTier, error)
}

// GroupStore persists permission groups, their permission joins and their
// member assignments, scoped to an organization.
type GroupStore interface {
	ListGroups(ctx context.Context, organizationID string) ([]GroupSummary, error)
	GetGroup(ctx context.Context, groupID string) (*PermissionGroup, error)
	CreateGroup(ctx context.Context, organizationID, name, description string, permissionIDs []string) (*PermissionGroup, error)
	UpdateGroup(ctx context.Context, groupID string, upd GroupUpdate) (*PermissionGroup, error)
	DeleteGroup(ctx context.Context, groupID string) error
	SetGroupPermissions(ctx context.Context, groupID string, permissionIDs []string) error

	ListMembers(ctx context.Context, groupID string) ([]GroupMember, error)
	ListMembersNotInGroup(ctx context.Context, organizationID, groupID string) ([]MemberSummary, error)
	AddMember(ctx context.Context, groupID, memberID string) (GroupMember, error)
	RemoveMember(ctx context.Context, groupID, memberID string) error

	// MemberPermissionCodes returns the deduplicated union of codes reachable
	// through every group the member belongs to.
	MemberPermissionCodes(ctx context.Context, memberID string) ([]string, error)
	// GroupUserIDs returns the user ids behind every member of the group,
	// used to fan out cache invalidation after a mutation.
	GroupUserIDs(ctx context.Context, groupID string) ([]string, error)

	EnsurePermissions(ctx context.Context, perms []Permission) error
	EnsureSystemGroups(ctx context.Context, organizationID string) error
	ListCatalog(ctx context.Context) ([]Permission, error)
}
