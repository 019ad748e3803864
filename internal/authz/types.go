package authz

import "time"

// Tier is the single highest-precedence authority category a user holds in
// an organization. Precedence is total and exclusive:
// platform_admin > owner > delegate > member.
type Tier string

const (
	TierPlatformAdmin Tier = "platform_admin"
	TierOwner         Tier = "owner"
	TierDelegate      Tier = "delegate"
	TierMember        Tier = "member"
)

// ModuleFlags maps a module name to its legacy coarse access flag.
type ModuleFlags map[string]bool

// AllModules returns flags with every known module set to v.
func AllModules(v bool) ModuleFlags {
	flags := make(ModuleFlags, len(Modules))
	for _, m := range Modules {
		flags[m] = v
	}
	return flags
}

// Role is a named bundle of legacy module flags assigned to members.
type Role struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	Name           string      `json:"name"`
	DefaultModules ModuleFlags `json:"default_modules"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TenantTier is the tagged result of a tenant-relationship lookup. A nil
// *TenantTier from the store means "no relationship", never an error.
type TenantTier struct {
	Tier     Tier
	MemberID string
	RoleID   string
	// DefaultModules carries the member role's flags; nil when the member
	// has no role assigned (all modules denied) or the tier is not member.
	DefaultModules ModuleFlags
}

// Access is the effective-permission decision the resolver produces.
// Field names are the transport contract; nothing else is persisted.
type Access struct {
	Tier            Tier            `json:"tier"`
	OrganizationID  string          `json:"organization_id,omitempty"`
	ModuleFlags     ModuleFlags     `json:"module_flags"`
	PermissionCodes map[string]bool `json:"permission_codes"`
	ResolvedAt      time.Time       `json:"resolved_at"`
}

func (a Access) elevated() bool {
	switch a.Tier {
	case TierPlatformAdmin, TierOwner, TierDelegate:
		return true
	}
	return false
}

// CanAccessModule reports whether the module's legacy flag is granted.
// Elevated tiers short-circuit to true before consulting the flag map.
func (a Access) CanAccessModule(module string) bool {
	if a.elevated() {
		return true
	}
	return a.ModuleFlags[module]
}

// HasPermissionCode reports whether the fine-grained code is granted, either
// directly, through the wildcard, or through an elevated tier.
func (a Access) HasPermissionCode(code string) bool {
	if a.elevated() {
		return true
	}
	if a.PermissionCodes[Wildcard] {
		return true
	}
	return a.PermissionCodes[code]
}

// PermissionGroup is an organization-scoped named bundle of permission codes.
type PermissionGroup struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	IsSystem       bool         `json:"is_system"`
	Permissions    []Permission `json:"permissions"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// GroupSummary is the list-view projection of a permission group.
type GroupSummary struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	IsSystem        bool      `json:"is_system"`
	PermissionCount int       `json:"permission_count"`
	MemberCount     int       `json:"member_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// GroupMember is a member's assignment to a group.
type GroupMember struct {
	GroupID    string    `json:"group_id"`
	MemberID   string    `json:"member_id"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	FullName   string    `json:"full_name,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

// MemberSummary identifies an organization member for add-member pickers.
type MemberSummary struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// GroupUpdate applies partial changes to a group. Nil fields are left
// untouched; a non-nil PermissionIDs replaces the whole permission set.
type GroupUpdate struct {
	Name          *string
	Description   *string
	PermissionIDs []string
}
