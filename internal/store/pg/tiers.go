package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"amana.org/internal/authz"
)

// IsPlatformAdmin reports whether a platform_admins row exists for the user.
// Query failures propagate; they are never read as "not an admin".
func (s *Store) IsPlatformAdmin(ctx context.Context, userID string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	var one int
	err := s.db.QueryRowContext(ctx, `
		select 1 from platform_admins where user_id = $1
	`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindOwner returns the owner tier for the pair, or nil when absent.
func (s *Store) FindOwner(ctx context.Context, userID, organizationID string) (*authz.TenantTier, error) {
	return s.findElevated(ctx, authz.TierOwner, "organization_owners", userID, organizationID)
}

// FindDelegate returns the delegate tier for the pair, or nil when absent.
// Delegates carry the same authority as owners; the tier differs only for
// audit labeling.
func (s *Store) FindDelegate(ctx context.Context, userID, organizationID string) (*authz.TenantTier, error) {
	return s.findElevated(ctx, authz.TierDelegate, "organization_delegates", userID, organizationID)
}

func (s *Store) findElevated(ctx context.Context, tier authz.Tier, table, userID, organizationID string) (*authz.TenantTier, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var roleID sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select role_id from %s
		where user_id = $1 and organization_id = $2
	`, table), userID, organizationID).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &authz.TenantTier{Tier: tier, RoleID: roleID.String}, nil
}

// FindMember returns the member tier with the assigned role's default module
// flags resolved, or nil when the user is not a member of the organization.
// A member without a role keeps nil flags (every module denied).
func (s *Store) FindMember(ctx context.Context, userID, organizationID string) (*authz.TenantTier, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		memberID string
		roleID   sql.NullString
		rawFlags []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select m.id, m.role_id, r.default_modules
		from organization_members m
		left join roles r on r.id = m.role_id
		where m.user_id = $1 and m.organization_id = $2
	`, userID, organizationID).Scan(&memberID, &roleID, &rawFlags)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tier := &authz.TenantTier{
		Tier:     authz.TierMember,
		MemberID: memberID,
		RoleID:   roleID.String,
	}
	if len(rawFlags) > 0 {
		flags := authz.ModuleFlags{}
		if err := json.Unmarshal(rawFlags, &flags); err != nil {
			return nil, fmt.Errorf("decode default_modules: %w", err)
		}
		tier.DefaultModules = flags
	}
	return tier, nil
}
