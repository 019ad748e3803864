package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"amana.org/internal/obs"
)

// CodeReader is the group-store read path the resolver needs for member-tier
// permission aggregation.
type CodeReader interface {
	MemberPermissionCodes(ctx context.Context, memberID string) ([]string, error)
}

// Resolver computes the effective permissions of a user inside an
// organization. It is a pure read over the tier and group stores; every
// lookup failure propagates so that callers never see a silent downgrade.
type Resolver struct {
	tiers TierStore
	codes CodeReader
	now   func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given stores.
func NewResolver(tiers TierStore, codes CodeReader, opts ...ResolverOption) (*Resolver, error) {
	if tiers == nil {
		return nil, errors.New("authz: tier store is required")
	}
	if codes == nil {
		return nil, errors.New("authz: code reader is required")
	}
	r := &Resolver{tiers: tiers, codes: codes, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the effective-permission state of the user for the
// organization. An empty organization id is valid and checks platform-admin
// status alone. Any store error fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, userID, organizationID string) (Access, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Access{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	organizationID = strings.TrimSpace(organizationID)

	isAdmin, err := r.tiers.IsPlatformAdmin(ctx, userID)
	if err != nil {
		return Access{}, fmt.Errorf("platform admin lookup: %w", err)
	}

	tenant, err := r.tenantTier(ctx, userID, organizationID)
	if err != nil {
		return Access{}, err
	}

	access := Access{
		Tier:            TierMember,
		ModuleFlags:     AllModules(false),
		PermissionCodes: map[string]bool{},
		ResolvedAt:      r.now().UTC(),
	}

	switch {
	case tenant == nil:
		// No tenant relationship: the most restrictive named tier, unless
		// the user is a platform admin (organization_id stays empty).
	case tenant.Tier == TierOwner || tenant.Tier == TierDelegate:
		access.Tier = tenant.Tier
		access.OrganizationID = organizationID
		access.ModuleFlags = AllModules(true)
		access.PermissionCodes = map[string]bool{Wildcard: true}
	case tenant.Tier == TierMember:
		access.Tier = TierMember
		access.OrganizationID = organizationID
		if tenant.DefaultModules != nil {
			access.ModuleFlags = tenant.DefaultModules
		}
		codes, err := r.codes.MemberPermissionCodes(ctx, tenant.MemberID)
		if err != nil {
			return Access{}, fmt.Errorf("member permission lookup: %w", err)
		}
		for _, code := range codes {
			access.PermissionCodes[code] = true
		}
	}

	// Platform admin is an override, not a tier among equals: it elevates
	// the result regardless of which tenant tier also matched.
	if isAdmin {
		access.Tier = TierPlatformAdmin
		access.ModuleFlags = AllModules(true)
		access.PermissionCodes = map[string]bool{Wildcard: true}
	}

	obs.ObserveResolution(string(access.Tier))
	return access, nil
}

// tenantTier runs the three tenant checks in precedence order, returning the
// first match. Errors are never interpreted as absence.
func (r *Resolver) tenantTier(ctx context.Context, userID, organizationID string) (*TenantTier, error) {
	if organizationID == "" {
		return nil, nil
	}
	owner, err := r.tiers.FindOwner(ctx, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("owner lookup: %w", err)
	}
	if owner != nil {
		return owner, nil
	}
	delegate, err := r.tiers.FindDelegate(ctx, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("delegate lookup: %w", err)
	}
	if delegate != nil {
		return delegate, nil
	}
	member, err := r.tiers.FindMember(ctx, userID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("member lookup: %w", err)
	}
	return member, nil
}
