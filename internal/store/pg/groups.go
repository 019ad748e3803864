package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"amana.org/internal/authz"
	"amana.org/internal/ids"
)

// ListGroups returns every group in the organization with permission and
// member counts, system groups first, then alphabetical.
func (s *Store) ListGroups(ctx context.Context, organizationID string) ([]authz.GroupSummary, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select g.id, g.organization_id, g.name, g.description, g.is_system,
		       count(distinct gp.permission_id), count(distinct gm.member_id),
		       g.created_at
		from permission_groups g
		left join group_permissions gp on gp.group_id = g.id
		left join group_members gm on gm.group_id = g.id
		where g.organization_id = $1
		group by g.id
		order by g.is_system desc, g.name
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []authz.GroupSummary
	for rows.Next() {
		var (
			g    authz.GroupSummary
			desc sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.OrganizationID, &g.Name, &desc, &g.IsSystem,
			&g.PermissionCount, &g.MemberCount, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Description = desc.String
		result = append(result, g)
	}
	return result, rows.Err()
}

// GetGroup loads a group with its resolved permission list, or nil when the
// group does not exist. Dangling catalog references are filtered out by the
// permissions join.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*authz.PermissionGroup, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		group authz.PermissionGroup
		desc  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, name, description, is_system, created_at, updated_at
		from permission_groups
		where id = $1
	`, groupID).Scan(&group.ID, &group.OrganizationID, &group.Name, &desc,
		&group.IsSystem, &group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	group.Description = desc.String

	perms, err := s.groupPermissions(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group.Permissions = perms
	return &group, nil
}

func (s *Store) groupPermissions(ctx context.Context, groupID string) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.code, p.module, coalesce(p.description, '')
		from permissions p
		join group_permissions gp on gp.permission_id = p.id
		where gp.group_id = $1
		order by p.code
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []authz.Permission{}
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Module, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreateGroup inserts a non-system group and its permission joins in one
// transaction, so a failed attachment leaves no half-created group behind.
func (s *Store) CreateGroup(ctx context.Context, organizationID, name, description string, permissionIDs []string) (*authz.PermissionGroup, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	groupID := ids.New()
	if _, err := tx.ExecContext(ctx, `
		insert into permission_groups (id, organization_id, name, description, is_system)
		values ($1, $2, $3, $4, false)
	`, groupID, organizationID, name, nullIfEmpty(description)); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return nil, authz.ErrConflict
			case pgErrForeignKeyViolation:
				return nil, authz.ErrNotFound
			}
		}
		return nil, err
	}

	if err := insertGroupPermissions(ctx, tx, groupID, permissionIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetGroup(ctx, groupID)
}

// UpdateGroup applies partial changes. Name and description edits on system
// groups fail with ErrSystemGroupProtected; permission replacement is
// allowed for every group.
func (s *Store) UpdateGroup(ctx context.Context, groupID string, upd authz.GroupUpdate) (*authz.PermissionGroup, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var isSystem bool
	err = tx.QueryRowContext(ctx, `
		select is_system from permission_groups where id = $1
	`, groupID).Scan(&isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if isSystem && (upd.Name != nil || upd.Description != nil) {
		return nil, fmt.Errorf("%w: name and description are fixed", authz.ErrSystemGroupProtected)
	}

	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		if *upd.Description == "" {
			sets = append(sets, "description = NULL")
		} else {
			sets = append(sets, fmt.Sprintf("description = $%d", idx))
			args = append(args, *upd.Description)
			idx++
		}
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update permission_groups set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, groupID)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, authz.ErrConflict
			}
			return nil, err
		}
	}

	if upd.PermissionIDs != nil {
		if _, err := tx.ExecContext(ctx, `
			delete from group_permissions where group_id = $1
		`, groupID); err != nil {
			return nil, err
		}
		if err := insertGroupPermissions(ctx, tx, groupID, upd.PermissionIDs); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetGroup(ctx, groupID)
}

// DeleteGroup removes a group and cascades its joins. System groups cannot
// be deleted.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	var isSystem bool
	err := s.db.QueryRowContext(ctx, `
		select is_system from permission_groups where id = $1
	`, groupID).Scan(&isSystem)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.ErrNotFound
	}
	if err != nil {
		return err
	}
	if isSystem {
		return authz.ErrSystemGroupProtected
	}
	res, err := s.db.ExecContext(ctx, `delete from permission_groups where id = $1`, groupID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// SetGroupPermissions replaces the whole permission set inside one
// transaction; an empty list clears the group.
func (s *Store) SetGroupPermissions(ctx context.Context, groupID string, permissionIDs []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `
		select 1 from permission_groups where id = $1
	`, groupID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from group_permissions where group_id = $1
	`, groupID); err != nil {
		return err
	}
	if err := insertGroupPermissions(ctx, tx, groupID, permissionIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertGroupPermissions(ctx context.Context, tx *sql.Tx, groupID string, permissionIDs []string) error {
	for _, permID := range permissionIDs {
		res, err := tx.ExecContext(ctx, `
			insert into group_permissions (group_id, permission_id)
			select $1, id from permissions where id = $2
		`, groupID, permID)
		if err != nil {
			return err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if aff == 0 {
			return fmt.Errorf("%w: permission %s", authz.ErrNotFound, permID)
		}
	}
	return nil
}

// ListMembers returns the group's assignments, most recently assigned first.
func (s *Store) ListMembers(ctx context.Context, groupID string) ([]authz.GroupMember, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select gm.group_id, gm.member_id, m.user_id,
		       coalesce(u.email, ''), coalesce(u.full_name, ''), gm.assigned_at
		from group_members gm
		join organization_members m on m.id = gm.member_id
		left join users u on u.id = m.user_id
		where gm.group_id = $1
		order by gm.assigned_at desc
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []authz.GroupMember
	for rows.Next() {
		var gm authz.GroupMember
		if err := rows.Scan(&gm.GroupID, &gm.MemberID, &gm.UserID,
			&gm.Email, &gm.FullName, &gm.AssignedAt); err != nil {
			return nil, err
		}
		members = append(members, gm)
	}
	return members, rows.Err()
}

// ListMembersNotInGroup returns organization members outside the group, for
// add-member pickers.
func (s *Store) ListMembersNotInGroup(ctx context.Context, organizationID, groupID string) ([]authz.MemberSummary, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select m.id, m.user_id, coalesce(u.email, ''), coalesce(u.full_name, '')
		from organization_members m
		left join users u on u.id = m.user_id
		where m.organization_id = $1
		  and not exists (
			select 1 from group_members gm
			where gm.group_id = $2 and gm.member_id = m.id
		  )
		order by coalesce(u.full_name, ''), m.id
	`, organizationID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []authz.MemberSummary
	for rows.Next() {
		var m authz.MemberSummary
		if err := rows.Scan(&m.ID, &m.UserID, &m.Email, &m.FullName); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember assigns the member to the group. An existing pair fails with
// ErrDuplicateMembership; an unknown group or member maps to ErrNotFound.
func (s *Store) AddMember(ctx context.Context, groupID, memberID string) (authz.GroupMember, error) {
	if s.db == nil {
		return authz.GroupMember{}, errors.New("database connection unavailable")
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into group_members (group_id, member_id)
		values ($1, $2)
	`, groupID, memberID); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return authz.GroupMember{}, authz.ErrDuplicateMembership
			case pgErrForeignKeyViolation:
				return authz.GroupMember{}, authz.ErrNotFound
			}
		}
		return authz.GroupMember{}, err
	}

	var gm authz.GroupMember
	err := s.db.QueryRowContext(ctx, `
		select gm.group_id, gm.member_id, m.user_id,
		       coalesce(u.email, ''), coalesce(u.full_name, ''), gm.assigned_at
		from group_members gm
		join organization_members m on m.id = gm.member_id
		left join users u on u.id = m.user_id
		where gm.group_id = $1 and gm.member_id = $2
	`, groupID, memberID).Scan(&gm.GroupID, &gm.MemberID, &gm.UserID,
		&gm.Email, &gm.FullName, &gm.AssignedAt)
	if err != nil {
		return authz.GroupMember{}, err
	}
	return gm, nil
}

// RemoveMember deletes the assignment; a missing pair is not an error.
func (s *Store) RemoveMember(ctx context.Context, groupID, memberID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		delete from group_members
		where group_id = $1 and member_id = $2
	`, groupID, memberID)
	return err
}

// MemberPermissionCodes returns the deduplicated union of codes reachable
// through every group the member belongs to.
func (s *Store) MemberPermissionCodes(ctx context.Context, memberID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.code
		from group_members gm
		join group_permissions gp on gp.group_id = gm.group_id
		join permissions p on p.id = gp.permission_id
		where gm.member_id = $1
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// GroupUserIDs returns the user ids behind every member of the group.
func (s *Store) GroupUserIDs(ctx context.Context, groupID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct m.user_id
		from group_members gm
		join organization_members m on m.id = gm.member_id
		where gm.group_id = $1
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// EnsurePermissions upserts the catalog codes.
func (s *Store) EnsurePermissions(ctx context.Context, perms []authz.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, code, module, description)
			values ($1, $2, $3, $4)
			on conflict (code) do nothing
		`, id, p.Code, p.Module, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSystemGroups provisions the protected per-organization groups and
// their permission sets idempotently.
func (s *Store) EnsureSystemGroups(ctx context.Context, organizationID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	for _, seed := range authz.SystemGroupSeeds {
		if _, err := s.db.ExecContext(ctx, `
			insert into permission_groups (id, organization_id, name, description, is_system)
			values ($1, $2, $3, $4, true)
			on conflict (organization_id, name) do nothing
		`, ids.New(), organizationID, seed.Name, nullIfEmpty(seed.Description)); err != nil {
			return err
		}
		var groupID string
		if err := s.db.QueryRowContext(ctx, `
			select id from permission_groups
			where organization_id = $1 and name = $2
		`, organizationID, seed.Name).Scan(&groupID); err != nil {
			return err
		}
		for _, code := range seed.Codes {
			if _, err := s.db.ExecContext(ctx, `
				insert into group_permissions (group_id, permission_id)
				select $1, id from permissions where code = $2
				on conflict do nothing
			`, groupID, code); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListCatalog returns every catalog permission ordered by code.
func (s *Store) ListCatalog(ctx context.Context) ([]authz.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, code, module, coalesce(description, '')
		from permissions
		order by code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Module, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
