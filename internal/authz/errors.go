package authz

import "errors"

var (
	ErrInvalidInput         = errors.New("authz: invalid input")
	ErrNotFound             = errors.New("authz: not found")
	ErrConflict             = errors.New("authz: resource conflict")
	ErrSystemGroupProtected = errors.New("authz: system group is protected")
	ErrDuplicateMembership  = errors.New("authz: member already assigned to group")
)
