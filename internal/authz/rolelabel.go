package authz

// Legacy single-label buckets derived from module flags. The portal's UI
// still renders one role string per member, computed by counting selected
// modules: exactly one module maps to its specific label, every module maps
// to super_admin, anything in between collapses to the generic admin label.
// The collapse for partially-overlapping selections is historical behavior
// carried over from the original portal; tests pin it as-is.
var moduleLabels = map[string]string{
	ModuleMembers:    "members_admin",
	ModuleHouseholds: "households_admin",
	ModuleDonations:  "finance_admin",
	ModuleCases:      "cases_admin",
	ModuleSettings:   "settings_admin",
}

const (
	labelSuperAdmin = "super_admin"
	labelAdmin      = "admin"
	labelMember     = "member"
)

// DeriveRoleLabel buckets a flag set into the legacy single-role label.
func DeriveRoleLabel(flags ModuleFlags) string {
	var selected []string
	for _, m := range Modules {
		if flags[m] {
			selected = append(selected, m)
		}
	}
	switch {
	case len(selected) == 0:
		return labelMember
	case len(selected) == 1:
		return moduleLabels[selected[0]]
	case len(selected) == len(Modules):
		return labelSuperAdmin
	default:
		return labelAdmin
	}
}
