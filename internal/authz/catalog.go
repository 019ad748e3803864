package authz

import "strings"

// Modules are the coarse functional areas gated by legacy role flags.
const (
	ModuleMembers    = "members"
	ModuleHouseholds = "households"
	ModuleDonations  = "donations"
	ModuleCases      = "cases"
	ModuleSettings   = "settings"
)

// Modules lists every known module in catalog order.
var Modules = []string{
	ModuleMembers,
	ModuleHouseholds,
	ModuleDonations,
	ModuleCases,
	ModuleSettings,
}

// Wildcard is the permission code meaning "every code is granted".
const Wildcard = "*"

// Permission is an immutable catalog entry of the form module:action.
type Permission struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Module      string `json:"module"`
	Description string `json:"description,omitempty"`
}

// Catalog is the built-in permission set, grouped by module. The store
// upserts these at startup; the resolver only ever reads them.
var Catalog = []Permission{
	{Code: "members:view", Module: ModuleMembers, Description: "View member records"},
	{Code: "members:create", Module: ModuleMembers, Description: "Register new members"},
	{Code: "members:edit", Module: ModuleMembers, Description: "Edit member records"},
	{Code: "members:delete", Module: ModuleMembers, Description: "Delete member records"},
	{Code: "members:export", Module: ModuleMembers, Description: "Export member lists"},
	{Code: "households:view", Module: ModuleHouseholds, Description: "View households"},
	{Code: "households:create", Module: ModuleHouseholds, Description: "Create households"},
	{Code: "households:edit", Module: ModuleHouseholds, Description: "Edit households"},
	{Code: "households:delete", Module: ModuleHouseholds, Description: "Delete households"},
	{Code: "donations:view", Module: ModuleDonations, Description: "View donations"},
	{Code: "donations:create", Module: ModuleDonations, Description: "Record donations"},
	{Code: "donations:edit", Module: ModuleDonations, Description: "Edit donations"},
	{Code: "donations:delete", Module: ModuleDonations, Description: "Delete donations"},
	{Code: "donations:export", Module: ModuleDonations, Description: "Export donation reports"},
	{Code: "cases:view", Module: ModuleCases, Description: "View cases"},
	{Code: "cases:create", Module: ModuleCases, Description: "Open cases"},
	{Code: "cases:edit", Module: ModuleCases, Description: "Edit cases"},
	{Code: "cases:delete", Module: ModuleCases, Description: "Delete cases"},
	{Code: "settings:view", Module: ModuleSettings, Description: "View organization settings"},
	{Code: "settings:edit", Module: ModuleSettings, Description: "Manage organization settings"},
}

// PermGroupsManage gates the group-administration surface.
const PermGroupsManage = "settings:edit"

// CodeModule extracts the module part of a permission code. Empty when the
// code is malformed or the wildcard.
func CodeModule(code string) string {
	if code == Wildcard {
		return ""
	}
	idx := strings.IndexByte(code, ':')
	if idx <= 0 {
		return ""
	}
	return code[:idx]
}

// SystemGroupSeed describes a protected group created for every organization.
type SystemGroupSeed struct {
	Name        string
	Description string
	Codes       []string
}

// SystemGroupSeeds are provisioned per organization during onboarding.
// System groups cannot be deleted and keep their name/description fixed.
var SystemGroupSeeds = []SystemGroupSeed{
	{
		Name:        "Administrators",
		Description: "Full access to every module",
		Codes:       allCatalogCodes(),
	},
	{
		Name:        "Viewers",
		Description: "Read-only access across modules",
		Codes:       catalogCodesByAction("view"),
	},
}

func allCatalogCodes() []string {
	codes := make([]string, 0, len(Catalog))
	for _, p := range Catalog {
		codes = append(codes, p.Code)
	}
	return codes
}

func catalogCodesByAction(action string) []string {
	var codes []string
	for _, p := range Catalog {
		if strings.HasSuffix(p.Code, ":"+action) {
			codes = append(codes, p.Code)
		}
	}
	return codes
}
