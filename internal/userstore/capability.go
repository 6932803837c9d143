package userstore

// Capability names an administrative permission.
type Capability string

const (
	CapReadAllCredits Capability = "credits:read_all"
	CapManageCredits  Capability = "credits:manage"
	CapManagePricing  Capability = "pricing:manage"
	CapManageInvites  Capability = "invites:manage"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleRootAdmin: {
		CapReadAllCredits: true,
		CapManageCredits:  true,
		CapManagePricing:  true,
		CapManageInvites:  true,
	},
	RoleAdmin: {
		CapReadAllCredits: true,
		CapManageCredits:  true,
		CapManageInvites:  true,
	},
}

// Can reports whether u holds capability. Inactive and unknown users hold
// nothing.
func Can(u *User, capability Capability) bool {
	if u == nil || u.Status == StatusInactive {
		return false
	}
	return roleCapabilities[u.Role][capability]
}
