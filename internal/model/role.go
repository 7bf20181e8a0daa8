package model

// Role is the closed set of caller roles known to the routing core.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOrgAdmin   Role = "org_admin"
	RoleAgent      Role = "agent"
	RoleCustomer   Role = "customer"
	RoleService    Role = "service"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleSuperAdmin, RoleOrgAdmin, RoleAgent, RoleCustomer, RoleService:
		return r, true
	}
	return "", false
}

type Capability string

const (
	CapEscalateManually Capability = "session:escalate"
	CapAssign           Capability = "session:assign"
	CapHandle           Capability = "session:handle"
	CapManageConfig     Capability = "escalation:configure"
	CapViewStats        Capability = "escalation:stats"
	CapManageAgents     Capability = "agent:manage"
	CapRouteMessages    Capability = "message:route"
)

var roleCapabilities = map[Role][]Capability{
	RoleSuperAdmin: {CapEscalateManually, CapAssign, CapHandle, CapManageConfig, CapViewStats, CapManageAgents, CapRouteMessages},
	RoleOrgAdmin:   {CapEscalateManually, CapAssign, CapHandle, CapManageConfig, CapViewStats, CapManageAgents, CapRouteMessages},
	RoleAgent:      {CapEscalateManually, CapAssign, CapHandle, CapViewStats},
	RoleService:    {CapRouteMessages},
	RoleCustomer:   {},
}

func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}
