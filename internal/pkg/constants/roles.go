package constants

const (
	Admin      = "admin"
	Supervisor = "supervisor"
	Fulfiller  = "fulfiller"
	Client     = "client"
)

// ValidRoles is the set of allowed values for Users.role.
var ValidRoles = []string{Client, Fulfiller, Supervisor, Admin}

// SelfServiceRoles may be chosen at registration; supervisors and admins are provisioned.
var SelfServiceRoles = []string{Client, Fulfiller}

// IsValidRole returns true if role is one of the allowed enum values.
func IsValidRole(role string) bool {
	return contains(ValidRoles, role)
}

// IsSelfServiceRole returns true if role may be picked by a registering user.
func IsSelfServiceRole(role string) bool {
	return contains(SelfServiceRoles, role)
}

func contains(list []string, v string) bool {
	for _, r := range list {
		if r == v {
			return true
		}
	}
	return false
}
