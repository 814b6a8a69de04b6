package constants

const (
	SubmitProject     = "submit_project"
	SubmitDeliverable = "submit_deliverable"
	RequestWithdrawal = "request_withdrawal"
	ResolveWithdrawal = "resolve_withdrawal"
	VerifyAccount     = "verify_account"
	ViewWallet        = "view_wallet"
	AssignRole        = "assign_role"
	AuditLedger       = "audit_ledger"
)

// PermissionRoles maps each permission to roles allowed to perform it.
var PermissionRoles = map[string][]string{
	SubmitProject:     {Client},
	SubmitDeliverable: {Fulfiller},
	RequestWithdrawal: {Client, Fulfiller},
	ViewWallet:        {Client, Fulfiller},
	ResolveWithdrawal: {Admin},
	VerifyAccount:     {Admin},
	AssignRole:        {Admin},
	AuditLedger:       {Admin, Supervisor},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	return contains(roles, role)
}
