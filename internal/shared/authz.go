package shared

// Identity administration permissions. Names follow the RESOURCE_ACTION
// convention; the resource and action halves are stored alongside each name.
const (
	PermUserRead   = "USER_READ"
	PermUserCreate = "USER_CREATE"
	PermUserUpdate = "USER_UPDATE"
	PermUserDelete = "USER_DELETE"

	PermRoleRead   = "ROLE_READ"
	PermRoleManage = "ROLE_MANAGE"

	PermPermissionRead = "PERMISSION_READ"

	PermAuditRead = "AUDIT_READ"
)

// CoreScopes lists all identity administration permissions.
func CoreScopes() []string {
	return []string{
		PermUserRead,
		PermUserCreate,
		PermUserUpdate,
		PermUserDelete,
		PermRoleRead,
		PermRoleManage,
		PermPermissionRead,
		PermAuditRead,
	}
}
