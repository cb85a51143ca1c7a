package backup

import "path/filepath"

// Credential directories live under a single root:
//
//	<root>/tenant_<tenantId>/session_<instanceId>/   tenant-scoped
//	<root>/session_<instanceId>/                     legacy, no tenant
//
// Backup bundles preserve the same relative layout inside the archive so a
// restore unpacked at the root lands in place.

const (
	tenantDirPrefix  = "tenant_"
	sessionDirPrefix = "session_"
)

// CredentialDir returns the on-disk credential directory for an instance.
// tenantID may be empty for legacy root-scoped instances.
func CredentialDir(root, tenantID, instanceID string) string {
	if tenantID != "" {
		return filepath.Join(root, tenantDirPrefix+tenantID, sessionDirPrefix+instanceID)
	}
	return filepath.Join(root, sessionDirPrefix+instanceID)
}

// TenantDir returns the tenant subdirectory under root, or root itself when
// tenantID is empty.
func TenantDir(root, tenantID string) string {
	if tenantID == "" {
		return root
	}
	return filepath.Join(root, tenantDirPrefix+tenantID)
}

// archivePrefix is the path prefix entries carry inside a backup bundle.
func archivePrefix(tenantID, instanceID string) string {
	if tenantID != "" {
		return tenantDirPrefix + tenantID + "/" + sessionDirPrefix + instanceID
	}
	return sessionDirPrefix + instanceID
}
