package models

// GatePermission is the codename a user must hold to use the gateway.
const GatePermission = "has_mcp_access"

// Permission is a named access grant.
type Permission struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name     string `gorm:"type:text;not null;uniqueIndex"` // Display name.
	Codename string `gorm:"type:text;not null;uniqueIndex"` // Machine codename.

	Users []UserPermission `gorm:"foreignKey:PermissionID"` // Grantee links.
}
