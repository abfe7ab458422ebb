package models

import "time"

// User represents an upstream identity account stored in the database.
// Rows are created by the upstream user-management system; the gateway
// only reads them.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique login email.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	IsActive bool `gorm:"not null"` // Whether the user can sign in.

	Groups      []UserGroup      `gorm:"foreignKey:UserID"` // Group memberships.
	Permissions []UserPermission `gorm:"foreignKey:UserID"` // Permission grants.
	APIKeys     []APIKey         `gorm:"foreignKey:UserID"` // Related API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// UserGroup links a user to a group.
type UserGroup struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  uint64 `gorm:"not null;index"` // Member user ID.
	GroupID uint64 `gorm:"not null;index"` // Group ID.

	Group *Group `gorm:"foreignKey:GroupID"` // Linked group.
}

// UserPermission links a user to a permission grant.
type UserPermission struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID       uint64 `gorm:"not null;index"` // Grantee user ID.
	PermissionID uint64 `gorm:"not null;index"` // Granted permission ID.

	Permission *Permission `gorm:"foreignKey:PermissionID"` // Linked permission.
}
