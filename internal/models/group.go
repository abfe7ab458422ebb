package models

// Group is a named user group. Tier assignment is derived from group
// names carrying a "user_type:" prefix.
type Group struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"type:text;not null;uniqueIndex"` // Unique group name.

	Users []UserGroup `gorm:"foreignKey:GroupID"` // Member links.
}
