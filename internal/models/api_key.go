package models

import "time"

// APIKey is a machine credential bound to exactly one user. Presenting
// it exchanges directly for a session token without the browser flow.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Token  string `gorm:"type:text;not null;uniqueIndex"` // Unique key token.
	UserID uint64 `gorm:"not null;index"`                 // Owning user ID.
	User   *User  `gorm:"foreignKey:UserID"`              // Owning user.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
