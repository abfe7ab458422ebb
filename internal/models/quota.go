package models

import "time"

// Quota user states. A blocked user is unblocked lazily once the tier
// window has elapsed since unblocked_at.
const (
	QuotaStatusActive  = "ACTIVE"
	QuotaStatusBlocked = "BLOCKED"
)

// QuotaUser tracks per-identity usage limits. One row per distinct
// email, created lazily on the first access-control check.
type QuotaUser struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email      string `gorm:"type:text;not null;uniqueIndex"`        // Tracked identity.
	Tier       string `gorm:"type:text;not null"`                    // Assigned tier name.
	TotalLimit int    `gorm:"not null"`                              // Lifetime distinct-resource cap.
	Status     string `gorm:"type:text;not null;default:'ACTIVE'"`   // ACTIVE or BLOCKED.

	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UnblockedAt time.Time `gorm:"not null"`                // Start of the current unblocked window.
	BlockedAt   time.Time `gorm:"not null"`                // Last block timestamp.

	Activities []Activity `gorm:"foreignKey:QuotaUserID"` // Access log entries.
}

// Activity is an append-only log row recording the first access to a
// resource by a quota user. Repeat accesses do not add rows.
type Activity struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	QuotaUserID uint64 `gorm:"not null;index:idx_activities_user_resource"`           // Accessing quota user.
	ResourceID  string `gorm:"type:text;not null;index:idx_activities_user_resource"` // Accessed resource identifier.

	AccessedAt time.Time `gorm:"not null;index"` // First-access timestamp.
}
