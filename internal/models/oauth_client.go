package models

import (
	"time"

	"gorm.io/datatypes"
)

// OAuthClient is a dynamically registered OAuth client. Rows are
// immutable after registration; there is no deletion path.
type OAuthClient struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ClientID     string         `gorm:"type:text;not null;uniqueIndex"`   // Public client identifier.
	ClientSecret string         `gorm:"type:text;not null"`               // Client secret.
	ClientName   string         `gorm:"type:text;not null"`               // Display name; doubles as token origin.
	RedirectURIs datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Registered redirect URIs.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Registration timestamp.
}

// TableName keeps the table at oauth_clients; the default naming
// strategy would split the OAuth initialism into o_auth_clients.
func (OAuthClient) TableName() string { return "oauth_clients" }
