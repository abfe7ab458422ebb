package db

import (
	"errors"
	"fmt"

	"gonggate/internal/models"

	"gorm.io/gorm"
)

// Migrate runs schema migrations and seeds the gate permission row.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Group{},
		&models.Permission{},
		&models.User{},
		&models.UserGroup{},
		&models.UserPermission{},
		&models.APIKey{},
		&models.OAuthClient{},
		&models.QuotaUser{},
		&models.Activity{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureGatePermission(conn); errSeed != nil {
		return errSeed
	}

	// ddl defines an index statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_activities_user_accessed_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_activities_user_accessed_at
				ON activities (quota_user_id, accessed_at DESC)
			`,
		},
		{
			name: "idx_api_keys_token",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_api_keys_token
				ON api_keys (token)
			`,
		},
		{
			name: "idx_oauth_clients_client_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_oauth_clients_client_id_created_at
				ON oauth_clients (client_id, created_at DESC)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}

// ensureGatePermission seeds the gate permission row when absent.
func ensureGatePermission(conn *gorm.DB) error {
	var existing models.Permission
	errFind := conn.Where("codename = ?", models.GatePermission).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query gate permission: %w", errFind)
	}

	row := models.Permission{
		Name:     "Can access the sales gateway",
		Codename: models.GatePermission,
	}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("db: create gate permission: %w", errCreate)
	}
	return nil
}
