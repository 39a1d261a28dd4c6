package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/stageflow/config"
)

// NewMigratorFromConfig creates a new migrator from application configuration
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a new migrator from database configuration
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	if dbCfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver for migrations: %s", dbCfg.Driver)
	}

	dbURL := BuildDatabaseURL(
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.Name,
		dbCfg.User,
		dbCfg.Password,
		dbCfg.SSLMode,
	)

	return NewMigrator(&Config{
		DatabaseURL: dbURL,
		TableName:   "schema_migrations",
	})
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbURL string) (*DefaultMigrator, error) {
	return NewMigrator(&Config{
		DatabaseURL: dbURL,
		TableName:   "schema_migrations",
	})
}
