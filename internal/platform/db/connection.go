package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/tax-connect/pos-connector/internal/config"

	_ "github.com/lib/pq"
)

func InitializeDatabaseConnection(cfg *config.Config) (*sql.DB, error) {

	psqlConnectionInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s TimeZone=UTC",
		cfg.ConfigurationDatabaseHost,
		cfg.ConfigurationDatabasePort,
		cfg.ConfigurationDatabaseUser,
		cfg.ConfigurationDatabasePassword,
		cfg.ConfigurationDatabaseName)

	sslSettings, err := buildPostgresSslConfigString(cfg)
	if err != nil {
		return nil, err
	}

	psqlConnectionInfo += " " + sslSettings

	return sql.Open("postgres", psqlConnectionInfo)
}

func buildPostgresSslConfigString(cfg *config.Config) (string, error) {
	if cfg.ConfigurationDatabaseSslMode == "disable" {
		return "sslmode=disable", nil
	} else if cfg.ConfigurationDatabaseSslMode == "verify-full" {
		return "sslmode=verify-full sslrootcert=" + cfg.ConfigurationDatabaseSslRootCert, nil
	} else {
		return "", errors.New("Invalid SSL configuration for database connection: " + cfg.ConfigurationDatabaseSslMode)
	}
}
