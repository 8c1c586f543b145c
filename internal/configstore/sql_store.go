package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tax-connect/pos-connector/internal/config"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/db"
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var ErrConfigurationNotFound = errors.New("adapter configuration not found")

// SqlConfigurationStore persists AdapterConfiguration records in postgres.
// Disconnects are soft deletes: the row keeps its audit trail and stops
// appearing in reads.
type SqlConfigurationStore struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlConfigurationStore(cfg *config.Config) (*SqlConfigurationStore, error) {
	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		return nil, err
	}

	return &SqlConfigurationStore{
		database:     database,
		queryTimeout: cfg.ConfigurationDatabaseQueryTimeout,
	}, nil
}

// NewSqlConfigurationStoreWithDB wires an existing connection, used by the
// readiness probe and tests.
func NewSqlConfigurationStoreWithDB(database *sql.DB, queryTimeout time.Duration) *SqlConfigurationStore {
	return &SqlConfigurationStore{
		database:     database,
		queryTimeout: queryTimeout,
	}
}

const upsertConfigurationSQL = `
	INSERT INTO adapter_configurations
		(id, business_id, pos_type, name, enabled, credentials, settings,
		 circuit_breaker_options, retry_options, cache_options,
		 webhook_secret, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		enabled = EXCLUDED.enabled,
		credentials = EXCLUDED.credentials,
		settings = EXCLUDED.settings,
		circuit_breaker_options = EXCLUDED.circuit_breaker_options,
		retry_options = EXCLUDED.retry_options,
		cache_options = EXCLUDED.cache_options,
		webhook_secret = EXCLUDED.webhook_secret,
		updated_at = EXCLUDED.updated_at,
		deleted_at = NULL`

func (scs *SqlConfigurationStore) Upsert(ctx context.Context, configuration *domain.AdapterConfiguration) error {

	callDurationTimer := prometheus.NewTimer(metrics.sqlUpsertConfigurationDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{
		"adapter_id":  configuration.ID,
		"business_id": configuration.BusinessID,
		"pos_type":    configuration.POSType,
	})

	credentials, err := json.Marshal(configuration.Credentials)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("Unable to marshal credentials")
		return err
	}

	settings, err := json.Marshal(configuration.Settings)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("Unable to marshal settings")
		return err
	}

	breakerOptions, err := marshalNullable(configuration.CircuitBreakerOptions)
	if err != nil {
		return err
	}
	retryOptions, err := marshalNullable(configuration.RetryOptions)
	if err != nil {
		return err
	}
	cacheOptions, err := marshalNullable(configuration.CacheOptions)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	_, err = scs.database.ExecContext(ctx, upsertConfigurationSQL,
		configuration.ID,
		configuration.BusinessID.String(),
		configuration.POSType.String(),
		configuration.Name,
		configuration.Enabled,
		credentials,
		settings,
		breakerOptions,
		retryOptions,
		cacheOptions,
		configuration.WebhookSecret,
		configuration.CreatedAt,
		configuration.UpdatedAt,
	)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("SQL upsert failed")
		return err
	}

	log.Info("Saved adapter configuration")
	return nil
}

const selectConfigurationColumns = `
	id, business_id, pos_type, name, enabled, credentials, settings,
	circuit_breaker_options, retry_options, cache_options,
	webhook_secret, created_at, updated_at`

func (scs *SqlConfigurationStore) Get(ctx context.Context, adapterID string) (*domain.AdapterConfiguration, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlLookupConfigurationDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	row := scs.database.QueryRowContext(ctx,
		`SELECT `+selectConfigurationColumns+`
		 FROM adapter_configurations
		 WHERE id = $1 AND deleted_at IS NULL`,
		adapterID)

	return scanConfiguration(row)
}

// GetByBusinessAndType resolves the configuration a webhook receiver needs
// from its routing path.
func (scs *SqlConfigurationStore) GetByBusinessAndType(ctx context.Context, businessID domain.BusinessID, posType domain.POSType) (*domain.AdapterConfiguration, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlLookupConfigurationDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	row := scs.database.QueryRowContext(ctx,
		`SELECT `+selectConfigurationColumns+`
		 FROM adapter_configurations
		 WHERE business_id = $1 AND pos_type = $2 AND deleted_at IS NULL
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		businessID.String(), posType.String())

	return scanConfiguration(row)
}

func (scs *SqlConfigurationStore) List(ctx context.Context, businessID domain.BusinessID) ([]*domain.AdapterConfiguration, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlLookupConfigurationDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	rows, err := scs.database.QueryContext(ctx,
		`SELECT `+selectConfigurationColumns+`
		 FROM adapter_configurations
		 WHERE business_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at`,
		businessID.String())
	if err != nil {
		logger.LogError("SQL query failed", err)
		return nil, err
	}
	defer rows.Close()

	var configurations []*domain.AdapterConfiguration
	for rows.Next() {
		configuration, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		configurations = append(configurations, configuration)
	}

	return configurations, rows.Err()
}

// SoftDelete marks the configuration disconnected. The credentials column
// is cleared at the same time: a disconnected tenant's secrets must not
// stay at rest.
func (scs *SqlConfigurationStore) SoftDelete(ctx context.Context, adapterID string) error {

	callDurationTimer := prometheus.NewTimer(metrics.sqlDeleteConfigurationDuration)
	defer callDurationTimer.ObserveDuration()

	ctx, cancel := context.WithTimeout(ctx, scs.queryTimeout)
	defer cancel()

	result, err := scs.database.ExecContext(ctx,
		`UPDATE adapter_configurations
		 SET deleted_at = NOW(), enabled = FALSE, credentials = '{}'
		 WHERE id = $1 AND deleted_at IS NULL`,
		adapterID)
	if err != nil {
		logger.LogError("SQL soft delete failed", err)
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConfigurationNotFound
	}

	logger.Log.WithFields(logrus.Fields{"adapter_id": adapterID}).Info("Disconnected adapter configuration")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfiguration(row rowScanner) (*domain.AdapterConfiguration, error) {
	var configuration domain.AdapterConfiguration
	var businessID, posType string
	var credentials, settings []byte
	var breakerOptions, retryOptions, cacheOptions sql.NullString
	var webhookSecret sql.NullString

	err := row.Scan(
		&configuration.ID,
		&businessID,
		&posType,
		&configuration.Name,
		&configuration.Enabled,
		&credentials,
		&settings,
		&breakerOptions,
		&retryOptions,
		&cacheOptions,
		&webhookSecret,
		&configuration.CreatedAt,
		&configuration.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrConfigurationNotFound
	}
	if err != nil {
		logger.LogError("SQL query failed", err)
		return nil, err
	}

	configuration.BusinessID = domain.BusinessID(businessID)
	configuration.POSType = domain.POSType(posType)
	configuration.WebhookSecret = webhookSecret.String

	if err := json.Unmarshal(credentials, &configuration.Credentials); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &configuration.Settings); err != nil {
			return nil, err
		}
	}

	if err := unmarshalNullable(breakerOptions, &configuration.CircuitBreakerOptions); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(retryOptions, &configuration.RetryOptions); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(cacheOptions, &configuration.CacheOptions); err != nil {
		return nil, err
	}

	return &configuration, nil
}

func marshalNullable(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case *domain.CircuitBreakerOptions:
		if v == nil {
			return nil, nil
		}
	case *domain.RetryOptions:
		if v == nil {
			return nil, nil
		}
	case *domain.CacheOptions:
		if v == nil {
			return nil, nil
		}
	}
	return json.Marshal(value)
}

func unmarshalNullable(column sql.NullString, target interface{}) error {
	if !column.Valid || column.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(column.String), target)
}
