package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ENV_PREFIX = "POS_CONNECTOR"

	URL_APP_NAME                   = "URL_App_Name"
	URL_PATH_PREFIX                = "URL_Path_Prefix"
	URL_BASE_PATH                  = "URL_Base_Path"
	HTTP_SHUTDOWN_TIMEOUT          = "HTTP_Shutdown_Timeout"
	SERVICE_TO_SERVICE_CREDENTIALS = "Service_To_Service_Credentials"
	PROFILE                        = "Enable_Profile"

	BROKERS                  = "Kafka_Brokers"
	JOBS_TOPIC               = "Kafka_Jobs_Topic"
	WEBHOOK_REDELIVERY_TOPIC = "Kafka_Webhook_Redelivery_Topic"
	JOBS_BATCH_SIZE          = "Kafka_Jobs_Batch_Size"
	JOBS_BATCH_BYTES         = "Kafka_Jobs_Batch_Bytes"
	KAFKA_USERNAME           = "Kafka_Username"
	KAFKA_PASSWORD           = "Kafka_Password"
	KAFKA_SASL_MECHANISM     = "Kafka_SASL_Mechanism"
	KAFKA_CA                 = "Kafka_CA"
	DEFAULT_BROKER_ADDRESS   = "kafka:29092"

	CONFIGURATION_DATABASE_HOST          = "Configuration_Database_Host"
	CONFIGURATION_DATABASE_PORT          = "Configuration_Database_Port"
	CONFIGURATION_DATABASE_USER          = "Configuration_Database_User"
	CONFIGURATION_DATABASE_PASSWORD      = "Configuration_Database_Password"
	CONFIGURATION_DATABASE_NAME          = "Configuration_Database_Name"
	CONFIGURATION_DATABASE_SSL_MODE      = "Configuration_Database_SSL_Mode"
	CONFIGURATION_DATABASE_SSL_ROOT_CERT = "Configuration_Database_SSL_Root_Cert"
	CONFIGURATION_DATABASE_QUERY_TIMEOUT = "Configuration_Database_Query_Timeout"

	SESSION_STORE_IMPL     = "Session_Store_Impl"
	SESSION_REDIS_ADDRESS  = "Session_Redis_Address"
	SESSION_REDIS_PASSWORD = "Session_Redis_Password"
	SESSION_REDIS_DB       = "Session_Redis_DB"
	SESSION_DURATION       = "Session_Duration"
	SESSION_SWEEP_INTERVAL = "Session_Sweep_Interval"

	DETECTION_MAX_PARALLEL_TESTS = "Detection_Max_Parallel_Tests"
	DETECTION_TIMEOUT            = "Detection_Timeout"

	CIRCUIT_BREAKER_FAILURE_THRESHOLD = "Circuit_Breaker_Failure_Threshold"
	CIRCUIT_BREAKER_COOLDOWN          = "Circuit_Breaker_Cooldown"
	RETRY_MAX_ATTEMPTS                = "Retry_Max_Attempts"
	RETRY_BASE_DELAY                  = "Retry_Base_Delay"
	RETRY_MAX_DELAY                   = "Retry_Max_Delay"
	RESPONSE_CACHE_MAX_ENTRIES        = "Response_Cache_Max_Entries"
	RESPONSE_CACHE_DEFAULT_TTL        = "Response_Cache_Default_TTL"

	WEBHOOK_DELIVERY_TIMEOUT      = "Webhook_Delivery_Timeout"
	WEBHOOK_DELIVERY_MAX_ATTEMPTS = "Webhook_Delivery_Max_Attempts"

	OAUTH_STATE_SIGNING_KEY = "OAuth_State_Signing_Key"
)

type Config struct {
	UrlAppName                  string
	UrlPathPrefix               string
	UrlBasePath                 string
	HttpShutdownTimeout         time.Duration
	ServiceToServiceCredentials map[string]interface{}
	Profile                     bool

	KafkaBrokers                []string
	KafkaJobsTopic              string
	KafkaWebhookRedeliveryTopic string
	KafkaJobsBatchSize          int
	KafkaJobsBatchBytes         int
	KafkaUsername               string
	KafkaPassword               string
	KafkaSASLMechanism          string
	KafkaCA                     string

	ConfigurationDatabaseHost         string
	ConfigurationDatabasePort         int
	ConfigurationDatabaseUser         string
	ConfigurationDatabasePassword     string
	ConfigurationDatabaseName         string
	ConfigurationDatabaseSslMode      string
	ConfigurationDatabaseSslRootCert  string
	ConfigurationDatabaseQueryTimeout time.Duration

	SessionStoreImpl     string
	SessionRedisAddress  string
	SessionRedisPassword string
	SessionRedisDB       int
	SessionDuration      time.Duration
	SessionSweepInterval time.Duration

	DetectionMaxParallelTests int
	DetectionTimeout          time.Duration

	CircuitBreakerFailureThreshold int
	CircuitBreakerCooldown         time.Duration
	RetryMaxAttempts               int
	RetryBaseDelay                 time.Duration
	RetryMaxDelay                  time.Duration
	ResponseCacheMaxEntries        int
	ResponseCacheDefaultTTL        time.Duration

	WebhookDeliveryTimeout     time.Duration
	WebhookDeliveryMaxAttempts int

	OAuthStateSigningKey string
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", URL_PATH_PREFIX, c.UrlPathPrefix)
	fmt.Fprintf(&b, "%s: %s\n", URL_APP_NAME, c.UrlAppName)
	fmt.Fprintf(&b, "%s: %s\n", URL_BASE_PATH, c.UrlBasePath)
	fmt.Fprintf(&b, "%s: %s\n", HTTP_SHUTDOWN_TIMEOUT, c.HttpShutdownTimeout)
	fmt.Fprintf(&b, "%s: %t\n", PROFILE, c.Profile)
	fmt.Fprintf(&b, "%s: %s\n", BROKERS, c.KafkaBrokers)
	fmt.Fprintf(&b, "%s: %s\n", JOBS_TOPIC, c.KafkaJobsTopic)
	fmt.Fprintf(&b, "%s: %s\n", WEBHOOK_REDELIVERY_TOPIC, c.KafkaWebhookRedeliveryTopic)
	fmt.Fprintf(&b, "%s: %d\n", JOBS_BATCH_SIZE, c.KafkaJobsBatchSize)
	fmt.Fprintf(&b, "%s: %d\n", JOBS_BATCH_BYTES, c.KafkaJobsBatchBytes)
	fmt.Fprintf(&b, "%s: %s\n", CONFIGURATION_DATABASE_HOST, c.ConfigurationDatabaseHost)
	fmt.Fprintf(&b, "%s: %d\n", CONFIGURATION_DATABASE_PORT, c.ConfigurationDatabasePort)
	fmt.Fprintf(&b, "%s: %s\n", CONFIGURATION_DATABASE_NAME, c.ConfigurationDatabaseName)
	fmt.Fprintf(&b, "%s: %s\n", CONFIGURATION_DATABASE_SSL_MODE, c.ConfigurationDatabaseSslMode)
	fmt.Fprintf(&b, "%s: %s\n", SESSION_STORE_IMPL, c.SessionStoreImpl)
	fmt.Fprintf(&b, "%s: %s\n", SESSION_REDIS_ADDRESS, c.SessionRedisAddress)
	fmt.Fprintf(&b, "%s: %d\n", SESSION_REDIS_DB, c.SessionRedisDB)
	fmt.Fprintf(&b, "%s: %s\n", SESSION_DURATION, c.SessionDuration)
	fmt.Fprintf(&b, "%s: %s\n", SESSION_SWEEP_INTERVAL, c.SessionSweepInterval)
	fmt.Fprintf(&b, "%s: %d\n", DETECTION_MAX_PARALLEL_TESTS, c.DetectionMaxParallelTests)
	fmt.Fprintf(&b, "%s: %s\n", DETECTION_TIMEOUT, c.DetectionTimeout)
	fmt.Fprintf(&b, "%s: %d\n", CIRCUIT_BREAKER_FAILURE_THRESHOLD, c.CircuitBreakerFailureThreshold)
	fmt.Fprintf(&b, "%s: %s\n", CIRCUIT_BREAKER_COOLDOWN, c.CircuitBreakerCooldown)
	fmt.Fprintf(&b, "%s: %d\n", RETRY_MAX_ATTEMPTS, c.RetryMaxAttempts)
	fmt.Fprintf(&b, "%s: %s\n", RETRY_BASE_DELAY, c.RetryBaseDelay)
	fmt.Fprintf(&b, "%s: %s\n", RETRY_MAX_DELAY, c.RetryMaxDelay)
	fmt.Fprintf(&b, "%s: %d\n", RESPONSE_CACHE_MAX_ENTRIES, c.ResponseCacheMaxEntries)
	fmt.Fprintf(&b, "%s: %s\n", RESPONSE_CACHE_DEFAULT_TTL, c.ResponseCacheDefaultTTL)
	fmt.Fprintf(&b, "%s: %s\n", WEBHOOK_DELIVERY_TIMEOUT, c.WebhookDeliveryTimeout)
	fmt.Fprintf(&b, "%s: %d\n", WEBHOOK_DELIVERY_MAX_ATTEMPTS, c.WebhookDeliveryMaxAttempts)

	return b.String()
}

func GetConfig() *Config {
	options := viper.New()

	options.SetDefault(URL_PATH_PREFIX, "api")
	options.SetDefault(URL_APP_NAME, "pos-connector")
	options.SetDefault(HTTP_SHUTDOWN_TIMEOUT, 2)
	options.SetDefault(SERVICE_TO_SERVICE_CREDENTIALS, "")
	options.SetDefault(PROFILE, false)

	options.SetDefault(BROKERS, []string{DEFAULT_BROKER_ADDRESS})
	options.SetDefault(JOBS_TOPIC, "platform.pos-connector.jobs")
	options.SetDefault(WEBHOOK_REDELIVERY_TOPIC, "platform.pos-connector.webhook-redelivery")
	options.SetDefault(JOBS_BATCH_SIZE, 100)
	options.SetDefault(JOBS_BATCH_BYTES, 1048576)
	options.SetDefault(KAFKA_USERNAME, "")
	options.SetDefault(KAFKA_PASSWORD, "")
	options.SetDefault(KAFKA_SASL_MECHANISM, "")
	options.SetDefault(KAFKA_CA, "")

	options.SetDefault(CONFIGURATION_DATABASE_HOST, "localhost")
	options.SetDefault(CONFIGURATION_DATABASE_PORT, 5432)
	options.SetDefault(CONFIGURATION_DATABASE_USER, "pos-connector")
	options.SetDefault(CONFIGURATION_DATABASE_PASSWORD, "pos-connector")
	options.SetDefault(CONFIGURATION_DATABASE_NAME, "pos-connector")
	options.SetDefault(CONFIGURATION_DATABASE_SSL_MODE, "disable")
	options.SetDefault(CONFIGURATION_DATABASE_SSL_ROOT_CERT, "db_ssl_root_cert.pem")
	options.SetDefault(CONFIGURATION_DATABASE_QUERY_TIMEOUT, 5*time.Second)

	options.SetDefault(SESSION_STORE_IMPL, "redis")
	options.SetDefault(SESSION_REDIS_ADDRESS, "localhost:6379")
	options.SetDefault(SESSION_REDIS_PASSWORD, "")
	options.SetDefault(SESSION_REDIS_DB, 0)
	options.SetDefault(SESSION_DURATION, 30*time.Minute)
	options.SetDefault(SESSION_SWEEP_INTERVAL, 5*time.Minute)

	options.SetDefault(DETECTION_MAX_PARALLEL_TESTS, 3)
	options.SetDefault(DETECTION_TIMEOUT, 10*time.Second)

	options.SetDefault(CIRCUIT_BREAKER_FAILURE_THRESHOLD, 5)
	options.SetDefault(CIRCUIT_BREAKER_COOLDOWN, 30*time.Second)
	options.SetDefault(RETRY_MAX_ATTEMPTS, 3)
	options.SetDefault(RETRY_BASE_DELAY, 500*time.Millisecond)
	options.SetDefault(RETRY_MAX_DELAY, 10*time.Second)
	options.SetDefault(RESPONSE_CACHE_MAX_ENTRIES, 1024)
	options.SetDefault(RESPONSE_CACHE_DEFAULT_TTL, 5*time.Minute)

	options.SetDefault(WEBHOOK_DELIVERY_TIMEOUT, 15*time.Second)
	options.SetDefault(WEBHOOK_DELIVERY_MAX_ATTEMPTS, 5)

	options.SetDefault(OAUTH_STATE_SIGNING_KEY, "")

	options.SetEnvPrefix(ENV_PREFIX)
	options.AutomaticEnv()

	return &Config{
		UrlPathPrefix:               options.GetString(URL_PATH_PREFIX),
		UrlAppName:                  options.GetString(URL_APP_NAME),
		UrlBasePath:                 buildUrlBasePath(options.GetString(URL_PATH_PREFIX), options.GetString(URL_APP_NAME)),
		HttpShutdownTimeout:         options.GetDuration(HTTP_SHUTDOWN_TIMEOUT) * time.Second,
		ServiceToServiceCredentials: options.GetStringMap(SERVICE_TO_SERVICE_CREDENTIALS),
		Profile:                     options.GetBool(PROFILE),

		KafkaBrokers:                options.GetStringSlice(BROKERS),
		KafkaJobsTopic:              options.GetString(JOBS_TOPIC),
		KafkaWebhookRedeliveryTopic: options.GetString(WEBHOOK_REDELIVERY_TOPIC),
		KafkaJobsBatchSize:          options.GetInt(JOBS_BATCH_SIZE),
		KafkaJobsBatchBytes:         options.GetInt(JOBS_BATCH_BYTES),
		KafkaUsername:               options.GetString(KAFKA_USERNAME),
		KafkaPassword:               options.GetString(KAFKA_PASSWORD),
		KafkaSASLMechanism:          options.GetString(KAFKA_SASL_MECHANISM),
		KafkaCA:                     options.GetString(KAFKA_CA),

		ConfigurationDatabaseHost:         options.GetString(CONFIGURATION_DATABASE_HOST),
		ConfigurationDatabasePort:         options.GetInt(CONFIGURATION_DATABASE_PORT),
		ConfigurationDatabaseUser:         options.GetString(CONFIGURATION_DATABASE_USER),
		ConfigurationDatabasePassword:     options.GetString(CONFIGURATION_DATABASE_PASSWORD),
		ConfigurationDatabaseName:         options.GetString(CONFIGURATION_DATABASE_NAME),
		ConfigurationDatabaseSslMode:      options.GetString(CONFIGURATION_DATABASE_SSL_MODE),
		ConfigurationDatabaseSslRootCert:  options.GetString(CONFIGURATION_DATABASE_SSL_ROOT_CERT),
		ConfigurationDatabaseQueryTimeout: options.GetDuration(CONFIGURATION_DATABASE_QUERY_TIMEOUT),

		SessionStoreImpl:     options.GetString(SESSION_STORE_IMPL),
		SessionRedisAddress:  options.GetString(SESSION_REDIS_ADDRESS),
		SessionRedisPassword: options.GetString(SESSION_REDIS_PASSWORD),
		SessionRedisDB:       options.GetInt(SESSION_REDIS_DB),
		SessionDuration:      options.GetDuration(SESSION_DURATION),
		SessionSweepInterval: options.GetDuration(SESSION_SWEEP_INTERVAL),

		DetectionMaxParallelTests: options.GetInt(DETECTION_MAX_PARALLEL_TESTS),
		DetectionTimeout:          options.GetDuration(DETECTION_TIMEOUT),

		CircuitBreakerFailureThreshold: options.GetInt(CIRCUIT_BREAKER_FAILURE_THRESHOLD),
		CircuitBreakerCooldown:         options.GetDuration(CIRCUIT_BREAKER_COOLDOWN),
		RetryMaxAttempts:               options.GetInt(RETRY_MAX_ATTEMPTS),
		RetryBaseDelay:                 options.GetDuration(RETRY_BASE_DELAY),
		RetryMaxDelay:                  options.GetDuration(RETRY_MAX_DELAY),
		ResponseCacheMaxEntries:        options.GetInt(RESPONSE_CACHE_MAX_ENTRIES),
		ResponseCacheDefaultTTL:        options.GetDuration(RESPONSE_CACHE_DEFAULT_TTL),

		WebhookDeliveryTimeout:     options.GetDuration(WEBHOOK_DELIVERY_TIMEOUT),
		WebhookDeliveryMaxAttempts: options.GetInt(WEBHOOK_DELIVERY_MAX_ATTEMPTS),

		OAuthStateSigningKey: options.GetString(OAUTH_STATE_SIGNING_KEY),
	}
}

func buildUrlBasePath(pathPrefix string, appName string) string {
	return fmt.Sprintf("/%s/%s/v1", pathPrefix, appName)
}
