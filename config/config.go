package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"complaints-pipeline"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000" validate:"min=1,max=65535"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:"postgres"`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"consumer_data"`
	// Database SSL mode
	DatabaseSSLMode         string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Migration version, 0 means latest
	DatabaseMigrationVersion      int  `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int  `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Warehouse naming. Database and warehouse names are recorded on the stage registration.
	WarehouseDatabase string `env:"WAREHOUSE_DATABASE" env-default:"CONSUMER_DATA"`
	WarehouseSchema   string `env:"WAREHOUSE_SCHEMA" env-default:"PUBLIC" validate:"required"`
	WarehouseName     string `env:"WAREHOUSE_NAME" env-default:"COMPUTE_WH"`
	WarehouseTable    string `env:"WAREHOUSE_TABLE" env-default:"CONSUMER_COMPLAINTS" validate:"required"`
	WarehouseStage    string `env:"WAREHOUSE_STAGE" env-default:"CONSUMER_COMPLAINTS_S3_STAGE" validate:"required"`
	InsertBatchSize   int    `env:"WAREHOUSE_INSERT_BATCH_SIZE" env-default:"500" validate:"min=1"`

	// Object store
	S3Bucket    string `env:"S3_BUCKET_NAME" validate:"required_if=PipelineMode staged"`
	S3Prefix    string `env:"S3_PREFIX" env-default:"consumer_complaints" validate:"required"`
	S3Endpoint  string `env:"S3_ENDPOINT" env-default:"s3.amazonaws.com"`
	S3Region    string `env:"S3_REGION" env-default:"us-east-1"`
	S3UseSSL    bool   `env:"S3_USE_SSL" env-default:"true"`
	S3AccessKey string `env:"AWS_ACCESS_KEY_ID" validate:"required_if=PipelineMode staged"`
	S3SecretKey string `env:"AWS_SECRET_ACCESS_KEY" validate:"required_if=PipelineMode staged"`
	// Create the bucket at startup when missing (local MinIO)
	S3CreateBucket bool `env:"S3_CREATE_BUCKET" env-default:"false"`

	// Source API
	APIBaseURL         string        `env:"API_BASE_URL" env-default:"https://www.consumerfinance.gov/data-research/consumer-complaints/search/api/v1/" validate:"required,url"`
	APITimeout         time.Duration `env:"API_TIMEOUT" env-default:"30s"`
	APIMaxRetries      int           `env:"API_MAX_RETRIES" env-default:"3" validate:"min=0"`
	APIBackoff         time.Duration `env:"API_BACKOFF" env-default:"1s"`
	APIMaxResponseSize int64         `env:"API_MAX_RESPONSE_BYTES" env-default:"268435456"`

	// Pipeline
	PipelineMode          models.PipelineMode `env:"PIPELINE_MODE" env-default:"staged" validate:"oneof=staged direct"`
	LookbackDays          int                 `env:"LOOKBACK_DAYS" env-default:"1" validate:"min=0"`
	MaxRecords            int                 `env:"MAX_RECORDS" env-default:"0" validate:"min=0"`
	DataDir               string              `env:"DATA_DIR" env-default:"data"`
	CompaniesFile         string              `env:"COMPANIES_FILE" env-default:"config/companies.yaml"`
	FailOnValidationError bool                `env:"FAIL_ON_VALIDATION_ERROR" env-default:"false"`

	// Scheduler settings
	SchedulerEnabled  bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	ScheduleInterval  time.Duration `env:"SCHEDULE_INTERVAL" env-default:"24h"`
	RunOnStart        bool          `env:"RUN_ON_START" env-default:"false"`
	RunRetries        int           `env:"RUN_RETRIES" env-default:"3" validate:"min=0"`
	RunRetryDelay     time.Duration `env:"RUN_RETRY_DELAY" env-default:"5m"`
	RunLockTTL        time.Duration `env:"RUN_LOCK_TTL" env-default:"10m"`
	RunHistoryEnabled bool          `env:"RUN_HISTORY_ENABLED" env-default:"true"`

	// Auth Enabled - when true the run endpoints require an OIDC bearer token
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:"" validate:"required_if=AuthEnabled true"`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for run outcome events
	KafkaRunTopic string `env:"KAFKA_RUN_TOPIC" env-default:"complaints-pipeline-runs"`
	KafkaEnabled  bool   `env:"KAFKA_ENABLED" env-default:"true"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc" validate:"oneof=grpc http"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
	// Extra OTLP headers, "key=value" pairs separated by commas
	OTLPHeaders string `env:"OTLP_HEADERS" env-default:""`

	Companies []CompanyConfig `validate:"dive"`
}

// Load reads an optional .env file, the environment and the company list, then validates
// the result. It never contacts a remote service.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	companies, err := LoadCompanies(cfg.CompaniesFile)
	if err != nil {
		return nil, err
	}
	cfg.Companies = companies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required options. Missing object-store settings in staged mode are
// reported here, before any client is constructed.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make([]string, 0, len(validationErrors))
			for _, fieldErr := range validationErrors {
				fields = append(fields, fmt.Sprintf("%s (%s)", fieldErr.Namespace(), fieldErr.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	for _, company := range c.Companies {
		if err := company.validateRange(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Database returns the postgres connection settings.
func (c *Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

// KafkaBrokerList splits KafkaBrokers on commas.
func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
