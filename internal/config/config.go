// Package config defines the process configuration for the SMS dispatch
// services. Configuration is loaded once at process start (server boot or
// Lambda cold start) and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"smsdispatch/internal/types"
)

// SecretString is an alias for types.SecretString so that credential fields
// in Config are redacted in logs and JSON dumps.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"smsdispatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Redis         RedisConfig
	Gateway       GatewayConfig
	Scheduler     SchedulerConfig
	Dispatch      DispatchConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not Env.
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// DeliveryEventsQueue receives sent/failed delivery events. Empty disables publishing.
	DeliveryEventsQueue string `envconfig:"SQS_DELIVERY_EVENTS" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// RedisConfig configures the receipt cache. An empty Addr disables it.
type RedisConfig struct {
	Addr       string        `envconfig:"REDIS_ADDR"`
	Password   SecretString  `envconfig:"REDIS_PASSWORD"`
	DB         int           `envconfig:"REDIS_DB" default:"0" validate:"min=0"`
	ReceiptTTL time.Duration `envconfig:"RECEIPT_TTL" default:"24h"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// GatewayConfig holds outbound provider HTTP settings.
type GatewayConfig struct {
	Timeout     time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s" validate:"gt=0"`
	HTTPRetries int           `envconfig:"GATEWAY_HTTP_RETRIES" default:"1" validate:"min=0,max=5"`
	UserAgent   string        `envconfig:"GATEWAY_USER_AGENT" default:"smsdispatch/1.0"`
	// UseStub routes every send to the logging stub provider. Only honored in local.
	UseStub bool `envconfig:"GATEWAY_USE_STUB" default:"false"`
	// AllowPrivateEndpoints lets gateway rows point at private or loopback
	// addresses, e.g. a mock provider in a dev VPC.
	AllowPrivateEndpoints bool `envconfig:"GATEWAY_ALLOW_PRIVATE_ENDPOINTS" default:"false"`
	MaxRedirects          int  `envconfig:"GATEWAY_MAX_REDIRECTS" default:"3" validate:"min=0,max=10"`
}

// SchedulerConfig controls when and how much a scheduler pass processes.
type SchedulerConfig struct {
	Enabled         bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	Interval        time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"60s" validate:"gt=0"`
	ReclaimInterval time.Duration `envconfig:"RECLAIM_INTERVAL" default:"5m" validate:"gt=0"`
	TimeBudget      time.Duration `envconfig:"SCHEDULER_TIME_BUDGET" default:"2500ms" validate:"gt=0"`
	BatchSize       int           `envconfig:"SCHEDULER_BATCH_SIZE" default:"50" validate:"min=1,max=1000"`
	Concurrency     int           `envconfig:"SCHEDULER_CONCURRENCY" default:"1" validate:"min=1,max=32"`
}

// DispatchConfig holds the retry and recovery policy for a single message.
type DispatchConfig struct {
	MaxRetries           int           `envconfig:"DISPATCH_MAX_RETRIES" default:"3" validate:"min=1"`
	RetryBackoff         time.Duration `envconfig:"DISPATCH_RETRY_BACKOFF" default:"5m" validate:"gt=0"`
	StaleAfter           time.Duration `envconfig:"DISPATCH_STALE_AFTER" default:"5m" validate:"gt=0"`
	PermanentStatusCodes []int         `envconfig:"DISPATCH_PERMANENT_STATUS_CODES"`
	ReclaimBatchSize     int           `envconfig:"RECLAIM_BATCH_SIZE" default:"500" validate:"min=1"`
}

// SecurityConfig holds trigger authentication and CORS settings.
type SecurityConfig struct {
	// TriggerTokenHash is the bcrypt hash of the bearer token accepted by the
	// manual trigger endpoints. Required outside local.
	TriggerTokenHash   SecretString `envconfig:"TRIGGER_TOKEN_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SMSDispatch"`
	// CloudWatchMetrics enables PutMetricData from the cron dispatcher.
	CloudWatchMetrics bool `envconfig:"CLOUDWATCH_METRICS" default:"true"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
