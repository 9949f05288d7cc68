package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig. Type tells operators which stage failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

const ssmResolveTimeout = 30 * time.Second

// loaderEnv is the slice of the process environment the loader touches.
// Tests swap it for a map-backed fake.
type loaderEnv struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func osEnv() loaderEnv {
	return loaderEnv{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// LoadConfig loads, resolves and validates the configuration.
//
//  1. Pin the process timezone to UTC (scheduled_for comparisons assume UTC).
//  2. Load .env if present; it never overrides the real environment.
//  3. Outside local, resolve *_SSM_PARAM pointers through provider.
//  4. Populate Config from envconfig tags.
//  5. Attach BuildInfo, then run tag and cross-field validation.
//
// provider may be nil in local or when no *_SSM_PARAM variables are set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, osEnv())
}

func load(provider SecretProvider, env loaderEnv) (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	appEnv, _ := env.lookup("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.validateSemantics(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateSemantics checks rules that span fields and cannot be expressed as tags.
func (c *Config) validateSemantics() error {
	var problems []string

	if c.Environment != localEnv {
		if c.Security.TriggerTokenHash.IsEmpty() {
			problems = append(problems, "TRIGGER_TOKEN_HASH is required outside local")
		} else if !strings.HasPrefix(c.Security.TriggerTokenHash.Unmask(), "$2") {
			problems = append(problems, "TRIGGER_TOKEN_HASH must be a bcrypt hash")
		}
		if c.Gateway.UseStub {
			problems = append(problems, "GATEWAY_USE_STUB is only allowed in local")
		}
	}
	if c.Database.MinConns > c.Database.MaxConns {
		problems = append(problems, "DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}
	// Each concurrent attempt holds a connection inside the credit
	// transaction; one more is needed for the selection and claims.
	if c.Scheduler.Concurrency >= c.Database.MaxConns {
		problems = append(problems, "SCHEDULER_CONCURRENCY must be lower than DB_MAX_CONNS")
	}
	if c.Scheduler.TimeBudget >= c.Scheduler.Interval {
		problems = append(problems, "SCHEDULER_TIME_BUDGET must be shorter than SCHEDULER_INTERVAL")
	}
	for _, code := range c.Dispatch.PermanentStatusCodes {
		if code < 400 || code > 599 {
			problems = append(problems, fmt.Sprintf("DISPATCH_PERMANENT_STATUS_CODES contains non-error status %d", code))
		}
	}

	if len(problems) > 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: strings.Join(problems, "; "),
		}
	}
	return nil
}

// ResolveSecrets runs only the SSM resolution step. Lambda entry points call it
// before reading individual variables. It is a no-op in local.
func ResolveSecrets(provider SecretProvider) error {
	if appEnv, _ := os.LookupEnv("APP_ENV"); appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, osEnv())
}

// resolveSSMParams fetches every *_SSM_PARAM pointer whose target variable is
// unset and exports the resolved values. A target already present in the
// environment wins over SSM.
func resolveSSMParams(provider SecretProvider, env loaderEnv) error {
	targets := make(map[string]string) // ssm path -> env var
	var paths []string

	for _, entry := range env.environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || value == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		if _, dup := targets[value]; !dup {
			paths = append(paths, value)
		}
		targets[value] = target
	}

	if len(paths) == 0 {
		return nil
	}

	if provider == nil {
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			names = append(names, targets[p])
		}
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required to resolve: %s", strings.Join(names, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		value, ok := resolved[p]
		if !ok {
			missing = append(missing, targets[p])
			continue
		}
		if err := env.set(targets[p], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to export %s", targets[p]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
