package main

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// ValidationResult is a pass/fail signal with a message for the operator.
type ValidationResult struct {
	Valid   bool
	Message string
}

// DatabaseConnector opens and immediately closes a connection.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

// PgxConnector verifies a DSN with a real pgx connection.
type PgxConnector struct{}

func (c *PgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

// RedisPinger checks credentials against a Redis address.
type RedisPinger interface {
	Ping(ctx context.Context, addr, password string) error
}

// GoRedisPinger pings through a short-lived go-redis client.
type GoRedisPinger struct{}

func (GoRedisPinger) Ping(ctx context.Context, addr, password string) error {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	defer client.Close()
	return client.Ping(ctx).Err()
}

// Validator holds the probes used by the inventory's validation functions.
type Validator struct {
	dbConn    DatabaseConnector
	redis     RedisPinger
	redisAddr string
}

// NewValidator uses real probes. redisAddr may be empty, in which case the
// Redis password is only checked for shape.
func NewValidator(redisAddr string) *Validator {
	return &Validator{dbConn: &PgxConnector{}, redis: GoRedisPinger{}, redisAddr: redisAddr}
}

func NewValidatorWithDeps(dbConn DatabaseConnector, pinger RedisPinger, redisAddr string) *Validator {
	return &Validator{dbConn: dbConn, redis: pinger, redisAddr: redisAddr}
}

const validateTimeout = 15 * time.Second

// ValidateDatabaseURL checks the scheme and database name, then connects.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, rawURL string) ValidationResult {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ValidationResult{Message: "database URL must not be empty"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("invalid URL format: %v", err)}
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return ValidationResult{Message: fmt.Sprintf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)}
	}
	if parsed.Hostname() == "" {
		return ValidationResult{Message: "database URL has no host"}
	}
	if strings.Trim(parsed.Path, "/") == "" {
		return ValidationResult{Message: "database URL has no database name"}
	}

	if v.dbConn == nil {
		return ValidationResult{Valid: true, Message: fmt.Sprintf("format ok (host=%s), connection not checked", parsed.Hostname())}
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Connect(connCtx, rawURL); err != nil {
		return ValidationResult{Message: fmt.Sprintf("connection failed: %v", err)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("database connection verified (host=%s)", parsed.Hostname())}
}

// ValidateRedisPassword pings Redis when an address is known.
func (v *Validator) ValidateRedisPassword(ctx context.Context, password string) ValidationResult {
	password = strings.TrimSpace(password)
	if len(password) < 8 {
		return ValidationResult{Message: "Redis password must be at least 8 characters"}
	}
	if v.redis == nil || v.redisAddr == "" {
		return ValidationResult{Valid: true, Message: "format ok, connection not checked (no --redis-addr)"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.redis.Ping(pingCtx, v.redisAddr, password); err != nil {
		return ValidationResult{Message: fmt.Sprintf("Redis ping failed: %v", err)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("Redis authentication verified (%s)", v.redisAddr)}
}

// ValidateRegex checks input against pattern.
func (v *Validator) ValidateRegex(_ context.Context, input, pattern, fieldName string) ValidationResult {
	input = strings.TrimSpace(input)
	if input == "" {
		return ValidationResult{Message: fmt.Sprintf("%s must not be empty", fieldName)}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("internal error: invalid pattern for %s: %v", fieldName, err)}
	}
	if !re.MatchString(input) {
		return ValidationResult{Message: fmt.Sprintf("%s does not match expected format", fieldName)}
	}
	return ValidationResult{Valid: true, Message: fmt.Sprintf("%s format ok", fieldName)}
}
