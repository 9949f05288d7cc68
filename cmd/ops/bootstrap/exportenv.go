package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ExportEnvConfig controls ExportEnvFile.
type ExportEnvConfig struct {
	OutputPath  string
	Environment string
	SSM         *SSMManager
	Stderr      io.Writer

	// IncludeLocalDefaults appends the non-secret variables a local run
	// needs (APP_ENV=local, stub gateway, etc.).
	IncludeLocalDefaults bool
}

// localDevDefaults are written after the SSM values when requested.
var localDevDefaults = map[string]string{
	"APP_ENV":           "local",
	"LOG_LEVEL":         "debug",
	"PORT":              "8080",
	"GATEWAY_USE_STUB":  "true",
	"SCHEDULER_ENABLED": "true",
	"REDIS_ADDR":        "localhost:6379",
	"AWS_ENDPOINT_URL":  "http://localhost:4566",
}

// ExportEnvFile reads every inventory parameter back from SSM and writes a
// 0600 .env file. Missing optional parameters are left out; a missing
// required one fails the export.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var lines []string
	exported := 0
	for _, step := range BuildInventory(&Validator{}) {
		path := cfg.SSM.SSMPath(step.SSMCategoryKey)
		value, err := cfg.SSM.GetParameterValue(ctx, path, step.ParamType == ParamSecureString)
		if err != nil {
			var notFound *ssmtypes.ParameterNotFound
			if step.Optional && errors.As(err, &notFound) {
				fmt.Fprintf(cfg.Stderr, "  %-22s not set (optional)\n", step.EnvVar)
				continue
			}
			return fmt.Errorf("exporting %s: %w", step.EnvVar, err)
		}
		lines = append(lines, formatEnvLine(step.EnvVar, value))
		exported++
		fmt.Fprintf(cfg.Stderr, "  %-22s <- %s\n", step.EnvVar, path)
	}

	if cfg.IncludeLocalDefaults {
		keys := make([]string, 0, len(localDevDefaults))
		for k := range localDevDefaults {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines = append(lines, "", "# Local development defaults")
		for _, k := range keys {
			lines = append(lines, formatEnvLine(k, localDevDefaults[k]))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by cmd/ops/bootstrap from %s on %s\n", ssmPrefix(cfg.Environment), time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Contains secrets. Do not commit.\n\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}
	fmt.Fprintf(cfg.Stderr, "  Wrote %d parameters to %s\n", exported, cfg.OutputPath)
	return nil
}

// formatEnvLine quotes values godotenv would otherwise misread.
func formatEnvLine(key, value string) string {
	if value == "" || strings.ContainsAny(value, " \t\"'#$\\\n") {
		escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, `$`, `\$`).Replace(value)
		return fmt.Sprintf("%s=\"%s\"", key, escaped)
	}
	return key + "=" + value
}
