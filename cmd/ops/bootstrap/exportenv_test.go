package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/joho/godotenv"
)

// mockGetParameterValues serves values by path and reports everything else
// as missing.
func mockGetParameterValues(values map[string]string) func(context.Context, *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
	return func(_ context.Context, input *ssm.GetParameterInput) (*ssm.GetParameterOutput, error) {
		v, ok := values[aws.ToString(input.Name)]
		if !ok {
			return nil, &ssmtypes.ParameterNotFound{Message: aws.String("not found")}
		}
		return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: input.Name, Value: aws.String(v)}}, nil
	}
}

func requiredValues() map[string]string {
	return map[string]string{
		"/dev/smsdispatch/database/url":                   "postgres://u:p@db:5432/sms",
		"/dev/smsdispatch/security/trigger_token_hash":    "$2a$10$abcdefghijklmnopqrstuv",
		"/dev/smsdispatch/observability/metric_namespace": "SMSDispatch",
	}
}

func TestExportEnvFile(t *testing.T) {
	mock := &mockSSMClient{getParameterFn: mockGetParameterValues(requiredValues())}
	out := filepath.Join(t.TempDir(), ".env")
	stderr := &bytes.Buffer{}

	err := ExportEnvFile(context.Background(), ExportEnvConfig{
		OutputPath:  out,
		Environment: "dev",
		SSM:         newTestSSMManager(mock, "dev"),
		Stderr:      stderr,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	env, err := godotenv.Read(out)
	if err != nil {
		t.Fatalf("exported file does not parse: %v", err)
	}
	if env["DATABASE_URL"] != "postgres://u:p@db:5432/sms" {
		t.Errorf("DATABASE_URL = %q", env["DATABASE_URL"])
	}
	if env["TRIGGER_TOKEN_HASH"] != "$2a$10$abcdefghijklmnopqrstuv" {
		t.Errorf("TRIGGER_TOKEN_HASH = %q", env["TRIGGER_TOKEN_HASH"])
	}
	if _, ok := env["REDIS_PASSWORD"]; ok {
		t.Error("missing optional parameter must not be exported")
	}
	if _, ok := env["APP_ENV"]; ok {
		t.Error("local defaults written without IncludeLocalDefaults")
	}
	if !strings.Contains(stderr.String(), "not set (optional)") {
		t.Error("expected optional parameter notice")
	}

	// SecureStrings are read with decryption, plain Strings without.
	for _, call := range mock.getCalls {
		name := aws.ToString(call.Name)
		wantDecrypt := !strings.HasSuffix(name, "metric_namespace") && !strings.HasSuffix(name, "delivery_events_url")
		if aws.ToBool(call.WithDecryption) != wantDecrypt {
			t.Errorf("%s decrypt = %v, want %v", name, aws.ToBool(call.WithDecryption), wantDecrypt)
		}
	}
}

func TestExportEnvFile_LocalDefaults(t *testing.T) {
	mock := &mockSSMClient{getParameterFn: mockGetParameterValues(requiredValues())}
	out := filepath.Join(t.TempDir(), ".env")

	err := ExportEnvFile(context.Background(), ExportEnvConfig{
		OutputPath:           out,
		Environment:          "dev",
		SSM:                  newTestSSMManager(mock, "dev"),
		Stderr:               &bytes.Buffer{},
		IncludeLocalDefaults: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env, err := godotenv.Read(out)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range localDevDefaults {
		if env[k] != v {
			t.Errorf("%s = %q, want %q", k, env[k], v)
		}
	}
}

func TestExportEnvFile_MissingRequired(t *testing.T) {
	values := requiredValues()
	delete(values, "/dev/smsdispatch/database/url")
	mock := &mockSSMClient{getParameterFn: mockGetParameterValues(values)}
	out := filepath.Join(t.TempDir(), ".env")

	err := ExportEnvFile(context.Background(), ExportEnvConfig{
		OutputPath:  out,
		Environment: "dev",
		SSM:         newTestSSMManager(mock, "dev"),
		Stderr:      &bytes.Buffer{},
	})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("no file should be written on failure")
	}
}

func TestExportEnvFile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &mockSSMClient{}
	err := ExportEnvFile(ctx, ExportEnvConfig{SSM: newTestSSMManager(mock, "dev"), Stderr: &bytes.Buffer{}})
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(mock.getCalls) != 0 {
		t.Error("no SSM calls expected after cancellation")
	}
}

func TestFormatEnvLine(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"PORT", "8080", "PORT=8080"},
		{"EMPTY", "", `EMPTY=""`},
		{"SPACED", "a b", `SPACED="a b"`},
		{"QUOTED", `say "hi"`, `QUOTED="say \"hi\""`},
		{"HASH", "abc#def", `HASH="abc#def"`},
		{"DOLLAR", "$2a$10$x", `DOLLAR="\$2a\$10\$x"`},
		{"MULTI", "a\nb", `MULTI="a\nb"`},
	}
	for _, tt := range tests {
		if got := formatEnvLine(tt.key, tt.value); got != tt.want {
			t.Errorf("formatEnvLine(%q, %q) = %s, want %s", tt.key, tt.value, got, tt.want)
		}
	}
}
