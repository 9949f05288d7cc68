// Package main implements the bootstrap CLI that populates AWS SSM Parameter
// Store with the secrets the SMS dispatch services resolve at start-up.
//
// Usage:
//
//	go run ./cmd/ops/bootstrap --env=dev
//	go run ./cmd/ops/bootstrap --env=dev --export-env
//	go run ./cmd/ops/bootstrap --env=prod --profile=sms-prod --region=eu-west-1
//
// The tool verifies the AWS identity with STS, asks for explicit confirmation
// before touching prod, then walks the secret inventory: existing parameters
// can be skipped or overwritten, prompted values are validated before they
// are written, and the trigger token is generated and stored as a bcrypt hash.
// With --export-env the parameters are read back into a .env file for local
// development.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// BootstrapContext holds the session-wide state established during
// initialization.
type BootstrapContext struct {
	Environment string
	AWSProfile  string
	AWSRegion   string
	AccountID   string
	CallerARN   string

	// AWSConfig is reused by the SSM manager.
	AWSConfig aws.Config

	Logger *slog.Logger
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	redisAddrFlag := flag.String("redis-addr", "", "Redis address used to verify the Redis password (optional)")
	skipOptionalFlag := flag.Bool("skip-optional", false, "Skip optional parameters without prompting")
	exportEnvFlag := flag.Bool("export-env", false, "After bootstrap, export SSM parameters to a .env file for local development")
	exportEnvPath := flag.String("export-env-path", ".env", "Path for the exported .env file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "smsdispatch bootstrap tool\n\n")
		fmt.Fprintf(os.Stderr, "Populates the AWS SSM parameters required before the first deployment.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  bootstrap --env=dev [--profile=NAME] [--region=REGION] [--export-env]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *envFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --env is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: invalid environment %q (must be dev, staging, or prod)\n", *envFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bctx, err := initializeSession(ctx, *envFlag, *profileFlag, *regionFlag, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	if bctx.Environment == "prod" && !confirmProduction(bctx, os.Stdin, os.Stderr) {
		fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
		os.Exit(0)
	}

	printBanner(bctx, os.Stderr)

	runner := NewBootstrapRunner(bctx, *redisAddrFlag)
	runner.SkipOptional = *skipOptionalFlag
	if err := runner.Run(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	logger.Info("bootstrap completed successfully",
		"env", bctx.Environment,
		"account", bctx.AccountID,
		"region", bctx.AWSRegion,
	)

	if *exportEnvFlag {
		exportCfg := ExportEnvConfig{
			OutputPath:           *exportEnvPath,
			Environment:          bctx.Environment,
			SSM:                  runner.SSM,
			Stderr:               os.Stderr,
			IncludeLocalDefaults: true,
		}
		if err := ExportEnvFile(ctx, exportCfg); err != nil {
			logger.Error("failed to export .env file", "error", err)
			os.Exit(1)
		}
		logger.Info(".env file exported", "path", *exportEnvPath)
	}
}

// initializeSession loads the AWS SDK configuration and confirms the active
// identity with STS GetCallerIdentity before anything is written.
func initializeSession(ctx context.Context, env, profile, region string, logger *slog.Logger) (*BootstrapContext, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("verifying AWS identity (STS GetCallerIdentity): %w\n"+
			"  Check that your AWS credentials are configured correctly.\n"+
			"  Profile: %q, Region: %q", err, profile, region)
	}

	accountID := aws.ToString(identity.Account)
	callerARN := aws.ToString(identity.Arn)
	logger.Info("AWS identity verified",
		"account_id", accountID,
		"arn", callerARN,
		"region", region,
	)

	return &BootstrapContext{
		Environment: env,
		AWSProfile:  profile,
		AWSRegion:   region,
		AccountID:   accountID,
		CallerARN:   callerARN,
		AWSConfig:   cfg,
		Logger:      logger,
	}, nil
}

// confirmProduction returns true only if the operator types "yes".
func confirmProduction(bctx *BootstrapContext, in io.Reader, out io.Writer) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintln(out, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintf(out, "  Account: %s\n", bctx.AccountID)
	fmt.Fprintf(out, "  Region:  %s\n", bctx.AWSRegion)
	fmt.Fprintf(out, "  ARN:     %s\n", bctx.CallerARN)
	fmt.Fprintln(out, "============================================================")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type 'yes' to continue: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}

func printBanner(bctx *BootstrapContext, out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out, "  smsdispatch bootstrap")
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintf(out, "  Environment:  %s\n", bctx.Environment)
	fmt.Fprintf(out, "  AWS Account:  %s\n", bctx.AccountID)
	fmt.Fprintf(out, "  AWS Region:   %s\n", bctx.AWSRegion)
	fmt.Fprintf(out, "  Identity:     %s\n", bctx.CallerARN)
	if bctx.AWSProfile != "" {
		fmt.Fprintf(out, "  Profile:      %s\n", bctx.AWSProfile)
	}
	fmt.Fprintf(out, "  SSM Prefix:   %s\n", ssmPrefix(bctx.Environment))
	fmt.Fprintln(out, "------------------------------------------------------------")
	fmt.Fprintln(out)
}
