package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMClient is the subset of the SSM API the bootstrap tool uses.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ssmOperationTimeout is generous to cover IAM propagation delays during
// initial setup.
const ssmOperationTimeout = 15 * time.Second

// SSMManager wraps the SSM client with environment-aware paths. SecureString
// values are never logged.
type SSMManager struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

func NewSSMManager(bctx *BootstrapContext) *SSMManager {
	return NewSSMManagerWithClient(ssm.NewFromConfig(bctx.AWSConfig), bctx.Environment, bctx.Logger)
}

func NewSSMManagerWithClient(client SSMClient, env string, logger *slog.Logger) *SSMManager {
	return &SSMManager{client: client, env: env, logger: logger}
}

func ssmPrefix(env string) string {
	return fmt.Sprintf("/%s/smsdispatch/", env)
}

// SSMPath returns /{env}/smsdispatch/{categoryAndKey}. Deployed services
// point their *_SSM_PARAM variables at these paths.
func (m *SSMManager) SSMPath(categoryAndKey string) string {
	return ssmPrefix(m.env) + categoryAndKey
}

// ParameterExists probes without decryption so kms:Decrypt is not needed.
func (m *SSMManager) ParameterExists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// GetParameterValue reads a parameter, decrypting SecureStrings when
// decrypt is set. The caller owns the plaintext.
func (m *SSMManager) GetParameterValue(ctx context.Context, path string, decrypt bool) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	output, err := m.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		return "", fmt.Errorf("reading SSM parameter %q: %w", path, err)
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %q has no value", path)
	}

	value := aws.ToString(output.Parameter.Value)
	m.logger.Info("SSM parameter read", "path", path, "value_length", len(value))
	return value, nil
}

// PutSecret writes a SecureString. Without overwrite an existing parameter
// is an error.
func (m *SSMManager) PutSecret(ctx context.Context, path string, value string, overwrite bool) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeSecureString, overwrite)
}

// PutString writes a plain String, always overwriting.
func (m *SSMManager) PutString(ctx context.Context, path string, value string) error {
	return m.putParameter(ctx, path, value, ssmtypes.ParameterTypeString, true)
}

func (m *SSMManager) putParameter(ctx context.Context, path, value string, paramType ssmtypes.ParameterType, overwrite bool) error {
	if path == "" {
		return fmt.Errorf("SSM parameter path must not be empty")
	}
	if value == "" {
		return fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := m.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      paramType,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var alreadyExists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &alreadyExists) {
			m.logger.Warn("SSM parameter already exists (use overwrite to replace)", "path", path)
			return fmt.Errorf("SSM parameter %q already exists: %w", path, err)
		}
		return fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	if paramType == ssmtypes.ParameterTypeSecureString {
		m.logger.Info("SSM parameter written", "path", path, "type", string(paramType), "value_length", len(value))
	} else {
		m.logger.Info("SSM parameter written", "path", path, "type", string(paramType), "value", value)
	}
	return nil
}
