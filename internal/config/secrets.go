package config

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretProvider resolves secret identifiers (SSM paths in deployed
// environments) to plaintext values. Keys that cannot be found are omitted
// from the result rather than reported as an error.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// EnvVarProvider resolves keys as environment variable names. Used in local
// development and tests.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch returns the keys that are set in the environment.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

// ssmMaxBatchSize is the GetParameters per-request limit.
const ssmMaxBatchSize = 10

type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider resolves SecureString parameters from AWS SSM Parameter Store
// in the process's own region. The client is created on first use.
type SSMProvider struct {
	region   string
	endpoint string
	client   ssmClient
}

// NewSSMProvider creates an SSMProvider for region. endpoint overrides the
// service URL (LocalStack) and may be empty.
func NewSSMProvider(region, endpoint string) *SSMProvider {
	return &SSMProvider{region: region, endpoint: endpoint}
}

func (p *SSMProvider) ensureClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("loading AWS config for SSM (region=%s): %w", p.region, err)
	}

	p.client = ssm.NewFromConfig(cfg, func(o *ssm.Options) {
		if p.endpoint != "" {
			o.BaseEndpoint = aws.String(p.endpoint)
		}
	})
	return nil
}

// GetParametersBatch fetches keys in chunks of ten with decryption enabled.
// Parameters SSM reports as invalid fail the whole call.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	for start := 0; start < len(keys); start += ssmMaxBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("SSM resolution cancelled: %w", err)
		}

		end := min(start+ssmMaxBatchSize, len(keys))
		out, err := p.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          keys[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("SSM GetParameters failed (keys %d-%d of %d): %w", start, end-1, len(keys), err)
		}

		for _, param := range out.Parameters {
			if param.Name != nil && param.Value != nil {
				result[*param.Name] = *param.Value
			}
		}
		if len(out.InvalidParameters) > 0 {
			return nil, fmt.Errorf("SSM parameters not found: %v", out.InvalidParameters)
		}
	}

	return result, nil
}
