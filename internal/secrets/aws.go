package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSBackend reads from AWS Secrets Manager. Locators are secret-id or
// secret-id#json_key for secrets stored as JSON objects.
type AWSBackend struct {
	client SecretsManagerAPI
}

// NewAWSBackend loads the default AWS credential chain.
func NewAWSBackend(ctx context.Context, region string) (*AWSBackend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &AWSBackend{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// NewAWSBackendWithClient wraps an existing client.
func NewAWSBackendWithClient(client SecretsManagerAPI) *AWSBackend {
	return &AWSBackend{client: client}
}

// Lookup implements Backend.
func (b *AWSBackend) Lookup(ctx context.Context, locator string) (string, error) {
	id, key := splitKey(locator)
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", id, err)
	}
	value := aws.ToString(out.SecretString)
	if value == "" {
		return "", fmt.Errorf("aws secret %s: %w", id, ErrNotFound)
	}
	if key == "" {
		return value, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", fmt.Errorf("aws secret %s is not a JSON object: %w", id, err)
	}
	v, ok := fields[key].(string)
	if !ok {
		return "", fmt.Errorf("aws secret %s#%s: %w", id, key, ErrNotFound)
	}
	return v, nil
}
