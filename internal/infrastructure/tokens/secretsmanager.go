package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"golang.org/x/sync/singleflight"

	"geodatenbezug/internal/ports"
)

// SecretsAPI is the subset of the Secrets Manager client the resolver calls.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerResolver loads one secret per base topic, named <prefix>tokens_<base_topic>.
// Secrets are cached for the lifetime of the resolver.
type SecretsManagerResolver struct {
	api    SecretsAPI
	prefix string

	mu    sync.Mutex
	cache map[string]string
	group singleflight.Group
}

var _ ports.TokenResolver = (*SecretsManagerResolver)(nil)

// NewSecretsManagerResolver wraps an existing Secrets Manager client.
func NewSecretsManagerResolver(api SecretsAPI, prefix string) *SecretsManagerResolver {
	return &SecretsManagerResolver{api: api, prefix: prefix, cache: map[string]string{}}
}

// NewSecretsManagerResolverFromEnv loads AWS credentials from the default chain.
func NewSecretsManagerResolverFromEnv(ctx context.Context, region, prefix string) (*SecretsManagerResolver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSecretsManagerResolver(secretsmanager.NewFromConfig(cfg), prefix), nil
}

// Token implements ports.TokenResolver.
func (r *SecretsManagerResolver) Token(ctx context.Context, baseTopic, canton string) (string, error) {
	settings, err := r.settings(ctx, baseTopic)
	if err != nil {
		return "", err
	}
	return Lookup(settings, baseTopic, canton)
}

func (r *SecretsManagerResolver) settings(ctx context.Context, baseTopic string) (string, error) {
	r.mu.Lock()
	v, ok := r.cache[baseTopic]
	r.mu.Unlock()
	if ok {
		return v, nil
	}

	// Concurrent lookups of one topic share a request.
	value, err, _ := r.group.Do(baseTopic, func() (any, error) {
		return r.fetch(ctx, baseTopic)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (r *SecretsManagerResolver) fetch(ctx context.Context, baseTopic string) (string, error) {
	name := r.prefix + KeyPrefix + baseTopic
	out, err := r.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: no tokens available for topic %s", ErrTokenNotFound, baseTopic)
		}
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := aws.ToString(out.SecretString)
	r.mu.Lock()
	r.cache[baseTopic] = value
	r.mu.Unlock()
	return value, nil
}
