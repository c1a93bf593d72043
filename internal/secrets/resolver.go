package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/pkg/cache"
	pkgsecrets "github.com/Checker-Finance/negotiation/pkg/secrets"
)

// AWSResolver resolves per-component configuration of type T from a secrets
// provider, caching parsed results.
//
// Secret naming convention: {env}/{service}/{component}
type AWSResolver[T any] struct {
	logger   *zap.Logger
	env      string
	service  string
	provider pkgsecrets.Provider
	cache    *cache.Cache[T]
}

// NewAWSResolver constructs a resolver scoped to one service and environment.
func NewAWSResolver[T any](
	logger *zap.Logger,
	env string,
	service string,
	provider pkgsecrets.Provider,
	cache *cache.Cache[T],
) *AWSResolver[T] {
	return &AWSResolver[T]{
		logger:   logger,
		env:      env,
		service:  service,
		provider: provider,
		cache:    cache,
	}
}

// SecretName builds the Secrets Manager key for a component.
func (r *AWSResolver[T]) SecretName(component string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, r.service, component))
}

// Resolve returns the cached T for component or fetches and parses it.
// parse should validate required fields.
func (r *AWSResolver[T]) Resolve(ctx context.Context, component string, parse func(map[string]string) (T, error)) (T, error) {
	key := r.SecretName(component)
	if cfg, ok := r.cache.Get(key); ok {
		return cfg, nil
	}

	secretMap, err := r.provider.GetSecret(ctx, key)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", key),
			zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve %q config: %w", component, err)
	}

	cfg, err := parse(secretMap)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", key, err)
	}

	r.cache.Put(key, cfg)
	r.logger.Info("secrets.config_resolved",
		zap.String("component", component),
		zap.String("service", r.service))
	return cfg, nil
}

// ParseDSN reads the "dsn" field of a database secret.
func ParseDSN(m map[string]string) (string, error) {
	dsn := strings.TrimSpace(m["dsn"])
	if dsn == "" {
		return "", errors.New(`secret has no "dsn" field`)
	}
	return dsn, nil
}
