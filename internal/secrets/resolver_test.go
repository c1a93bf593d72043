package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/negotiation/pkg/cache"
	pkgsecrets "github.com/Checker-Finance/negotiation/pkg/secrets"
)

type mapProvider struct {
	secrets map[string]map[string]string
	fetches int
}

func (p *mapProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	p.fetches++
	s, ok := p.secrets[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func (p *mapProvider) ListSecrets(context.Context, string) ([]string, error) {
	return nil, nil
}

func newResolver(p pkgsecrets.Provider) *AWSResolver[string] {
	return NewAWSResolver(zap.NewNop(), "Prod", "negotiation", p, cache.New[string](time.Hour))
}

func TestResolve_FetchesOnceThenCaches(t *testing.T) {
	p := &mapProvider{secrets: map[string]map[string]string{
		"prod/negotiation/database": {"dsn": "postgres://u:p@db:5432/negotiation"},
	}}
	r := newResolver(p)

	for i := 0; i < 3; i++ {
		dsn, err := r.Resolve(context.Background(), "database", ParseDSN)
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@db:5432/negotiation", dsn)
	}
	assert.Equal(t, 1, p.fetches)
}

func TestResolve_ProviderError(t *testing.T) {
	r := newResolver(&mapProvider{})
	_, err := r.Resolve(context.Background(), "database", ParseDSN)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `resolve "database" config`)
}

func TestResolve_ParseErrorNotCached(t *testing.T) {
	p := &mapProvider{secrets: map[string]map[string]string{
		"prod/negotiation/database": {"user": "u"},
	}}
	r := newResolver(p)

	_, err := r.Resolve(context.Background(), "database", ParseDSN)
	require.Error(t, err)
	_, err = r.Resolve(context.Background(), "database", ParseDSN)
	require.Error(t, err)
	assert.Equal(t, 2, p.fetches)
}

func TestSecretName_Lowercased(t *testing.T) {
	r := newResolver(&mapProvider{})
	assert.Equal(t, "prod/negotiation/database", r.SecretName("Database"))
}
