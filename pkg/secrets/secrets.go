package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/log"
)

// SSMAPI is the Parameter Store surface the secret store uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Store retrieves named secrets from Parameter Store. Values are cached
// for the process lifetime; rotation needs a restart or an explicit
// Invalidate.
type Store struct {
	client SSMAPI
	cache  *cache.Cache
	logger zerolog.Logger
}

// New creates a secret store over the given Parameter Store client.
func New(client SSMAPI) *Store {
	return &Store{
		client: client,
		cache:  cache.New(cache.NoExpiration, cache.NoExpiration),
		logger: log.WithComponent("secrets"),
	}
}

// Get returns the decrypted value of a named secret, from cache when
// available.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name is empty")
	}
	if v, ok := s.cache.Get(name); ok {
		return v.(string), nil
	}

	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindTransport, "secrets.Get", err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secret %s has no value", name)
	}

	value := aws.ToString(out.Parameter.Value)
	s.cache.Set(name, value, cache.NoExpiration)
	s.logger.Debug().Str("name", name).Msg("Secret loaded")
	return value, nil
}

// Invalidate drops a cached secret so the next Get refetches it.
func (s *Store) Invalidate(name string) {
	s.cache.Delete(name)
}
