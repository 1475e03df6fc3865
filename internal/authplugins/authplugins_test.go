package authplugins

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
)

func TestTokenCacheExpiryTreatedAsAbsent(t *testing.T) {
	c := NewTokenCache()
	now := time.Unix(1000, 0)
	c.Put("us-east-1", "h", 5432, "u", "tok", now.Add(time.Minute))

	_, ok := c.Get("us-east-1", "h", 5432, "u", now.Add(30*time.Second))
	assert.True(t, ok)

	_, ok = c.Get("us-east-1", "h", 5432, "u", now.Add(time.Hour))
	assert.False(t, ok, "expired token must be treated as absent")
}

func connectArgs(h *host.Host, p *props.Properties) pluginchain.Args {
	return pluginchain.Args{Extra: map[string]interface{}{"host": h, "props": p}}
}

func TestIAMPluginGeneratesTokenOnMiss(t *testing.T) {
	calls := 0
	p := NewIAMPlugin(staticCredentials{}, 5*time.Minute, errs.PostgresClassifier)
	p.build = func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
		calls++
		return "generated-token", nil
	}

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"user": "app", "iamRegion": "us-east-1"})
	args := connectArgs(h, base)

	var seenPassword string
	next := func(ctx context.Context) (interface{}, error) {
		seenPassword = args.Extra["props"].(*props.Properties).GetString("password")
		return "ok", nil
	}

	result, err := p.Execute(context.Background(), pluginchain.OpConnect, args, next)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "generated-token", seenPassword)
	assert.Equal(t, 1, calls)
}

func TestIAMPluginReusesCachedTokenWithoutRegenerating(t *testing.T) {
	p := NewIAMPlugin(staticCredentials{}, 5*time.Minute, errs.PostgresClassifier)
	calls := 0
	p.build = func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
		calls++
		return "fresh-token", nil
	}
	p.cache.Put("us-east-1", "writer.example.com", 5432, "app", "cached-token", time.Now().Add(time.Hour))

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"user": "app", "iamRegion": "us-east-1"})
	args := connectArgs(h, base)

	var seenPassword string
	next := func(ctx context.Context) (interface{}, error) {
		seenPassword = args.Extra["props"].(*props.Properties).GetString("password")
		return "ok", nil
	}

	_, err := p.Execute(context.Background(), pluginchain.OpConnect, args, next)
	require.NoError(t, err)
	assert.Equal(t, "cached-token", seenPassword)
	assert.Equal(t, 0, calls, "signer must not be invoked when cache hit")
}

func TestIAMPluginRetriesOnceOnLoginErrorWithCachedToken(t *testing.T) {
	p := NewIAMPlugin(staticCredentials{}, 5*time.Minute, errs.PostgresClassifier)
	builds := 0
	p.build = func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
		builds++
		return "regenerated-token", nil
	}
	p.cache.Put("us-east-1", "writer.example.com", 5432, "app", "stale-token", time.Now().Add(time.Hour))

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"user": "app", "iamRegion": "us-east-1"})
	args := connectArgs(h, base)

	attempt := 0
	var passwords []string
	next := func(ctx context.Context) (interface{}, error) {
		attempt++
		passwords = append(passwords, args.Extra["props"].(*props.Properties).GetString("password"))
		if attempt == 1 {
			return nil, errs.LoginError(errs.New(errs.KindUnknown, "password authentication failed for user"), "connect failed")
		}
		return "ok", nil
	}

	result, err := p.Execute(context.Background(), pluginchain.OpConnect, args, next)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempt)
	assert.Equal(t, []string{"stale-token", "regenerated-token"}, passwords)
	assert.Equal(t, 1, builds)
}

func TestIAMPluginDoesNotRetryOnNonLoginError(t *testing.T) {
	p := NewIAMPlugin(staticCredentials{}, 5*time.Minute, errs.PostgresClassifier)
	p.build = func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
		return "tok", nil
	}

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"user": "app", "iamRegion": "us-east-1"})
	args := connectArgs(h, base)

	attempts := 0
	next := func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, errs.NetworkError(errs.New(errs.KindUnknown, "connection reset"), "connect failed")
	}

	_, err := p.Execute(context.Background(), pluginchain.OpConnect, args, next)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// fakeSecretsManager implements SecretsManagerAPI against an in-memory map.
type fakeSecretsManager struct {
	payload string
	calls   int
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	s := f.payload
	return &secretsmanager.GetSecretValueOutput{SecretString: &s}, nil
}

func TestSecretsManagerPluginFetchesAndCaches(t *testing.T) {
	payload, _ := json.Marshal(secretPayload{Username: "svc", Password: "s3cret"})
	client := &fakeSecretsManager{payload: string(payload)}
	p := NewSecretsManagerPlugin(client, errs.PostgresClassifier)

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"secretId": "db/creds", "secretRegion": "us-east-1"})
	args := connectArgs(h, base)

	var seenUser, seenPass string
	next := func(ctx context.Context) (interface{}, error) {
		p := args.Extra["props"].(*props.Properties)
		seenUser, seenPass = p.GetString("user"), p.GetString("password")
		return "ok", nil
	}

	_, err := p.Execute(context.Background(), pluginchain.OpConnect, args, next)
	require.NoError(t, err)
	assert.Equal(t, "svc", seenUser)
	assert.Equal(t, "s3cret", seenPass)
	assert.Equal(t, 1, client.calls)

	// second connect should hit the cache, not the service
	_, err = p.Execute(context.Background(), pluginchain.OpConnect, connectArgs(h, base), next)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestSecretsManagerPluginRequiresSecretID(t *testing.T) {
	p := NewSecretsManagerPlugin(&fakeSecretsManager{}, errs.PostgresClassifier)
	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.New()
	args := connectArgs(h, base)

	_, err := p.Execute(context.Background(), pluginchain.OpConnect, args, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	assert.Error(t, err)
}
