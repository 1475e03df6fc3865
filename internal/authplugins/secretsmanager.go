package authplugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"

	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
)

// SecretsManagerAPI is the subset of *secretsmanager.Client this plugin
// calls (spec §6: "getSecretValue(secretId, region) -> {username,
// password}"). A real *secretsmanager.Client satisfies this without an
// adapter; tests substitute a fake.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// secretPayload is the JSON shape AWS Secrets Manager stores a database
// credential pair as.
type secretPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SecretsManagerPlugin is the Secrets Manager auth plugin (spec §4.8): it
// wraps connect, substituting the cached or freshly fetched secret's
// username/password, and force-refreshes from the service on a login
// failure against a cached secret.
type SecretsManagerPlugin struct {
	cache      *SecretsCache
	client     SecretsManagerAPI
	classifier errs.Classifier
}

var _ pluginchain.Plugin = (*SecretsManagerPlugin)(nil)

func NewSecretsManagerPlugin(client SecretsManagerAPI, classifier errs.Classifier) *SecretsManagerPlugin {
	return &SecretsManagerPlugin{
		cache:      NewSecretsCache(),
		client:     client,
		classifier: classifier,
	}
}

func (p *SecretsManagerPlugin) Name() string { return "secrets_manager" }

func (p *SecretsManagerPlugin) Subscriptions() []pluginchain.OperationID {
	return []pluginchain.OperationID{pluginchain.OpConnect, pluginchain.OpForceConnect}
}

func (p *SecretsManagerPlugin) Execute(ctx context.Context, op pluginchain.OperationID, args pluginchain.Args, next pluginchain.Next) (interface{}, error) {
	_, base, _, _, err := extractConnectArgs(args)
	if err != nil {
		return nil, err
	}
	secretID := base.GetString("secretId")
	region := base.GetStringDefault("secretRegion", base.GetString("iamRegion"))
	if secretID == "" {
		return nil, errs.ConfigurationError("secretsmanager: secretId is required")
	}

	secret, cached := p.cache.Get(secretID, region)
	if !cached {
		secret, err = p.fetch(ctx, secretID, region)
		if err != nil {
			return nil, err
		}
	}
	args.Extra["props"] = withCredentials(base, secret)

	result, err := next(ctx)
	if err == nil || !cached || p.classifier.Classify(errs.Root(err)) != errs.KindLogin {
		return result, err
	}

	// Cached secret was rejected; force a refresh from the service rather
	// than regenerating locally (spec §4.8: "on login error with a cached
	// secret, force-refresh from the service").
	p.cache.Invalidate(secretID, region)
	secret, err = p.fetch(ctx, secretID, region)
	if err != nil {
		return nil, err
	}
	args.Extra["props"] = withCredentials(base, secret)
	return next(ctx)
}

func (p *SecretsManagerPlugin) fetch(ctx context.Context, secretID, region string) (Secret, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return Secret{}, classifySecretsError(err, secretID)
	}
	if out.SecretString == nil {
		return Secret{}, errs.ConfigurationError(fmt.Sprintf("secretsmanager: secret %q has no string value", secretID))
	}

	var payload secretPayload
	if err := json.Unmarshal([]byte(*out.SecretString), &payload); err != nil {
		return Secret{}, errs.ConfigurationError(fmt.Sprintf("secretsmanager: secret %q is not a username/password JSON payload: %v", secretID, err))
	}

	secret := Secret{Username: payload.Username, Password: payload.Password}
	p.cache.Put(secretID, region, secret)
	return secret, nil
}

// classifySecretsError tags a Secrets Manager API error the way spec §6
// requires: "errors of a service-exception type are surfaced as LoginError;
// others as NetworkError." smithy-go's generic APIError interface is how
// every typed AWS SDK v2 service error (ResourceNotFoundException,
// DecryptionFailure, ...) is recognized without importing every concrete
// exception type.
func classifySecretsError(err error, secretID string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return errs.LoginError(err, "secretsmanager: request for "+secretID+" failed: "+apiErr.ErrorCode())
	}
	return errs.NetworkError(err, "secretsmanager: request for "+secretID+" failed")
}

// withCredentials returns a clone of p with user/password overridden from
// secret.
func withCredentials(p *props.Properties, secret Secret) *props.Properties {
	out := p.Clone()
	if secret.Username != "" {
		out.Set("user", secret.Username)
	}
	out.Set("password", secret.Password)
	return out
}
