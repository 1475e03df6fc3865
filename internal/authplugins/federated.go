package authplugins

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/crewjam/saml"

	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
)

// IdPConfig is the input the federated auth plugin hands to whichever IdP
// HTTP flow it's configured for (spec §6: "SAML providers produce a SAML
// assertion string from (idpEndpoint, idpPort, idpUsername, idpPassword,
// relayingPartyId)").
type IdPConfig struct {
	Endpoint       string
	Port           int
	Username       string
	Password       string
	RelyingPartyID string
}

// AssertionProvider is the opaque ADFS/Okta HTTP-scraping collaborator
// (spec §1: explicitly out of scope, "interfaces stated in §6"). This
// package never implements the cookie/session scraping itself; it only
// defines the shape and a thin SAML-response decoder two named providers
// share.
type AssertionProvider interface {
	// FetchAssertion returns the base64-encoded SAMLResponse the IdP issued.
	FetchAssertion(ctx context.Context, cfg IdPConfig) (string, error)
}

// STSApi is the subset of *sts.Client this plugin calls.
type STSApi interface {
	AssumeRoleWithSAML(ctx context.Context, in *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
}

// FederatedPlugin is the federated/SAML auth plugin (spec §4.8): acquire a
// SAML assertion via the configured IdP flow, exchange it for temporary AWS
// credentials through STS AssumeRoleWithSAML, then behave exactly like
// IAMPlugin using those credentials — including caching the resulting token
// under the same IAM cache key, since once exchanged the request to RDS is
// identical either way.
type FederatedPlugin struct {
	provider   AssertionProvider
	sts        STSApi
	iam        *IAMPlugin
	roleArn    string
	idpArn     string
	classifier errs.Classifier
}

var _ pluginchain.Plugin = (*FederatedPlugin)(nil)

// NewFederatedPlugin builds a FederatedPlugin. roleArn/idpArn are the IAM
// role and identity-provider ARNs STS needs (spec §6: iamRoleArn,
// iamIdpArn); tokenTTL seeds the underlying IAMPlugin's token cache
// lifetime once SAML credentials are exchanged.
func NewFederatedPlugin(provider AssertionProvider, stsClient STSApi, roleArn, idpArn string, tokenTTL time.Duration, classifier errs.Classifier) *FederatedPlugin {
	return &FederatedPlugin{
		provider:   provider,
		sts:        stsClient,
		roleArn:    roleArn,
		idpArn:     idpArn,
		classifier: classifier,
		iam: &IAMPlugin{
			cache:      NewTokenCache(),
			build:      DefaultTokenBuilder,
			classifier: classifier,
			tokenTTL:   tokenTTL,
			clock:      time.Now,
		},
	}
}

func (p *FederatedPlugin) Name() string { return "federated_auth" }

func (p *FederatedPlugin) Subscriptions() []pluginchain.OperationID {
	return []pluginchain.OperationID{pluginchain.OpConnect, pluginchain.OpForceConnect}
}

func (p *FederatedPlugin) Execute(ctx context.Context, op pluginchain.OperationID, args pluginchain.Args, next pluginchain.Next) (interface{}, error) {
	h, base, region, dbUser, err := extractConnectArgs(args)
	if err != nil {
		return nil, err
	}

	token, cached := p.iam.cache.Get(region, h.Endpoint, h.Port, dbUser, p.iam.clock())
	if !cached {
		creds, err := p.exchangeCredentials(ctx, base)
		if err != nil {
			return nil, err
		}
		p.iam.creds = creds
		if token, err = p.iam.generate(ctx, h, region, dbUser); err != nil {
			return nil, err
		}
	}
	args.Extra["props"] = withPassword(base, token)

	result, err := next(ctx)
	if err == nil || !p.iam.isRetryableLogin(err) {
		return result, err
	}

	// A stale exchanged-credential token was rejected: re-run the whole
	// IdP -> STS -> RDS token chain once rather than only regenerating the
	// RDS token, since STS credentials (not just the RDS token) may have
	// expired (spec §4.8 extends IAM's single-retry rule to the federated
	// case).
	p.iam.cache.Invalidate(region, h.Endpoint, h.Port, dbUser)
	creds, err := p.exchangeCredentials(ctx, base)
	if err != nil {
		return nil, err
	}
	p.iam.creds = creds
	token, err = p.iam.generate(ctx, h, region, dbUser)
	if err != nil {
		return nil, err
	}
	args.Extra["props"] = withPassword(base, token)
	return next(ctx)
}

// exchangeCredentials runs the IdP flow and the STS exchange, returning a
// static aws.CredentialsProvider good for the lifetime of the resulting STS
// session.
func (p *FederatedPlugin) exchangeCredentials(ctx context.Context, base *props.Properties) (aws.CredentialsProvider, error) {
	cfg := IdPConfig{
		Endpoint:       base.GetString("idpEndpoint"),
		Port:           base.GetInt("idpPort"),
		Username:       base.GetString("idpUsername"),
		Password:       base.GetString("idpPassword"),
		RelyingPartyID: base.GetString("rpIdentifier"),
	}
	assertion, err := p.provider.FetchAssertion(ctx, cfg)
	if err != nil {
		return nil, errs.LoginError(err, "federated: IdP did not return a SAML assertion")
	}
	if err := validateAssertionShape(assertion); err != nil {
		return nil, errs.LoginError(err, "federated: IdP returned a malformed SAML assertion")
	}

	out, err := p.sts.AssumeRoleWithSAML(ctx, &sts.AssumeRoleWithSAMLInput{
		PrincipalArn:    &p.idpArn,
		RoleArn:         &p.roleArn,
		SAMLAssertion:   &assertion,
		DurationSeconds: aws.Int32(3600),
	})
	if err != nil {
		return nil, errs.LoginError(err, "federated: STS AssumeRoleWithSAML failed")
	}
	if out.Credentials == nil {
		return nil, errs.New(errs.KindLogin, "federated: STS returned no credentials")
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
	}
	if out.Credentials.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = *out.Credentials.Expiration
	}
	return staticCredentials{creds}, nil
}

// validateAssertionShape decodes and unmarshals the assertion far enough to
// confirm it's a well-formed SAML Response before handing it to STS,
// grounded on the teacher's SAML handler's use of crewjam/saml's Response
// type for XML decoding rather than a bespoke parser.
func validateAssertionShape(b64 string) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("federated: assertion is not base64: %w", err)
	}
	var resp saml.Response
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("federated: assertion is not a SAML Response: %w", err)
	}
	if resp.Assertion == nil && resp.EncryptedAssertion == nil {
		return fmt.Errorf("federated: SAML Response carries no assertion")
	}
	return nil
}

// staticCredentials adapts a fixed aws.Credentials value to
// aws.CredentialsProvider, the shape the RDS token builder requires.
type staticCredentials struct {
	creds aws.Credentials
}

func (s staticCredentials) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return s.creds, nil
}
