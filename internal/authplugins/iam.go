package authplugins

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	rdsauth "github.com/aws/aws-sdk-go-v2/feature/rds/auth"

	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
)

// TokenBuilder produces an RDS IAM auth token (spec §6: "IAM signer is an
// opaque external service producing an auth token from (host, port, region,
// user, credentials)"). The default is aws-sdk-go-v2's own
// feature/rds/auth.BuildAuthToken, which this signature matches exactly so
// it can be passed in directly without an adapter.
type TokenBuilder func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error)

// DefaultTokenBuilder wraps rdsauth.BuildAuthToken.
func DefaultTokenBuilder(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
	return rdsauth.BuildAuthToken(ctx, endpoint, region, dbUser, creds)
}

// IAMPlugin is the IAM auth plugin (spec §4.8 "IAM"): it wraps connect,
// substituting a generated or cached RDS IAM token for the configured
// password before forwarding, and retries once with a fresh token if the
// cached one is rejected.
type IAMPlugin struct {
	cache       *TokenCache
	build       TokenBuilder
	creds       aws.CredentialsProvider
	classifier  errs.Classifier
	tokenTTL    time.Duration
	clock       func() time.Time
}

var _ pluginchain.Plugin = (*IAMPlugin)(nil)

// NewIAMPlugin builds an IAMPlugin. creds supplies the AWS credentials the
// signer authenticates as (spec §6: getAwsCredentialsProvider is an external
// collaborator, passed in rather than constructed here). tokenTTL is the
// lifetime stamped on a freshly generated token (spec §6:
// iamTokenExpiration; zero means every connect regenerates, per §8's
// boundary case).
func NewIAMPlugin(creds aws.CredentialsProvider, tokenTTL time.Duration, classifier errs.Classifier) *IAMPlugin {
	return &IAMPlugin{
		cache:      NewTokenCache(),
		build:      DefaultTokenBuilder,
		creds:      creds,
		classifier: classifier,
		tokenTTL:   tokenTTL,
		clock:      time.Now,
	}
}

func (p *IAMPlugin) Name() string { return "iam" }

func (p *IAMPlugin) Subscriptions() []pluginchain.OperationID {
	return []pluginchain.OperationID{pluginchain.OpConnect, pluginchain.OpForceConnect}
}

func (p *IAMPlugin) Execute(ctx context.Context, op pluginchain.OperationID, args pluginchain.Args, next pluginchain.Next) (interface{}, error) {
	h, p2, region, dbUser, err := extractConnectArgs(args)
	if err != nil {
		return nil, err
	}

	now := p.clock()
	token, cached := p.cache.Get(region, h.Endpoint, h.Port, dbUser, now)
	if !cached {
		token, err = p.generate(ctx, h, region, dbUser)
		if err != nil {
			return nil, err
		}
	}
	args.Extra["props"] = withPassword(p2, token)

	result, err := next(ctx)
	if err == nil || !p.isRetryableLogin(err) || !cached {
		return result, err
	}

	// The cached token was rejected; regenerate exactly once and retry
	// (spec §4.8: "invalidate, regenerate via RDS signer, retry once").
	p.cache.Invalidate(region, h.Endpoint, h.Port, dbUser)
	token, err = p.generate(ctx, h, region, dbUser)
	if err != nil {
		return nil, err
	}
	args.Extra["props"] = withPassword(p2, token)
	return next(ctx)
}

func (p *IAMPlugin) generate(ctx context.Context, h *host.Host, region, dbUser string) (string, error) {
	token, err := p.build(ctx, h.Key(), region, dbUser, p.creds)
	if err != nil {
		return "", errs.LoginError(err, "iam: failed to build RDS auth token for "+h.Key())
	}
	p.cache.Put(region, h.Endpoint, h.Port, dbUser, token, p.clock().Add(p.tokenTTL))
	return token, nil
}

func (p *IAMPlugin) isRetryableLogin(err error) bool {
	return p.classifier.Classify(errs.Root(err)) == errs.KindLogin || errs.IsRetryableLogin(err)
}

// extractConnectArgs pulls the host/properties/region/dbUser a connect-style
// operation needs out of args.Extra, the bag every auth plugin reads from
// and writes an updated *props.Properties back into for the next link in
// the chain (spec §4.1: plugins mutate shared call state rather than
// receiving a rebuilt Args per link).
func extractConnectArgs(args pluginchain.Args) (*host.Host, *props.Properties, string, string, error) {
	h, ok := args.Extra["host"].(*host.Host)
	if !ok || h == nil {
		return nil, nil, "", "", fmt.Errorf("authplugins: connect args missing host")
	}
	p, ok := args.Extra["props"].(*props.Properties)
	if !ok || p == nil {
		return nil, nil, "", "", fmt.Errorf("authplugins: connect args missing properties")
	}
	region := p.GetString("iamRegion")
	dbUser := p.GetStringDefault("dbUser", p.GetString("user"))
	return h, p, region, dbUser, nil
}

// withPassword returns a clone of p with "password" overridden to token,
// leaving the caller's original Properties untouched (spec §3: the current
// client's properties are not mutated for other concurrent connect
// attempts sharing the same base configuration).
func withPassword(p *props.Properties, token string) *props.Properties {
	out := p.Clone()
	out.Set("password", token)
	return out
}
