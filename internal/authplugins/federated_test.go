package authplugins

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/crewjam/saml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterwrap/driver/internal/errs"
	"github.com/clusterwrap/driver/internal/host"
	"github.com/clusterwrap/driver/internal/pluginchain"
	"github.com/clusterwrap/driver/internal/props"
)

// encodedAssertion marshals a minimal, well-formed saml.Response carrying an
// Assertion and base64-encodes it the way a real IdP's SAMLResponse form
// field would arrive, so validateAssertionShape's decode-and-unmarshal
// round trip succeeds against it.
func encodedAssertion(t *testing.T) string {
	t.Helper()
	resp := saml.Response{Assertion: &saml.Assertion{}}
	raw, err := xml.Marshal(&resp)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

// fakeHTTPDoer answers every request with a canned response, the same shape
// authplugins_test.go's fakeSecretsManager uses for its collaborator fake.
type fakeHTTPDoer struct {
	status int
	header http.Header
	calls  int
}

func (f *fakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	header := f.header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: f.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}, nil
}

func TestADFSAssertionProviderScrapesSAMLResponseHeader(t *testing.T) {
	assertion := "encoded-assertion-value"
	doer := &fakeHTTPDoer{status: http.StatusOK, header: http.Header{"X-Samlresponse": []string{assertion}}}
	p := NewADFSAssertionProvider(doer)

	got, err := p.FetchAssertion(context.Background(), IdPConfig{Endpoint: "adfs.example.com", Port: 443, Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, assertion, got)
	assert.Equal(t, 1, doer.calls)
}

func TestOktaAssertionProviderScrapesSAMLResponseHeader(t *testing.T) {
	assertion := "okta-assertion-value"
	doer := &fakeHTTPDoer{status: http.StatusOK, header: http.Header{"X-Samlresponse": []string{assertion}}}
	p := NewOktaAssertionProvider(doer)

	got, err := p.FetchAssertion(context.Background(), IdPConfig{Endpoint: "okta.example.com", Port: 443, RelyingPartyID: "rp1"})
	require.NoError(t, err)
	assert.Equal(t, assertion, got)
}

func TestFetchViaFormRejectsNonOKStatus(t *testing.T) {
	doer := &fakeHTTPDoer{status: http.StatusUnauthorized}
	p := NewADFSAssertionProvider(doer)

	_, err := p.FetchAssertion(context.Background(), IdPConfig{Endpoint: "adfs.example.com", Port: 443})
	assert.Error(t, err)
}

func TestFetchViaFormRejectsMissingHeader(t *testing.T) {
	doer := &fakeHTTPDoer{status: http.StatusOK}
	p := NewOktaAssertionProvider(doer)

	_, err := p.FetchAssertion(context.Background(), IdPConfig{Endpoint: "okta.example.com", Port: 443})
	assert.Error(t, err)
}

// fakeAssertionProvider returns a fixed assertion (or error) without any
// HTTP round trip, for exercising FederatedPlugin.Execute in isolation.
type fakeAssertionProvider struct {
	assertion string
	err       error
	calls     int
}

func (f *fakeAssertionProvider) FetchAssertion(ctx context.Context, cfg IdPConfig) (string, error) {
	f.calls++
	return f.assertion, f.err
}

// fakeSTS implements STSApi against an in-memory canned response.
type fakeSTS struct {
	calls int
}

func (f *fakeSTS) AssumeRoleWithSAML(ctx context.Context, in *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error) {
	f.calls++
	return &sts.AssumeRoleWithSAMLOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String("AKIA..."),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("session"),
		},
	}, nil
}

func TestFederatedPluginExchangesAssertionForToken(t *testing.T) {
	provider := &fakeAssertionProvider{assertion: encodedAssertion(t)}
	stsClient := &fakeSTS{}
	p := NewFederatedPlugin(provider, stsClient, "arn:aws:iam::123:role/db", "arn:aws:iam::123:saml-provider/adfs", 5*time.Minute, errs.PostgresClassifier)
	p.iam.build = func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
		return "federated-token", nil
	}

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"user": "app", "iamRegion": "us-east-1", "idpEndpoint": "adfs.example.com"})
	args := connectArgs(h, base)

	var seenPassword string
	next := func(ctx context.Context) (interface{}, error) {
		seenPassword = args.Extra["props"].(*props.Properties).GetString("password")
		return "ok", nil
	}

	result, err := p.Execute(context.Background(), pluginchain.OpConnect, args, next)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "federated-token", seenPassword)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, 1, stsClient.calls)
}

func TestFederatedPluginRetriesOnceOnLoginErrorByRerunningIdPFlow(t *testing.T) {
	provider := &fakeAssertionProvider{assertion: encodedAssertion(t)}
	stsClient := &fakeSTS{}
	p := NewFederatedPlugin(provider, stsClient, "arn:aws:iam::123:role/db", "arn:aws:iam::123:saml-provider/adfs", 5*time.Minute, errs.PostgresClassifier)
	builds := 0
	p.iam.build = func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
		builds++
		return "federated-token", nil
	}

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"user": "app", "iamRegion": "us-east-1", "idpEndpoint": "adfs.example.com"})
	args := connectArgs(h, base)

	attempt := 0
	next := func(ctx context.Context) (interface{}, error) {
		attempt++
		if attempt == 1 {
			return nil, errs.LoginError(errs.New(errs.KindUnknown, "password authentication failed for user"), "connect failed")
		}
		return "ok", nil
	}

	result, err := p.Execute(context.Background(), pluginchain.OpConnect, args, next)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempt)
	// The whole IdP -> STS chain reruns once, not just the RDS token build.
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, 2, stsClient.calls)
	assert.Equal(t, 2, builds)
}

func TestFederatedPluginSurfacesLoginErrorWhenIdPFlowFails(t *testing.T) {
	provider := &fakeAssertionProvider{err: assertFetchErr}
	p := NewFederatedPlugin(provider, &fakeSTS{}, "arn:aws:iam::123:role/db", "arn:aws:iam::123:saml-provider/adfs", 5*time.Minute, errs.PostgresClassifier)

	h := host.New("writer.example.com", 5432, "w1", host.RoleWriter)
	base := props.FromMap(map[string]interface{}{"user": "app", "iamRegion": "us-east-1"})
	args := connectArgs(h, base)

	_, err := p.Execute(context.Background(), pluginchain.OpConnect, args, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindLogin))
}

var assertFetchErr = &fetchError{"idp: simulated failure"}

type fetchError struct{ msg string }

func (e *fetchError) Error() string { return e.msg }
