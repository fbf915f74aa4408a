package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/spoke-ghauth/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

const (
	// DefaultAPIURL is the GitHub REST API root
	DefaultAPIURL = "https://api.github.com"
	// DefaultUserAgent is sent when no user agent is configured
	DefaultUserAgent = "spoke-ghauth"

	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
	orgsPerPage     = 100
)

// Client talks to the GitHub OAuth and REST endpoints. It is safe for
// concurrent use.
type Client struct {
	userAgent  string
	apiURL     string
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	metrics    *observability.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every call
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIURL overrides the REST API root, e.g. for GitHub Enterprise
func WithAPIURL(apiURL string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(apiURL, "/")
	}
}

// WithOAuthEndpoint overrides the OAuth authorize and token URLs
func WithOAuthEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithMetrics records per-operation request metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClient creates a GitHub client that identifies itself with userAgent
func NewClient(userAgent string, opts ...Option) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	c := &Client{
		userAgent: userAgent,
		apiURL:    DefaultAPIURL,
		endpoint:  githuboauth.Endpoint,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	// AutoDetect retries the exchange with a second auth style on failure;
	// every call here is a single attempt.
	if c.endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
		c.endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	return c
}

// DefaultHeaders returns the headers sent with every request
func (c *Client) DefaultHeaders() http.Header {
	return http.Header{
		"User-Agent": {c.userAgent},
		"Accept":     {"application/json"},
	}
}

// AuthorizeURL returns the provider URL the browser is sent to in order to
// start the authorization-code flow. No state is attached; the flow keeps
// nothing server-side.
func (c *Client) AuthorizeURL(clientID, redirectURL string, scopes ...string) string {
	cfg := c.oauthConfig(clientID, "", redirectURL, scopes)
	return cfg.AuthCodeURL("")
}

// ExchangeCode trades an authorization code for an access token.
// POST /login/oauth/access_token
func (c *Client) ExchangeCode(ctx context.Context, code, clientID, clientSecret string) (string, error) {
	start := time.Now()

	exchangeClient := &http.Client{
		Timeout: c.httpClient.Timeout,
		Transport: &headerTransport{
			base:    c.transport(),
			headers: c.DefaultHeaders(),
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, exchangeClient)

	token, err := c.oauthConfig(clientID, clientSecret, "", nil).Exchange(ctx, code)
	if err != nil {
		upstreamErr := fromExchangeError(err)
		c.metrics.ObserveUpstream(OpExchangeCode, upstreamErr.StatusCode, time.Since(start))
		return "", upstreamErr
	}
	c.metrics.ObserveUpstream(OpExchangeCode, http.StatusOK, time.Since(start))

	if token.AccessToken == "" {
		return "", &UpstreamAPIError{Op: OpExchangeCode, Message: "response missing access_token"}
	}

	return token.AccessToken, nil
}

// FetchUser returns the profile of the user owning token.
// GET /user
func (c *Client) FetchUser(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.get(ctx, OpFetchUser, "/user", token, &user); err != nil {
		return nil, err
	}
	if user.Login == "" {
		return nil, &UpstreamAPIError{Op: OpFetchUser, StatusCode: http.StatusOK, Message: "response missing login"}
	}
	return &user, nil
}

// FetchOrganizations returns the logins of the organizations the owner of
// token belongs to, in the order GitHub lists them.
// GET /user/orgs
func (c *Client) FetchOrganizations(ctx context.Context, token string) ([]string, error) {
	var orgs []Organization
	path := fmt.Sprintf("/user/orgs?per_page=%d", orgsPerPage)
	if err := c.get(ctx, OpFetchOrganizations, path, token, &orgs); err != nil {
		return nil, err
	}

	logins := make([]string, 0, len(orgs))
	for _, org := range orgs {
		logins = append(logins, org.Login)
	}
	return logins, nil
}

func (c *Client) get(ctx context.Context, op, path, token string, out interface{}) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return &UpstreamAPIError{Op: op, Err: err}
	}
	req.Header = MergeHeaders(c.DefaultHeaders(), http.Header{
		"Authorization": {"Bearer " + token},
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(op, 0, time.Since(start))
		return &UpstreamAPIError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &UpstreamAPIError{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamAPIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamAPIError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}

	return nil
}

func (c *Client) oauthConfig(clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
	}
}

func (c *Client) transport() http.RoundTripper {
	if c.httpClient.Transport != nil {
		return c.httpClient.Transport
	}
	return http.DefaultTransport
}
