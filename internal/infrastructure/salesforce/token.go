package salesforce

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/erp/sfagent/internal/domain/integration"
)

const (
	// tokenPath is the OAuth2 token endpoint relative to the login URL
	tokenPath = "/services/oauth2/token"
	// jwtBearerGrantType is the grant type of the JWT bearer flow
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	// assertionLifetime is the exp window of a JWT bearer assertion
	assertionLifetime = 3 * time.Minute
	// DefaultTokenTTL is used when the token endpoint does not report an expiry
	DefaultTokenTTL = time.Hour
)

// Auth flows
const (
	FlowPassword = "password"
	FlowJWT      = "jwt"
)

// Token errors
var (
	ErrTokenRequestFailed  = errors.New("salesforce: token request failed")
	ErrEmptyAccessToken    = errors.New("salesforce: token response has no access token")
	ErrUnsupportedAuthFlow = errors.New("salesforce: unsupported auth flow")
	ErrMissingPrivateKey   = errors.New("salesforce: private key is required for the jwt flow")
)

// AuthConfig holds the OAuth2 settings of the connected app
type AuthConfig struct {
	Flow          string
	LoginURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	// PrivateKeyPEM is the PEM encoded RSA key signing JWT bearer assertions
	PrivateKeyPEM []byte
	// TokenTTL is how long a token without a reported expiry is reused
	TokenTTL time.Duration
}

// TokenURL returns the token endpoint
func (c *AuthConfig) TokenURL() string {
	return strings.TrimRight(c.LoginURL, "/") + tokenPath
}

func (c *AuthConfig) ttl() time.Duration {
	if c.TokenTTL <= 0 {
		return DefaultTokenTTL
	}
	return c.TokenTTL
}

// withExpiry stamps an expiry on tokens the endpoint returned without one,
// so a reusing source eventually refreshes them.
func withExpiry(tok *oauth2.Token, ttl time.Duration, now time.Time) *oauth2.Token {
	if tok.Expiry.IsZero() {
		tok.Expiry = now.Add(ttl)
	}
	return tok
}

// contextWithClient returns ctx carrying httpClient for the oauth2 package
func contextWithClient(ctx context.Context, httpClient *http.Client) context.Context {
	if httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

// ---------------------------------------------------------------------------
// Password grant
// ---------------------------------------------------------------------------

type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
	ttl      time.Duration
	now      func() time.Time
}

// NewPasswordTokenSource returns a source performing the username-password grant.
// The security token, when set, is appended to the password.
func NewPasswordTokenSource(ctx context.Context, cfg *AuthConfig, httpClient *http.Client) oauth2.TokenSource {
	return &passwordSource{
		ctx: contextWithClient(ctx, httpClient),
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username: cfg.Username,
		password: cfg.Password + cfg.SecurityToken,
		ttl:      cfg.ttl(),
		now:      time.Now,
	}
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	tok, err := s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err)
	}
	return withExpiry(tok, s.ttl, s.now()), nil
}

// ---------------------------------------------------------------------------
// JWT bearer grant
// ---------------------------------------------------------------------------

type jwtBearerSource struct {
	ctx        context.Context
	httpClient *http.Client
	tokenURL   string
	clientID   string
	username   string
	audience   string
	key        *rsa.PrivateKey
	ttl        time.Duration
	now        func() time.Time
}

// tokenResponse is the token endpoint answer
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	InstanceURL string `json:"instance_url"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewJWTBearerTokenSource returns a source performing the JWT bearer grant
// with an RS256 assertion signed by the configured private key.
func NewJWTBearerTokenSource(ctx context.Context, cfg *AuthConfig, httpClient *http.Client) (oauth2.TokenSource, error) {
	if len(cfg.PrivateKeyPEM) == 0 {
		return nil, ErrMissingPrivateKey
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("salesforce: invalid private key: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &jwtBearerSource{
		ctx:        ctx,
		httpClient: httpClient,
		tokenURL:   cfg.TokenURL(),
		clientID:   cfg.ClientID,
		username:   cfg.Username,
		audience:   strings.TrimRight(cfg.LoginURL, "/"),
		key:        key,
		ttl:        cfg.ttl(),
		now:        time.Now,
	}, nil
}

// assertion builds the signed JWT presented to the token endpoint
func (s *jwtBearerSource) assertion() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.clientID,
		Subject:   s.username,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

func (s *jwtBearerSource) Token() (*oauth2.Token, error) {
	assertion, err := s.assertion()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign assertion: %w", ErrTokenRequestFailed, err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrTokenRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrTokenRequestFailed, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", ErrTokenRequestFailed, err)
	}
	if tr.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	tok = tok.WithExtra(map[string]any{"instance_url": tr.InstanceURL})
	return withExpiry(tok, s.ttl, s.now()), nil
}

// ---------------------------------------------------------------------------
// TokenProvider
// ---------------------------------------------------------------------------

// TokenProvider caches bearer tokens until they expire or are invalidated.
// It implements integration.TokenProvider.
type TokenProvider struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	source oauth2.TokenSource
	logger *zap.Logger
}

// Ensure TokenProvider implements integration.TokenProvider
var _ integration.TokenProvider = (*TokenProvider)(nil)

// NewTokenProvider builds the token source of the configured flow
func NewTokenProvider(ctx context.Context, cfg *AuthConfig, httpClient *http.Client, logger *zap.Logger) (*TokenProvider, error) {
	var (
		base oauth2.TokenSource
		err  error
	)
	switch cfg.Flow {
	case FlowPassword, "":
		base = NewPasswordTokenSource(ctx, cfg, httpClient)
	case FlowJWT:
		base, err = NewJWTBearerTokenSource(ctx, cfg, httpClient)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAuthFlow, cfg.Flow)
	}
	return NewTokenProviderFromSource(base, logger), nil
}

// NewTokenProviderFromSource wraps an arbitrary token source
func NewTokenProviderFromSource(base oauth2.TokenSource, logger *zap.Logger) *TokenProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenProvider{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, base),
		logger: logger,
	}
}

// Token returns a valid access token, requesting a new one when needed
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	source := p.source
	p.mu.Unlock()

	tok, err := source.Token()
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", ErrEmptyAccessToken
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = oauth2.ReuseTokenSource(nil, p.base)
	p.logger.Info("CRM token invalidated")
}
