// Package ghauth authenticates the Git/PR Executor as a GitHub App: it mints
// a short-lived RS256 JWT from the App's private key, exchanges that JWT for
// an installation access token, and caches the token until shortly before it
// expires. Mechanism is unchanged from the teacher's internal/github package
// (jwt.go's RS256 signing, token.go's installation-token exchange,
// token_manager.go's expiry-buffered cache) — GitHub App auth is a fixed
// protocol, not something to reinvent — but the three files are folded into
// one, renamed around the PR-executor's vocabulary, and the API-error
// mapping is collapsed into a single switch in the unexported apiError,
// since this package has no other exported error path to share it with.
package ghauth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// appJWTLifetime is the duration an App JWT is valid for; GitHub caps this at
// 10 minutes.
const appJWTLifetime = 10 * time.Minute

// refreshBuffer is how far ahead of an installation token's real expiry the
// cache treats it as stale, so a long-running push never races the clock.
const refreshBuffer = 5 * time.Minute

// InstallationToken is a GitHub App installation access token.
type InstallationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("ghauth: could not decode PEM block")
	}
	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ghauth: parsing PKCS8 private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ghauth: private key is not RSA")
	}
	return rsaKey, nil
}

func mintAppJWT(appID string, key *rsa.PrivateKey) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("ghauth: signing app JWT: %w", err)
	}
	return signed, nil
}

func exchangeForInstallationToken(client *http.Client, baseURL, appJWT string, installationID int64) (*InstallationToken, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", baseURL, installationID)

	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ghauth: building token-exchange request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ghauth: exchanging app JWT for installation token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ghauth: reading token-exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp.StatusCode, body)
	}

	var tok InstallationToken
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("ghauth: parsing token-exchange response: %w", err)
	}
	return &tok, nil
}

func apiError(statusCode int, body []byte) error {
	var parsed struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &parsed)

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("ghauth: unauthorized (%s) — check app JWT validity", parsed.Message)
	case http.StatusForbidden:
		return fmt.Errorf("ghauth: forbidden (%s) — check app installation permissions", parsed.Message)
	case http.StatusNotFound:
		return fmt.Errorf("ghauth: not found (%s) — check installation id", parsed.Message)
	default:
		return fmt.Errorf("ghauth: github api error (status %d): %s", statusCode, parsed.Message)
	}
}

// TokenCache mints and caches GitHub App installation tokens, refreshing
// automatically once the cached token is within refreshBuffer of expiry.
type TokenCache struct {
	mu sync.Mutex

	appID          string
	installationID int64
	privateKey     *rsa.PrivateKey
	httpClient     *http.Client
	baseURL        string
	now            func() time.Time

	token     string
	expiresAt time.Time
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithHTTPClient overrides the HTTP client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(tc *TokenCache) { tc.httpClient = c }
}

// WithBaseURL overrides the GitHub API base URL (for testing against a
// local fixture server).
func WithBaseURL(url string) Option {
	return func(tc *TokenCache) { tc.baseURL = url }
}

// WithNowFunc overrides the cache's clock (for testing expiry logic).
func WithNowFunc(fn func() time.Time) Option {
	return func(tc *TokenCache) { tc.now = fn }
}

// NewTokenCache validates the App credentials eagerly (so a bad private key
// fails at startup, not on the first push) and returns a ready cache.
func NewTokenCache(appID string, installationID int64, privateKeyPEM []byte, opts ...Option) (*TokenCache, error) {
	if appID == "" {
		return nil, fmt.Errorf("ghauth: app id cannot be empty")
	}
	if installationID <= 0 {
		return nil, fmt.Errorf("ghauth: installation id must be positive")
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("ghauth: %w", err)
	}

	tc := &TokenCache{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		baseURL:        "https://api.github.com",
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc, nil
}

// Token returns a valid installation token, refreshing first if the cached
// one is missing or close to expiry.
func (tc *TokenCache) Token() (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.token != "" && tc.expiresAt.After(tc.now().Add(refreshBuffer)) {
		return tc.token, nil
	}

	appJWT, err := mintAppJWT(tc.appID, tc.privateKey)
	if err != nil {
		return "", err
	}
	installTok, err := exchangeForInstallationToken(tc.httpClient, tc.baseURL, appJWT, tc.installationID)
	if err != nil {
		return "", err
	}

	tc.token = installTok.Token
	tc.expiresAt = installTok.ExpiresAt
	return tc.token, nil
}
