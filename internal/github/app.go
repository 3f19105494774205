package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/bootstrap-orchestrator/lru"
)

const (
	defaultAPIURL = "https://api.github.com/"
	// Installation tokens last one hour; refresh a little early.
	tokenTTL    = 55 * time.Minute
	tokenMargin = 5 * time.Minute
)

// AppAuth authenticates as a GitHub App installation. Installation tokens
// are minted with an RS256 JWT and cached until shortly before expiry.
type AppAuth struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	apiURL         string
	httpClient     *http.Client
	tokens         *lru.Cache[int64, string]
	logger         zerolog.Logger
}

// NewAppAuth creates App credentials from a PEM key on disk.
func NewAppAuth(appID, installationID int64, privateKeyPath, apiURL string, logger zerolog.Logger) (*AppAuth, error) {
	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return NewAppAuthFromKeyBytes(appID, installationID, keyData, apiURL, logger)
}

// NewAppAuthFromKeyBytes creates App credentials from PEM key bytes (useful for testing).
func NewAppAuthFromKeyBytes(appID, installationID int64, keyData []byte, apiURL string, logger zerolog.Logger) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}

	return &AppAuth{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		apiURL:         apiURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		tokens:         lru.New[int64, string](4),
		logger:         logger.With().Str("component", "github_app").Logger(),
	}, nil
}

// generateJWT creates a JWT for GitHub App authentication.
func (a *AppAuth) generateJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token returns a cached or freshly minted installation token.
func (a *AppAuth) Token(ctx context.Context) (string, error) {
	if tok, ok := a.tokens.Get(a.installationID); ok {
		return tok, nil
	}

	a.logger.Info().Int64("installation_id", a.installationID).Msg("generating new installation token")
	signed, err := a.generateJWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%sapp/installations/%d/access_tokens", a.apiURL, a.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("installation token request failed (status %d): %s", resp.StatusCode, body)
	}

	var tokenResp installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	ttl := tokenTTL
	if !tokenResp.ExpiresAt.IsZero() {
		if until := time.Until(tokenResp.ExpiresAt) - tokenMargin; until < ttl {
			ttl = until
		}
	}
	if ttl > 0 {
		a.tokens.PutWithTTL(a.installationID, tokenResp.Token, ttl)
	}
	return tokenResp.Token, nil
}

// Transport returns a RoundTripper that authenticates each request with
// the current installation token.
func (a *AppAuth) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &tokenTransport{auth: a, base: base}
}

type tokenTransport struct {
	auth *AppAuth
	base http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.auth.Token(req.Context())
	if err != nil {
		return nil, err
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "token "+token)
	return t.base.RoundTrip(req2)
}
