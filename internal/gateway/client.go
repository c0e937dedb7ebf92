// Package gateway is the engine's only networked component. State machines
// hand it a path and a payload; everything about transport, sessions, and
// failure translation stays behind the Client interface.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// Client sends one protocol request to the gateway. The gateway only
// acknowledges; the outcome arrives later as a callback. A returned error
// means the request was not accepted and no callback will come.
type Client interface {
	Send(ctx context.Context, path string, payload any) error
}

// Config for the HTTP client. ClientID and ClientSecret authenticate this
// HIU against the gateway's session endpoint.
type Config struct {
	BaseURL      string
	CMID         string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// HTTPClient talks to the real gateway. Session tokens are fetched lazily
// with client credentials and cached until shortly before expiry.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *HTTPClient) Send(ctx context.Context, path string, payload any) error {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "encode gateway payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CM-ID", c.cfg.CMID)

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeGatewayUnavailable, "gateway call failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WarnContext(ctx, "gateway rejected request",
			"path", path,
			"status", resp.StatusCode,
			"body", string(snippet),
		)
		return dErrors.Newf(dErrors.CodeGatewayUnavailable, "gateway returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

// sessionToken returns a cached token or fetches a fresh one.
func (c *HTTPClient) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp.Add(-30*time.Second)) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"clientId":     c.cfg.ClientID,
		"clientSecret": c.cfg.ClientSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v0.5/sessions", bytes.NewReader(body))
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "build session request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeGatewayUnavailable, "gateway session call failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", dErrors.Newf(dErrors.CodeGatewayUnavailable, "gateway session returned %d", resp.StatusCode)
	}

	var session struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", dErrors.Wrap(dErrors.CodeGatewayUnavailable, "decode gateway session", err)
	}
	if session.AccessToken == "" {
		return "", dErrors.New(dErrors.CodeGatewayUnavailable, "gateway session missing access token")
	}

	c.token = session.AccessToken
	c.tokenExp = tokenExpiry(session.AccessToken, session.ExpiresIn)
	return c.token, nil
}

// tokenExpiry prefers the exp claim baked into the token; the gateway's
// expiresIn field is a fallback. The token is not verified here, only read:
// verification is the gateway's job, caching is ours.
func tokenExpiry(token string, expiresIn int) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(5 * time.Minute)
}

var _ Client = (*HTTPClient)(nil)

// Paths for the HIU-initiated gateway calls.
const (
	PathConsentInit       = "/v0.5/consent-requests/init"
	PathConsentFetch      = "/v0.5/consents/fetch"
	PathHealthInfoRequest = "/v0.5/health-information/cm/request"
)
