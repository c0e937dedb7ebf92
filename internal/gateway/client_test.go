package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("gateway-secret"))
	require.NoError(t, err)
	return signed
}

func newGatewayServer(t *testing.T, token string) (*httptest.Server, *atomic.Int64, chan map[string]any) {
	t.Helper()
	sessions := &atomic.Int64{}
	received := make(chan map[string]any, 16)
	mux := http.NewServeMux()
	mux.HandleFunc("/v0.5/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions.Add(1)
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		assert.Equal(t, "client-1", creds["clientId"])
		assert.Equal(t, "secret-1", creds["clientSecret"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": token,
			"expiresIn":   600,
		})
	})
	mux.HandleFunc("/v0.5/consent-requests/init", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		assert.Equal(t, "sbx", r.Header.Get("X-CM-ID"))
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
		w.WriteHeader(http.StatusAccepted)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, sessions, received
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		CMID:         "sbx",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
	}
}

func TestHTTPClient_SendWithSession(t *testing.T) {
	token := signedToken(t, time.Now().Add(10*time.Minute))
	server, sessions, received := newGatewayServer(t, token)
	client := NewHTTPClient(testConfig(server.URL), slog.Default())

	err := client.Send(context.Background(), PathConsentInit, map[string]any{"requestId": "r-1"})
	require.NoError(t, err)

	payload := <-received
	assert.Equal(t, "r-1", payload["requestId"])
	assert.Equal(t, int64(1), sessions.Load())
}

func TestHTTPClient_ReusesCachedToken(t *testing.T) {
	token := signedToken(t, time.Now().Add(10*time.Minute))
	server, sessions, _ := newGatewayServer(t, token)
	client := NewHTTPClient(testConfig(server.URL), slog.Default())

	for i := 0; i < 3; i++ {
		require.NoError(t, client.Send(context.Background(), PathConsentInit, map[string]any{}))
	}
	assert.Equal(t, int64(1), sessions.Load(), "token fetched once")
}

func TestHTTPClient_RefreshesNearExpiry(t *testing.T) {
	token := signedToken(t, time.Now().Add(10*time.Second))
	server, sessions, _ := newGatewayServer(t, token)
	client := NewHTTPClient(testConfig(server.URL), slog.Default())

	require.NoError(t, client.Send(context.Background(), PathConsentInit, map[string]any{}))
	// Within the 30s refresh margin of the exp claim, so the next send
	// fetches a fresh session.
	require.NoError(t, client.Send(context.Background(), PathConsentInit, map[string]any{}))
	assert.Equal(t, int64(2), sessions.Load())
}

func TestHTTPClient_Non2xxIsGatewayUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v0.5/sessions" {
			_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "tok", "expiresIn": 600})
			return
		}
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer server.Close()
	client := NewHTTPClient(testConfig(server.URL), slog.Default())

	err := client.Send(context.Background(), PathConsentInit, map[string]any{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeGatewayUnavailable))
}

func TestHTTPClient_SessionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()
	client := NewHTTPClient(testConfig(server.URL), slog.Default())

	err := client.Send(context.Background(), PathConsentInit, map[string]any{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeGatewayUnavailable))
}

func TestHTTPClient_UnreachableGateway(t *testing.T) {
	client := NewHTTPClient(testConfig("http://127.0.0.1:1"), slog.Default())
	err := client.Send(context.Background(), PathConsentInit, map[string]any{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeGatewayUnavailable))
}

func TestTokenExpiry_FallsBackToExpiresIn(t *testing.T) {
	before := time.Now()
	exp := tokenExpiry("not-a-jwt", 120)
	assert.True(t, exp.After(before.Add(119*time.Second)))
	assert.True(t, exp.Before(before.Add(121*time.Second)))
}
