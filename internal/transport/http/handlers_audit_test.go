package httptransport

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditTrail(t *testing.T) {
	fx := newRouterFixture(t)
	requestID := fx.initiateConsent(t)

	// The recorder persists from a background worker, so the trail appears
	// shortly after the request is created rather than synchronously.
	require.Eventually(t, func() bool {
		rec := fx.authedGet(t, "/audit/"+requestID)
		if rec.Code != http.StatusOK {
			return false
		}
		var views []auditEventView
		if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
			return false
		}
		for _, v := range views {
			if v.Action == "consent_requested" && v.Subject == requestID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuditTrail_RequiresBearerToken(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/audit/some-subject", nil)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditTrail_UnknownSubjectIsEmpty(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.authedGet(t, "/audit/nothing-recorded")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestLocalAPI_LogsAuthenticatedCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	fx := newRouterFixtureWithLogger(t, logger)

	fx.initiateConsent(t)

	logged := buf.String()
	assert.True(t, strings.Contains(logged, `"facility_id":"facility-1"`), logged)
	assert.True(t, strings.Contains(logged, `"operator":"op-1"`), logged)
}
