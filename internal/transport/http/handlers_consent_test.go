package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coronasafe/care-abdm/internal/apitoken"
	"github.com/coronasafe/care-abdm/internal/consent"
	"github.com/coronasafe/care-abdm/internal/correlation"
	"github.com/coronasafe/care-abdm/internal/dataflow"
	"github.com/coronasafe/care-abdm/internal/gateway"
	"github.com/coronasafe/care-abdm/internal/platform/metrics"
	"github.com/coronasafe/care-abdm/pkg/audit"
	"github.com/coronasafe/care-abdm/pkg/domain"
	"github.com/coronasafe/care-abdm/pkg/testutil"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

type sentCall struct {
	path    string
	payload map[string]any
}

func (g *fakeGateway) Send(_ context.Context, path string, payload any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.calls = append(g.calls, sentCall{path: path, payload: payload.(map[string]any)})
	return nil
}

func (g *fakeGateway) sent() []sentCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentCall(nil), g.calls...)
}

var _ gateway.Client = (*fakeGateway)(nil)

type staticKeys struct{}

func (staticKeys) PublicMaterial(context.Context) (dataflow.KeyMaterial, error) {
	return dataflow.KeyMaterial{
		CryptoAlg: "ECDH",
		Curve:     "Curve25519",
		PublicKey: "hiu-public-key",
		Nonce:     "hiu-nonce",
		Expiry:    time.Now().Add(time.Hour),
	}, nil
}

type routerFixture struct {
	handler      http.Handler
	gw           *fakeGateway
	service      *consent.Service
	orchestrator *dataflow.Orchestrator
	token        string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	return newRouterFixtureWithLogger(t, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newRouterFixtureWithLogger(t *testing.T, logger *slog.Logger) *routerFixture {
	t.Helper()
	gw := &fakeGateway{}
	correlations := correlation.NewInMemoryStore()

	recorder := audit.NewRecorder(audit.NewInMemoryStore(), 0)
	runCtx, cancel := context.WithCancel(context.Background())
	go func() { _ = recorder.Run(runCtx) }()
	t.Cleanup(cancel)

	service := consent.NewService(consent.NewInMemoryStore(), correlations, gw, consent.Options{
		HIUID:     "hiu-1",
		Requester: "Dr. Test",
		Logger:    logger,
		Audit:     recorder,
	})
	orchestrator := dataflow.NewOrchestrator(
		dataflow.NewInMemoryStore(),
		dataflow.NewInMemoryRecordStore(),
		service,
		correlations,
		gw,
		staticKeys{},
		nil,
		dataflow.Options{
			DataPushURL: "https://hiu.example/v0.5/health-information/transfer",
			Logger:      logger,
			Audit:       recorder,
		},
	)

	tokens := apitoken.NewService("test-signing-key", "care-abdm", "local-api")
	token, err := tokens.Issue("facility-1", "op-1", time.Hour)
	require.NoError(t, err)

	handler := NewRouter(logger, metrics.New(prometheus.NewRegistry()),
		NewConsentHandler(service, logger, tokens),
		NewDataFlowHandler(orchestrator, logger, tokens),
		NewAuditHandler(recorder, logger, tokens),
	)
	return &routerFixture{
		handler:      handler,
		gw:           gw,
		service:      service,
		orchestrator: orchestrator,
		token:        token,
	}
}

func (fx *routerFixture) authedPost(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+fx.token)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func (fx *routerFixture) authedGet(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+fx.token)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func validInitiateBody() map[string]any {
	now := time.Now()
	return map[string]any{
		"patient":    "P1",
		"purpose":    "CAREMGT",
		"hiTypes":    []string{"Prescription"},
		"accessMode": "VIEW",
		"dateRange": map[string]any{
			"from": domain.FormatWireTime(now.Add(-24 * time.Hour)),
			"to":   domain.FormatWireTime(now.Add(24 * time.Hour)),
		},
		"dataEraseAt": domain.FormatWireTime(now.Add(30 * 24 * time.Hour)),
		"frequency":   map[string]any{"unit": "HOUR", "value": 1, "repeats": 0},
	}
}

// initiateConsent drives the local API and returns the new request id.
func (fx *routerFixture) initiateConsent(t *testing.T) string {
	t.Helper()
	rec := fx.authedPost(t, "/consent-requests", validInitiateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view consentRequestView
	testutil.DecodeJSON(t, rec, &view)
	return view.ID
}

func TestRouter_Heartbeat(t *testing.T) {
	fx := newRouterFixture(t)

	rec := testutil.Get(t, fx.handler, "/v0.5/heartbeat")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	testutil.DecodeJSON(t, rec, &body)
	assert.Equal(t, "UP", body["status"])
}

func TestLocalAPI_RequiresBearerToken(t *testing.T) {
	fx := newRouterFixture(t)

	rec := testutil.PostJSON(t, fx.handler, "/consent-requests", validInitiateBody())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	testutil.DecodeJSON(t, rec, &body)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Empty(t, fx.gw.sent())
}

func TestInitiateConsent(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.authedPost(t, "/consent-requests", validInitiateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view consentRequestView
	testutil.DecodeJSON(t, rec, &view)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "REQUESTED", view.Status)

	calls := fx.gw.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, gateway.PathConsentInit, calls[0].path)
	assert.Equal(t, view.ID, calls[0].payload["requestId"])
}

func TestInitiateConsent_RejectsLooseTimestamps(t *testing.T) {
	fx := newRouterFixture(t)

	body := validInitiateBody()
	// RFC 3339 without the six fraction digits is not the wire format.
	body["dateRange"] = map[string]any{
		"from": "2026-08-01T00:00:00Z",
		"to":   "2026-08-02T00:00:00Z",
	}

	rec := fx.authedPost(t, "/consent-requests", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fx.gw.sent())
}

func TestInitiateConsent_ValidationError(t *testing.T) {
	fx := newRouterFixture(t)

	body := validInitiateBody()
	body["hiTypes"] = []string{}

	rec := fx.authedPost(t, "/consent-requests", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fx.gw.sent())
}

func TestOnInitCallback(t *testing.T) {
	fx := newRouterFixture(t)
	requestID := fx.initiateConsent(t)
	remoteID := uuid.NewString()

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consent-requests/on-init", map[string]any{
		"consentRequest": map[string]any{"id": remoteID},
		"response":       map[string]any{"requestId": requestID},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	status := fx.authedGet(t, "/consent-requests/"+requestID)
	require.Equal(t, http.StatusOK, status.Code)
	var view consentRequestView
	testutil.DecodeJSON(t, status, &view)
	assert.Equal(t, remoteID, view.RemoteID)
	assert.Equal(t, "REQUESTED", view.Status)
}

func TestOnInitCallback_UnknownCorrelationIsAccepted(t *testing.T) {
	fx := newRouterFixture(t)

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consent-requests/on-init", map[string]any{
		"consentRequest": map[string]any{"id": uuid.NewString()},
		"response":       map[string]any{"requestId": uuid.NewString()},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestOnInitCallback_RequiresResultOrError(t *testing.T) {
	fx := newRouterFixture(t)
	requestID := fx.initiateConsent(t)

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consent-requests/on-init", map[string]any{
		"response": map[string]any{"requestId": requestID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnInitCallback_ErrorFailsRequest(t *testing.T) {
	fx := newRouterFixture(t)
	requestID := fx.initiateConsent(t)

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consent-requests/on-init", map[string]any{
		"error":    map[string]any{"code": "1000", "message": "patient not found"},
		"response": map[string]any{"requestId": requestID},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	status := fx.authedGet(t, "/consent-requests/"+requestID)
	var view consentRequestView
	testutil.DecodeJSON(t, status, &view)
	assert.Equal(t, "ERRORED", view.Status)
	assert.Contains(t, view.StatusReason, "patient not found")
}

func TestOnStatusCallback_GrantCreatesArtefact(t *testing.T) {
	fx := newRouterFixture(t)
	requestID := fx.initiateConsent(t)
	artefactID := uuid.NewString()

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consent-requests/on-status", map[string]any{
		"consentRequest": map[string]any{
			"id":               uuid.NewString(),
			"status":           "GRANTED",
			"consentArtefacts": []map[string]any{{"id": artefactID}},
		},
		"response": map[string]any{"requestId": requestID},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	status := fx.authedGet(t, "/consent-requests/"+requestID)
	var view consentRequestView
	testutil.DecodeJSON(t, status, &view)
	assert.Equal(t, "GRANTED", view.Status)
	require.Len(t, view.Artefacts, 1)
	assert.Equal(t, artefactID, view.Artefacts[0].ID)
	assert.Equal(t, "GRANTED", view.Artefacts[0].Status)

	// A grant triggers an artefact fetch on the gateway.
	calls := fx.gw.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, gateway.PathConsentFetch, calls[1].path)
	assert.Equal(t, artefactID, calls[1].payload["consentId"])
}

func TestOnStatusCallback_CaseSensitiveStatus(t *testing.T) {
	fx := newRouterFixture(t)
	requestID := fx.initiateConsent(t)

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consent-requests/on-status", map[string]any{
		"consentRequest": map[string]any{
			"id":     uuid.NewString(),
			"status": "granted",
		},
		"response": map[string]any{"requestId": requestID},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyCallback_Revocation(t *testing.T) {
	fx := newRouterFixture(t)
	requestID := fx.initiateConsent(t)
	remoteID := uuid.NewString()
	artefactID := uuid.NewString()

	grant := testutil.PostJSON(t, fx.handler, "/v0.5/consent-requests/on-status", map[string]any{
		"consentRequest": map[string]any{
			"id":               remoteID,
			"status":           "GRANTED",
			"consentArtefacts": []map[string]any{{"id": artefactID}},
		},
		"response": map[string]any{"requestId": requestID},
	})
	require.Equal(t, http.StatusAccepted, grant.Code)

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consents/hiu/notify", map[string]any{
		"notification": map[string]any{
			"consentRequestId": remoteID,
			"status":           "REVOKED",
			"consentArtefacts": []map[string]any{{"id": artefactID}},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	status := fx.authedGet(t, "/consent-requests/"+requestID)
	var view consentRequestView
	testutil.DecodeJSON(t, status, &view)
	assert.Equal(t, "REVOKED", view.Status)
}

func TestNotifyCallback_UnknownConsentRequestIsAccepted(t *testing.T) {
	fx := newRouterFixture(t)

	rec := testutil.PostJSON(t, fx.handler, "/v0.5/consents/hiu/notify", map[string]any{
		"notification": map[string]any{
			"consentRequestId": uuid.NewString(),
			"status":           "REVOKED",
		},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetConsentStatus_Unknown(t *testing.T) {
	fx := newRouterFixture(t)

	rec := fx.authedGet(t, "/consent-requests/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallback_MalformedBody(t *testing.T) {
	fx := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v0.5/consent-requests/on-init", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
