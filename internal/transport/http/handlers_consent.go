package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/coronasafe/care-abdm/internal/consent"
	"github.com/coronasafe/care-abdm/internal/platform/middleware"
	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// ConsentHandler exposes the gateway consent callbacks and the local consent
// API. Callback routes live under /v0.5 and return 202 on success; the local
// routes sit behind bearer-token auth.
type ConsentHandler struct {
	service   *consent.Service
	logger    *slog.Logger
	validator middleware.TokenValidator
}

func NewConsentHandler(service *consent.Service, logger *slog.Logger, validator middleware.TokenValidator) *ConsentHandler {
	return &ConsentHandler{service: service, logger: logger, validator: validator}
}

func (h *ConsentHandler) Register(r chi.Router) {
	r.Post("/v0.5/consent-requests/on-init", h.handleOnInit)
	r.Post("/v0.5/consent-requests/on-status", h.handleOnStatus)
	r.Post("/v0.5/consents/hiu/notify", h.handleNotify)
	r.Post("/v0.5/consents/on-fetch", h.handleOnFetch)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Post("/consent-requests", h.handleInitiate)
		r.Get("/consent-requests/{id}", h.handleGetStatus)
	})
}

func (h *ConsentHandler) handleOnInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload consentInitCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badPayload(w, r, err)
		return
	}
	requestID, err := domain.ParseRequestID(payload.Response.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	cb := consent.InitCallback{RequestID: requestID}
	if payload.Error != nil {
		cb.Err = &domain.CallbackError{Code: payload.Error.Code, Message: payload.Error.Message}
	} else {
		if payload.ConsentRequest == nil {
			writeError(w, dErrors.New(dErrors.CodeInvalidInput, "either consentRequest or error is required"))
			return
		}
		remoteID, err := domain.ParseConsentRequestID(payload.ConsentRequest.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		cb.ConsentRequestID = remoteID
	}

	if err := h.service.OnInit(ctx, cb); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ConsentHandler) handleOnStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload consentStatusCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badPayload(w, r, err)
		return
	}
	requestID, err := domain.ParseRequestID(payload.Response.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	remoteID, err := domain.ParseConsentRequestID(payload.ConsentRequest.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := domain.ParseConsentStatus(payload.ConsentRequest.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	artefactIDs := make([]domain.ArtefactID, 0, len(payload.ConsentRequest.ConsentArtefacts))
	for _, ref := range payload.ConsentRequest.ConsentArtefacts {
		id, err := domain.ParseArtefactID(ref.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		artefactIDs = append(artefactIDs, id)
	}

	err = h.service.OnStatus(ctx, consent.StatusCallback{
		RequestID:        requestID,
		ConsentRequestID: remoteID,
		Status:           status,
		ArtefactIDs:      artefactIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ConsentHandler) handleNotify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload consentNotifyCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badPayload(w, r, err)
		return
	}
	remoteID, err := domain.ParseConsentRequestID(payload.Notification.ConsentRequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := domain.ParseConsentStatus(payload.Notification.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	artefactIDs := make([]domain.ArtefactID, 0, len(payload.Notification.ConsentArtefacts))
	for _, ref := range payload.Notification.ConsentArtefacts {
		id, err := domain.ParseArtefactID(ref.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		artefactIDs = append(artefactIDs, id)
	}

	err = h.service.OnNotify(ctx, consent.Notification{
		ConsentRequestID: remoteID,
		Status:           status,
		ArtefactIDs:      artefactIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ConsentHandler) handleOnFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload consentFetchCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badPayload(w, r, err)
		return
	}
	requestID, err := domain.ParseRequestID(payload.Response.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := domain.ParseConsentStatus(payload.Consent.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	detail, err := parseConsentDetail(payload.Consent.ConsentDetail)
	if err != nil {
		writeError(w, err)
		return
	}

	err = h.service.OnFetch(ctx, consent.FetchCallback{
		RequestID: requestID,
		Status:    status,
		Signature: payload.Consent.Signature,
		Detail:    detail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseConsentDetail(raw json.RawMessage) (consent.ArtefactDetail, error) {
	var body consentDetail
	if err := json.Unmarshal(raw, &body); err != nil {
		return consent.ArtefactDetail{}, dErrors.Wrap(dErrors.CodeInvalidInput, "malformed consentDetail", err)
	}
	purpose, err := domain.ParsePurpose(body.Purpose.Code)
	if err != nil {
		return consent.ArtefactDetail{}, err
	}
	accessMode, err := domain.ParseAccessMode(body.Permission.AccessMode)
	if err != nil {
		return consent.ArtefactDetail{}, err
	}
	hiTypes := make([]domain.HIType, 0, len(body.HiTypes))
	for _, s := range body.HiTypes {
		t, err := domain.ParseHIType(s)
		if err != nil {
			return consent.ArtefactDetail{}, err
		}
		hiTypes = append(hiTypes, t)
	}
	careContexts := make([]consent.CareContext, 0, len(body.CareContexts))
	for _, cc := range body.CareContexts {
		careContexts = append(careContexts, consent.CareContext{
			PatientReference:     cc.PatientReference,
			CareContextReference: cc.CareContextReference,
		})
	}
	return consent.ArtefactDetail{
		Purpose:    purpose,
		HiTypes:    hiTypes,
		AccessMode: accessMode,
		DateRange: consent.DateRange{
			From: body.Permission.DateRange.From.Time(),
			To:   body.Permission.DateRange.To.Time(),
		},
		DataEraseAt: body.Permission.DataEraseAt.Time(),
		Frequency: consent.Frequency{
			Unit:    body.Permission.Frequency.Unit,
			Value:   body.Permission.Frequency.Value,
			Repeats: body.Permission.Frequency.Repeats,
		},
		CareContexts: careContexts,
		Raw:          raw,
	}, nil
}

func (h *ConsentHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body initiateConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badPayload(w, r, err)
		return
	}
	purpose, err := domain.ParsePurpose(body.Purpose)
	if err != nil {
		writeError(w, err)
		return
	}
	accessMode, err := domain.ParseAccessMode(body.AccessMode)
	if err != nil {
		writeError(w, err)
		return
	}
	hiTypes := make([]domain.HIType, 0, len(body.HiTypes))
	for _, s := range body.HiTypes {
		t, err := domain.ParseHIType(s)
		if err != nil {
			writeError(w, err)
			return
		}
		hiTypes = append(hiTypes, t)
	}

	request, err := h.service.Initiate(ctx, consent.InitiateInput{
		AbhaNumber: body.AbhaNumber,
		Patient:    body.Patient,
		Purpose:    purpose,
		HiTypes:    hiTypes,
		AccessMode: accessMode,
		DateRange: consent.DateRange{
			From: body.DateRange.From.Time(),
			To:   body.DateRange.To.Time(),
		},
		DataEraseAt: body.DataEraseAt.Time(),
		Frequency: consent.Frequency{
			Unit:    body.Frequency.Unit,
			Value:   body.Frequency.Value,
			Repeats: body.Frequency.Repeats,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "consent request initiated",
		"request_id", request.ID,
		"facility_id", middleware.GetFacilityID(ctx),
		"operator", middleware.GetOperator(ctx),
	)
	writeJSON(w, http.StatusCreated, consentRequestView{
		ID:     request.ID.String(),
		Status: request.Status.String(),
	})
}

func (h *ConsentHandler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	request, artefacts, err := h.service.GetStatus(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := consentRequestView{
		ID:           request.ID.String(),
		RemoteID:     request.RemoteID.String(),
		Status:       request.Status.String(),
		StatusReason: request.StatusReason,
	}
	for _, artefact := range artefacts {
		view.Artefacts = append(view.Artefacts, artefactView{
			ID:     artefact.ID.String(),
			Status: artefact.Status.String(),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ConsentHandler) badPayload(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "malformed callback payload",
		"request_id", chimiddleware.GetReqID(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "malformed request body", err))
}
