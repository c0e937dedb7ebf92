package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/coronasafe/care-abdm/internal/dataflow"
	"github.com/coronasafe/care-abdm/internal/platform/middleware"
	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// DataFlowHandler exposes the data-flow callback routes, the provider's data
// push endpoint, and the local transfer API.
type DataFlowHandler struct {
	orchestrator *dataflow.Orchestrator
	logger       *slog.Logger
	validator    middleware.TokenValidator
}

func NewDataFlowHandler(orchestrator *dataflow.Orchestrator, logger *slog.Logger, validator middleware.TokenValidator) *DataFlowHandler {
	return &DataFlowHandler{orchestrator: orchestrator, logger: logger, validator: validator}
}

func (h *DataFlowHandler) Register(r chi.Router) {
	r.Post("/v0.5/health-information/hiu/on-request", h.handleOnRequest)
	r.Post("/v0.5/health-information/transfer", h.handleTransfer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Post("/health-information", h.handleRequest)
		r.Get("/health-information/{transactionId}", h.handleGetStatus)
	})
}

func (h *DataFlowHandler) handleOnRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload dataFlowAckCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badPayload(w, r, err)
		return
	}
	requestID, err := domain.ParseRequestID(payload.Response.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	cb := dataflow.AckCallback{TransactionID: domain.TransactionID(requestID)}
	if payload.Error != nil {
		cb.Err = &domain.CallbackError{Code: payload.Error.Code, Message: payload.Error.Message}
	} else {
		if payload.HiRequest == nil {
			writeError(w, dErrors.New(dErrors.CodeInvalidInput, "either hiRequest or error is required"))
			return
		}
		transactionID, err := domain.ParseTransactionID(payload.HiRequest.TransactionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if transactionID != cb.TransactionID {
			writeError(w, dErrors.New(dErrors.CodeProtocol, "transactionId does not match response.requestId"))
			return
		}
		switch payload.HiRequest.SessionStatus {
		case string(dataflow.SessionRequested), string(dataflow.SessionAcknowledged):
			cb.SessionStatus = dataflow.SessionStatus(payload.HiRequest.SessionStatus)
		default:
			writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown session status %q", payload.HiRequest.SessionStatus))
			return
		}
	}

	if err := h.orchestrator.OnRequestAck(ctx, cb); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *DataFlowHandler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload transferPagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.badPayload(w, r, err)
		return
	}
	transactionID, err := domain.ParseTransactionID(payload.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]dataflow.Entry, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		entries = append(entries, dataflow.Entry{
			Content:              e.Content,
			Link:                 e.Link,
			Media:                e.Media,
			Checksum:             e.Checksum,
			CareContextReference: e.CareContextReference,
		})
	}
	material := dataflow.KeyMaterial{
		CryptoAlg:  payload.KeyMaterial.CryptoAlg,
		Curve:      payload.KeyMaterial.Curve,
		PublicKey:  payload.KeyMaterial.DHPublicKey.KeyValue,
		Parameters: payload.KeyMaterial.DHPublicKey.Parameters,
		Expiry:     payload.KeyMaterial.DHPublicKey.Expiry.Time(),
		Nonce:      payload.KeyMaterial.Nonce,
	}

	err = h.orchestrator.OnTransferPage(ctx, dataflow.TransferPage{
		TransactionID: transactionID,
		PageNumber:    payload.PageNumber,
		PageCount:     payload.PageCount,
		Entries:       entries,
	}, material)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *DataFlowHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body requestHealthInformationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.badPayload(w, r, err)
		return
	}
	if body.ConsentArtefact == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "consentArtefact is required"))
		return
	}

	request, err := h.orchestrator.RequestHealthInformation(ctx, body.ConsentArtefact)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "health information requested",
		"transaction_id", request.TransactionID,
		"artefact_id", request.ArtefactID,
		"facility_id", middleware.GetFacilityID(ctx),
		"operator", middleware.GetOperator(ctx),
	)
	writeJSON(w, http.StatusCreated, transferStatusView{
		TransactionID: request.TransactionID.String(),
		ArtefactID:    request.ArtefactID.String(),
		Status:        string(request.Status),
	})
}

func (h *DataFlowHandler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseTransactionID(chi.URLParam(r, "transactionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	request, record, err := h.orchestrator.GetTransferStatus(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := transferStatusView{
		TransactionID: request.TransactionID.String(),
		ArtefactID:    request.ArtefactID.String(),
		Status:        string(request.Status),
		StatusReason:  request.StatusReason,
	}
	if record != nil {
		rv := &recordView{
			PageCount:   record.PageCount,
			CompletedAt: domain.WireTime(record.CompletedAt),
		}
		for _, e := range record.Entries {
			rv.Entries = append(rv.Entries, transferEntry{
				Content:              e.Content,
				Link:                 e.Link,
				Media:                e.Media,
				Checksum:             e.Checksum,
				CareContextReference: e.CareContextReference,
			})
		}
		view.Record = rv
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *DataFlowHandler) badPayload(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "malformed callback payload",
		"request_id", chimiddleware.GetReqID(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "malformed request body", err))
}
