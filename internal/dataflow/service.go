package dataflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coronasafe/care-abdm/internal/consent"
	"github.com/coronasafe/care-abdm/internal/correlation"
	"github.com/coronasafe/care-abdm/internal/gateway"
	"github.com/coronasafe/care-abdm/internal/platform/keylock"
	"github.com/coronasafe/care-abdm/internal/platform/metrics"
	"github.com/coronasafe/care-abdm/pkg/audit"
	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

// ArtefactSource resolves granted consent artefacts. The consent service
// implements it.
type ArtefactSource interface {
	FetchArtefact(ctx context.Context, id string) (*consent.ConsentArtefact, error)
}

// KeyMaterialSource supplies the requester's key-exchange public value for an
// outbound request. Generating the underlying key pair is a collaborator
// concern; the engine only forwards the advertised parameters.
type KeyMaterialSource interface {
	PublicMaterial(ctx context.Context) (KeyMaterial, error)
}

// Options configures an Orchestrator.
type Options struct {
	TransferDeadline time.Duration
	DataPushURL      string
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Audit            *audit.Recorder
	Clock            func() time.Time
}

// Orchestrator drives data-flow requests for granted artefacts and feeds the
// reassembler as transfer pages arrive. At most one outstanding request per
// artefact is allowed so duplicate transfers cannot occur.
type Orchestrator struct {
	store        Store
	records      RecordStore
	artefacts    ArtefactSource
	correlations correlation.Store
	gateway      gateway.Client
	keys         KeyMaterialSource
	tracker      *KeyTracker
	reassembler  *Reassembler
	sink         RecordSink
	locks        *keylock.KeyLock

	deadline    time.Duration
	dataPushURL string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	audit       *audit.Recorder
	now         func() time.Time
}

func NewOrchestrator(
	store Store,
	records RecordStore,
	artefacts ArtefactSource,
	correlations correlation.Store,
	gw gateway.Client,
	keys KeyMaterialSource,
	sink RecordSink,
	opts Options,
) *Orchestrator {
	if opts.TransferDeadline == 0 {
		opts.TransferDeadline = 20 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if sink == nil {
		sink = NewStoreSink(records)
	}
	return &Orchestrator{
		store:        store,
		records:      records,
		artefacts:    artefacts,
		correlations: correlations,
		gateway:      gw,
		keys:         keys,
		tracker:      NewKeyTracker(),
		reassembler:  NewReassembler(),
		sink:         sink,
		locks:        keylock.New(),
		deadline:     opts.TransferDeadline,
		dataPushURL:  opts.DataPushURL,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		audit:        opts.Audit,
		now:          opts.Clock,
	}
}

// KeyTracker exposes the per-transaction key material records.
func (o *Orchestrator) KeyTracker() *KeyTracker { return o.tracker }

// RequestHealthInformation issues a data-flow request against a granted
// artefact. It fails with InvalidState before any outbound call when the
// artefact is not granted, its access window does not cover now, or a
// transfer for it is already in flight.
func (o *Orchestrator) RequestHealthInformation(ctx context.Context, artefactID string) (*DataFlowRequest, error) {
	unlock := o.locks.Lock("artefact:" + artefactID)
	defer unlock()

	artefact, err := o.artefacts.FetchArtefact(ctx, artefactID)
	if err != nil {
		return nil, err
	}
	now := o.now()
	if !artefact.AccessWindowCovers(now) {
		return nil, dErrors.Newf(dErrors.CodeInvalidState,
			"artefact %s access window does not cover the current time", artefact.ID)
	}
	if _, err := o.store.FindActiveByArtefact(ctx, artefact.ID); err == nil {
		return nil, dErrors.Newf(dErrors.CodeInvalidState,
			"artefact %s already has a transfer in flight", artefact.ID)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find active data-flow request", err)
	}

	material, err := o.keys.PublicMaterial(ctx)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "obtain key material", err)
	}

	deadline := now.Add(o.deadline)
	protocolID, err := o.correlations.Allocate(ctx, correlation.KindDataFlowRequest, "", deadline)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "allocate correlation entry", err)
	}
	// The generated protocol id is the transaction id: callbacks for this
	// transfer correlate by it.
	transactionID := domain.TransactionID(protocolID)

	payload := o.requestPayload(transactionID, artefact, material, now)
	if err := o.gateway.Send(ctx, gateway.PathHealthInfoRequest, payload); err != nil {
		_ = o.correlations.Release(ctx, protocolID)
		return nil, err
	}

	request := &DataFlowRequest{
		TransactionID: transactionID,
		ArtefactID:    artefact.ID,
		Status:        SessionRequested,
		CreatedAt:     now,
		UpdatedAt:     now,
		Deadline:      deadline,
	}
	if err := o.store.SaveRequest(ctx, request); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "save data-flow request", err)
	}
	o.tracker.MarkActive(transactionID)
	o.record(audit.ActionTransferRequested, transactionID.String(), "")
	return request, nil
}

// AckCallback is the provider's acknowledgment of a data-flow request.
type AckCallback struct {
	TransactionID domain.TransactionID
	SessionStatus SessionStatus
	Err           *domain.CallbackError
}

// OnRequestAck advances the session. Redelivery of the same acknowledgment is
// idempotent; an error payload fails the session and releases its entry.
func (o *Orchestrator) OnRequestAck(ctx context.Context, cb AckCallback) error {
	unlock := o.locks.Lock(cb.TransactionID.String())
	defer unlock()

	if _, err := o.resolve(ctx, cb.TransactionID); err != nil {
		return err
	}
	request, err := o.store.FindRequest(ctx, cb.TransactionID)
	if err != nil {
		return o.miss(ctx, cb.TransactionID, "data-flow request missing for live entry")
	}

	if cb.Err != nil {
		return o.failTransfer(ctx, request, cb.Err.Code+": "+cb.Err.Message)
	}

	switch cb.SessionStatus {
	case SessionRequested:
		return nil
	case SessionAcknowledged:
		if request.Status == SessionAcknowledged {
			return nil // at-least-once redelivery
		}
		if request.Status != SessionRequested {
			o.countProtocolError()
			return dErrors.Newf(dErrors.CodeProtocol,
				"transaction %s: acknowledgment in state %s", request.TransactionID, request.Status)
		}
		request.Status = SessionAcknowledged
		request.UpdatedAt = o.now()
		if err := o.store.SaveRequest(ctx, request); err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "save data-flow request", err)
		}
		return nil
	default:
		o.countProtocolError()
		return dErrors.Newf(dErrors.CodeProtocol,
			"transaction %s: unexpected session status %q", request.TransactionID, cb.SessionStatus)
	}
}

// OnTransferPage ingests one page of the encrypted transfer. When the final
// page arrives the ordered record is handed to the sink and the session is
// complete; any protocol violation fails the whole transfer with nothing
// delivered.
func (o *Orchestrator) OnTransferPage(ctx context.Context, page TransferPage, material KeyMaterial) error {
	unlock := o.locks.Lock(page.TransactionID.String())
	defer unlock()

	request, err := o.store.FindRequest(ctx, page.TransactionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return o.miss(ctx, page.TransactionID, "transfer page for unknown transaction")
	}
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "find data-flow request", err)
	}
	if request.Status != SessionAcknowledged {
		return dErrors.Newf(dErrors.CodeInvalidState,
			"transaction %s: transfer page in state %s", request.TransactionID, request.Status)
	}

	if err := o.tracker.Record(page.TransactionID, material); err != nil {
		o.countProtocolError()
		failErr := o.failTransfer(ctx, request, "conflicting key material")
		if failErr != nil {
			return failErr
		}
		return err
	}

	entries, complete, err := o.reassembler.Ingest(page)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeProtocol) {
			o.countProtocolError()
			if failErr := o.failTransfer(ctx, request, "inconsistent transfer pages"); failErr != nil {
				return failErr
			}
		}
		return err
	}
	if !complete {
		return nil
	}

	now := o.now()
	record := &HealthRecord{
		TransactionID: request.TransactionID,
		ArtefactID:    request.ArtefactID,
		Entries:       entries,
		KeyMaterial:   material,
		PageCount:     page.PageCount,
		CompletedAt:   now,
	}
	if km, ok := o.tracker.Get(request.TransactionID); ok {
		record.KeyMaterial = km
	}
	if err := o.sink.Consume(ctx, record); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "deliver reassembled record", err)
	}

	request.Status = SessionTransferred
	request.UpdatedAt = now
	if err := o.store.SaveRequest(ctx, request); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save data-flow request", err)
	}
	_ = o.correlations.Release(ctx, domain.RequestID(request.TransactionID))
	o.tracker.MarkTerminal(request.TransactionID)
	if o.metrics != nil {
		o.metrics.TransfersCompleted.Inc()
		o.metrics.TransferPages.Observe(float64(page.PageCount))
	}
	o.record(audit.ActionTransferCompleted, request.TransactionID.String(), "")
	return nil
}

// GetTransferStatus returns the session and, once transferred, the record.
func (o *Orchestrator) GetTransferStatus(ctx context.Context, id domain.TransactionID) (*DataFlowRequest, *HealthRecord, error) {
	request, err := o.store.FindRequest(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.Newf(dErrors.CodeNotFound, "unknown transaction %s", id)
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(dErrors.CodeInternal, "find data-flow request", err)
	}
	if request.Status != SessionTransferred {
		return request, nil, nil
	}
	record, err := o.records.FindRecord(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return request, nil, nil
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(dErrors.CodeInternal, "find health record", err)
	}
	return request, record, nil
}

// OnCorrelationExpired fails a transfer whose deadline elapsed. No partial
// delivery: all ingested pages are discarded.
func (o *Orchestrator) OnCorrelationExpired(ctx context.Context, entry correlation.Entry) {
	if o.metrics != nil {
		o.metrics.TimeoutsDelivered.Inc()
	}
	transactionID := domain.TransactionID(entry.Owner)
	unlock := o.locks.Lock(transactionID.String())
	defer unlock()

	request, err := o.store.FindRequest(ctx, transactionID)
	if err != nil || request.Status.IsTerminal() {
		return
	}
	request.Status = SessionFailed
	request.StatusReason = "no transfer before deadline"
	request.UpdatedAt = o.now()
	if err := o.store.SaveRequest(ctx, request); err != nil {
		o.logger.ErrorContext(ctx, "transfer timeout handling failed",
			"transaction_id", transactionID,
			"error", err,
		)
		return
	}
	o.reassembler.Discard(transactionID)
	o.tracker.MarkTerminal(transactionID)
	if o.metrics != nil {
		o.metrics.TransfersFailed.Inc()
	}
	o.record(audit.ActionTransferFailed, transactionID.String(), "timeout")
}

// failTransfer moves the session to FAILED, discards pages, and releases the
// correlation entry.
func (o *Orchestrator) failTransfer(ctx context.Context, request *DataFlowRequest, reason string) error {
	request.Status = SessionFailed
	request.StatusReason = reason
	request.UpdatedAt = o.now()
	if err := o.store.SaveRequest(ctx, request); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save data-flow request", err)
	}
	_ = o.correlations.Release(ctx, domain.RequestID(request.TransactionID))
	o.reassembler.Discard(request.TransactionID)
	o.tracker.MarkTerminal(request.TransactionID)
	if o.metrics != nil {
		o.metrics.TransfersFailed.Inc()
	}
	o.record(audit.ActionTransferFailed, request.TransactionID.String(), reason)
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, id domain.TransactionID) (correlation.Entry, error) {
	entry, err := o.correlations.Resolve(ctx, domain.RequestID(id))
	if errors.Is(err, sentinel.ErrNotFound) {
		return correlation.Entry{}, o.miss(ctx, id, "callback for unknown transaction")
	}
	if err != nil {
		return correlation.Entry{}, dErrors.Wrap(dErrors.CodeInternal, "resolve correlation entry", err)
	}
	if entry.Kind != correlation.KindDataFlowRequest {
		return correlation.Entry{}, o.miss(ctx, id, "callback for non-transfer entry")
	}
	return entry, nil
}

func (o *Orchestrator) miss(ctx context.Context, id domain.TransactionID, msg string) error {
	if o.metrics != nil {
		o.metrics.CorrelationMisses.Inc()
	}
	o.logger.WarnContext(ctx, msg, "transaction_id", id)
	return dErrors.Newf(dErrors.CodeCorrelationMiss, "%s: %s", msg, id)
}

func (o *Orchestrator) countProtocolError() {
	if o.metrics != nil {
		o.metrics.ProtocolErrors.Inc()
	}
}

func (o *Orchestrator) record(action audit.Action, subject, reason string) {
	if o.audit != nil {
		o.audit.Record(action, subject, reason)
	}
}

// requestPayload builds the outbound health-information request with the
// artefact's signed detail and the requester's key-exchange public value.
func (o *Orchestrator) requestPayload(id domain.TransactionID, artefact *consent.ConsentArtefact, material KeyMaterial, now time.Time) map[string]any {
	return map[string]any{
		"requestId": id.String(),
		"timestamp": domain.FormatWireTime(now),
		"hiRequest": map[string]any{
			"consent": map[string]any{
				"id":               artefact.ID.String(),
				"digitalSignature": artefact.Signature,
			},
			"dateRange": map[string]any{
				"from": domain.FormatWireTime(artefact.DateRange.From),
				"to":   domain.FormatWireTime(artefact.DateRange.To),
			},
			"dataPushUrl": o.dataPushURL,
			"keyMaterial": map[string]any{
				"cryptoAlg": material.CryptoAlg,
				"curve":     material.Curve,
				"dhPublicKey": map[string]any{
					"expiry":     domain.FormatWireTime(material.Expiry),
					"parameters": material.Parameters,
					"keyValue":   material.PublicKey,
				},
				"nonce": material.Nonce,
			},
		},
	}
}
