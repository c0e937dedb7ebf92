package consent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/coronasafe/care-abdm/internal/correlation"
	"github.com/coronasafe/care-abdm/internal/gateway"
	"github.com/coronasafe/care-abdm/internal/platform/keylock"
	"github.com/coronasafe/care-abdm/internal/platform/metrics"
	"github.com/coronasafe/care-abdm/pkg/audit"
	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

// Options configures a Service. Zero values get sane defaults.
type Options struct {
	HIUID            string
	Requester        string
	CallbackDeadline time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Audit            *audit.Recorder
	Clock            func() time.Time
}

// Service is the consent lifecycle state machine. All mutations of a consent
// request happen here, serialized per identifier; the transport layer only
// validates payload shapes and forwards.
type Service struct {
	store        Store
	correlations correlation.Store
	gateway      gateway.Client
	locks        *keylock.KeyLock

	hiuID     string
	requester string
	deadline  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	audit     *audit.Recorder
	now       func() time.Time
}

func NewService(store Store, correlations correlation.Store, gw gateway.Client, opts Options) *Service {
	if opts.CallbackDeadline == 0 {
		opts.CallbackDeadline = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		store:        store,
		correlations: correlations,
		gateway:      gw,
		locks:        keylock.New(),
		hiuID:        opts.HIUID,
		requester:    opts.Requester,
		deadline:     opts.CallbackDeadline,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		audit:        opts.Audit,
		now:          opts.Clock,
	}
}

// InitiateInput is the local action that starts a consent request.
type InitiateInput struct {
	AbhaNumber  string
	Patient     string
	Purpose     domain.Purpose
	HiTypes     []domain.HIType
	AccessMode  domain.AccessMode
	DateRange   DateRange
	DataEraseAt time.Time
	Frequency   Frequency
}

func (in InitiateInput) validate() error {
	if (in.AbhaNumber == "") == (in.Patient == "") {
		return dErrors.New(dErrors.CodeInvalidInput, "exactly one of abhaNumber or patient must be provided")
	}
	if len(in.HiTypes) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "at least one health information type is required")
	}
	if !in.DateRange.From.Before(in.DateRange.To) {
		return dErrors.New(dErrors.CodeInvalidInput, "date range from must precede to")
	}
	return nil
}

// Initiate validates the request, allocates a correlation entry, and sends
// the consent request to the gateway. It returns with status REQUESTED; the
// outcome arrives asynchronously via OnInit and OnStatus. A failed outbound
// call releases the just-allocated entry so no pending state is left behind.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*ConsentRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	id, err := s.correlations.Allocate(ctx, correlation.KindConsentRequest, "", now.Add(s.deadline))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "allocate correlation entry", err)
	}

	request := &ConsentRequest{
		ID:          id,
		AbhaNumber:  in.AbhaNumber,
		Patient:     in.Patient,
		Requester:   s.requester,
		Purpose:     in.Purpose,
		HiTypes:     in.HiTypes,
		AccessMode:  in.AccessMode,
		DateRange:   in.DateRange,
		DataEraseAt: in.DataEraseAt,
		Frequency:   in.Frequency,
		Status:      domain.ConsentRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Persist before the outbound call: the init callback may race in the
	// moment Send returns on the gateway side, and it must find the request.
	if err := s.store.SaveRequest(ctx, request); err != nil {
		_ = s.correlations.Release(ctx, id)
		return nil, dErrors.Wrap(dErrors.CodeInternal, "save consent request", err)
	}
	if err := s.gateway.Send(ctx, gateway.PathConsentInit, s.initPayload(request)); err != nil {
		if failErr := s.failRequest(ctx, request, "gateway dispatch failed"); failErr != nil {
			return nil, failErr
		}
		return nil, err
	}
	s.record(audit.ActionConsentRequested, id.String(), "")
	return request, nil
}

// InitCallback acknowledges (or rejects) a consent request.
type InitCallback struct {
	RequestID        domain.RequestID
	ConsentRequestID domain.ConsentRequestID
	Err              *domain.CallbackError
}

// OnInit records the remote identifier the consent manager assigned, or moves
// the request to ERRORED when the callback carries an error. The correlation
// entry stays live: the terminal status callback is still outstanding.
func (s *Service) OnInit(ctx context.Context, cb InitCallback) error {
	unlock := s.locks.Lock(cb.RequestID.String())
	defer unlock()

	entry, err := s.resolve(ctx, cb.RequestID)
	if err != nil {
		return err
	}
	if entry.Kind != correlation.KindConsentRequest {
		return s.miss(ctx, cb.RequestID, "init callback for non-consent entry")
	}
	request, err := s.store.FindRequest(ctx, domain.RequestID(entry.Owner))
	if err != nil {
		return s.miss(ctx, cb.RequestID, "consent request missing for live entry")
	}

	if cb.Err != nil {
		return s.failRequest(ctx, request, cb.Err.Code+": "+cb.Err.Message)
	}

	request.RemoteID = cb.ConsentRequestID
	request.UpdatedAt = s.now()
	if err := s.store.SaveRequest(ctx, request); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save consent request", err)
	}
	return nil
}

// StatusCallback delivers the consent outcome.
type StatusCallback struct {
	RequestID        domain.RequestID
	ConsentRequestID domain.ConsentRequestID
	Status           domain.ConsentStatus
	ArtefactIDs      []domain.ArtefactID
}

// OnStatus applies the consent outcome. GRANTED requires a non-empty artefact
// list and creates exactly one artefact per listed identifier; DENIED and
// EXPIRED require an empty list. Either way the correlation entry is
// released: the awaited callback has arrived.
func (s *Service) OnStatus(ctx context.Context, cb StatusCallback) error {
	unlock := s.locks.Lock(cb.RequestID.String())
	defer unlock()

	entry, err := s.resolve(ctx, cb.RequestID)
	if err != nil {
		return err
	}
	if entry.Kind != correlation.KindConsentRequest {
		return s.miss(ctx, cb.RequestID, "status callback for non-consent entry")
	}
	request, err := s.store.FindRequest(ctx, domain.RequestID(entry.Owner))
	if err != nil {
		return s.miss(ctx, cb.RequestID, "consent request missing for live entry")
	}

	if !request.CanTransition(cb.Status) {
		return s.protocolFailure(ctx, request,
			"illegal transition "+request.Status.String()+" -> "+cb.Status.String())
	}

	switch cb.Status {
	case domain.ConsentGranted:
		if len(cb.ArtefactIDs) == 0 {
			return s.protocolFailure(ctx, request, "GRANTED status with empty artefact list")
		}
	default:
		if len(cb.ArtefactIDs) != 0 {
			return s.protocolFailure(ctx, request,
				"artefact list present on "+cb.Status.String()+" status")
		}
	}

	now := s.now()
	request.RemoteID = cb.ConsentRequestID
	request.Status = cb.Status
	request.UpdatedAt = now
	if err := s.store.SaveRequest(ctx, request); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save consent request", err)
	}
	_ = s.correlations.Release(ctx, cb.RequestID)

	switch cb.Status {
	case domain.ConsentGranted:
		for _, artefactID := range cb.ArtefactIDs {
			if err := s.createArtefact(ctx, request, artefactID, now); err != nil {
				return err
			}
		}
		s.record(audit.ActionConsentGranted, request.ID.String(), "")
	case domain.ConsentDenied:
		s.record(audit.ActionConsentDenied, request.ID.String(), "")
	case domain.ConsentExpired:
		s.record(audit.ActionConsentExpired, request.ID.String(), "")
	case domain.ConsentErrored:
		s.record(audit.ActionConsentErrored, request.ID.String(), "")
	}
	return nil
}

// createArtefact stores the artefact and kicks off the detail fetch. The
// artefact inherits the request's permission until the signed detail arrives.
func (s *Service) createArtefact(ctx context.Context, request *ConsentRequest, id domain.ArtefactID, now time.Time) error {
	artefact := &ConsentArtefact{
		ID:               id,
		ConsentRequestID: request.ID,
		Status:           domain.ConsentGranted,
		Purpose:          request.Purpose,
		HiTypes:          request.HiTypes,
		AccessMode:       request.AccessMode,
		DateRange:        request.DateRange,
		DataEraseAt:      request.DataEraseAt,
		Frequency:        request.Frequency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.SaveArtefact(ctx, artefact); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save consent artefact", err)
	}

	fetchID, err := s.correlations.Allocate(ctx, correlation.KindConsentFetch, id.String(), now.Add(s.deadline))
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "allocate fetch correlation entry", err)
	}
	payload := map[string]any{
		"requestId": fetchID.String(),
		"timestamp": domain.FormatWireTime(now),
		"consentId": id.String(),
	}
	if err := s.gateway.Send(ctx, gateway.PathConsentFetch, payload); err != nil {
		// The artefact stays GRANTED; only the detail fetch failed. The
		// sweeper will surface the missing detail as a timeout.
		_ = s.correlations.Release(ctx, fetchID)
		s.logger.WarnContext(ctx, "consent fetch dispatch failed",
			"artefact_id", id,
			"error", err,
		)
	}
	return nil
}

// Notification is a post-grant event such as a revocation.
type Notification struct {
	ConsentRequestID domain.ConsentRequestID
	Status           domain.ConsentStatus
	ArtefactIDs      []domain.ArtefactID
}

// OnNotify applies post-grant events. A notify for an unknown consent request
// or artefact is a correlation miss: it may belong to another instance's
// request, so it is logged and dropped rather than failed.
func (s *Service) OnNotify(ctx context.Context, n Notification) error {
	request, err := s.store.FindRequestByRemoteID(ctx, n.ConsentRequestID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.miss(ctx, domain.RequestID(n.ConsentRequestID), "notify for unknown consent request")
	}
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "find consent request", err)
	}

	unlock := s.locks.Lock(request.ID.String())
	defer unlock()
	// Reload under the lock; the first read raced with other callbacks.
	request, err = s.store.FindRequest(ctx, request.ID)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "find consent request", err)
	}

	if request.Status == n.Status {
		return nil // at-least-once redelivery
	}
	if !request.CanTransition(n.Status) {
		s.countProtocolError()
		return dErrors.Newf(dErrors.CodeProtocol,
			"illegal transition %s -> %s for consent request %s", request.Status, n.Status, request.ID)
	}

	now := s.now()
	request.Status = n.Status
	request.UpdatedAt = now
	if err := s.store.SaveRequest(ctx, request); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save consent request", err)
	}

	for _, artefactID := range n.ArtefactIDs {
		if err := s.applyArtefactStatus(ctx, artefactID, n.Status, now); err != nil {
			return err
		}
	}

	if n.Status == domain.ConsentRevoked {
		s.record(audit.ActionConsentRevoked, request.ID.String(), "")
	} else if n.Status == domain.ConsentExpired {
		s.record(audit.ActionConsentExpired, request.ID.String(), "")
	}
	return nil
}

// applyArtefactStatus transitions one artefact under the artefact's own lock,
// the same lock OnFetch holds while saving fetched detail. Artefact mutations
// from both paths are strictly ordered per artefact id.
func (s *Service) applyArtefactStatus(ctx context.Context, id domain.ArtefactID, status domain.ConsentStatus, now time.Time) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	artefact, err := s.store.FindArtefact(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.countMiss()
		s.logger.WarnContext(ctx, "notify for unknown artefact", "artefact_id", id)
		return nil
	}
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "find consent artefact", err)
	}
	if artefact.Status == status {
		return nil
	}
	if !artefact.CanTransition(status) {
		s.countProtocolError()
		return dErrors.Newf(dErrors.CodeProtocol,
			"illegal transition %s -> %s for artefact %s", artefact.Status, status, artefact.ID)
	}
	artefact.Status = status
	artefact.UpdatedAt = now
	if err := s.store.SaveArtefact(ctx, artefact); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save consent artefact", err)
	}
	return nil
}

// ArtefactDetail is the signed consent detail delivered by a fetch callback.
type ArtefactDetail struct {
	Purpose      domain.Purpose
	HiTypes      []domain.HIType
	AccessMode   domain.AccessMode
	DateRange    DateRange
	DataEraseAt  time.Time
	Frequency    Frequency
	CareContexts []CareContext
	Raw          json.RawMessage
}

// FetchCallback delivers the signed detail for one artefact.
type FetchCallback struct {
	RequestID domain.RequestID
	Status    domain.ConsentStatus
	Signature string
	Detail    ArtefactDetail
}

// OnFetch fills in an artefact's signed detail. The fetched permission is
// authoritative and replaces the values inherited from the request.
func (s *Service) OnFetch(ctx context.Context, cb FetchCallback) error {
	entry, err := s.resolve(ctx, cb.RequestID)
	if err != nil {
		return err
	}
	if entry.Kind != correlation.KindConsentFetch {
		return s.miss(ctx, cb.RequestID, "fetch callback for non-fetch entry")
	}
	artefactID := domain.ArtefactID(entry.Owner)

	unlock := s.locks.Lock(entry.Owner)
	defer unlock()

	artefact, err := s.store.FindArtefact(ctx, artefactID)
	if err != nil {
		return s.miss(ctx, cb.RequestID, "artefact missing for live fetch entry")
	}

	artefact.Signature = cb.Signature
	artefact.Detail = cb.Detail.Raw
	artefact.Purpose = cb.Detail.Purpose
	artefact.HiTypes = cb.Detail.HiTypes
	artefact.AccessMode = cb.Detail.AccessMode
	artefact.DateRange = cb.Detail.DateRange
	artefact.DataEraseAt = cb.Detail.DataEraseAt
	artefact.Frequency = cb.Detail.Frequency
	artefact.CareContexts = cb.Detail.CareContexts
	artefact.UpdatedAt = s.now()
	if err := s.store.SaveArtefact(ctx, artefact); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save consent artefact", err)
	}
	return s.correlations.Release(ctx, cb.RequestID)
}

// FetchArtefact is the synchronous lookup the data-flow orchestrator uses.
// The identifier may be an artefact id or a consent request id; the result is
// the GRANTED artefact or NotFound.
func (s *Service) FetchArtefact(ctx context.Context, id string) (*ConsentArtefact, error) {
	artefact, err := s.store.FindArtefact(ctx, domain.ArtefactID(id))
	if err == nil {
		if artefact.Status != domain.ConsentGranted {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no granted artefact for %s", id)
		}
		return artefact, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find consent artefact", err)
	}

	artefacts, err := s.store.ListArtefactsByRequest(ctx, domain.RequestID(id))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list consent artefacts", err)
	}
	for _, a := range artefacts {
		if a.Status == domain.ConsentGranted {
			return a, nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "no granted artefact for %s", id)
}

// GetStatus returns the request and its artefacts for query operations.
func (s *Service) GetStatus(ctx context.Context, id domain.RequestID) (*ConsentRequest, []*ConsentArtefact, error) {
	request, err := s.store.FindRequest(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.Newf(dErrors.CodeNotFound, "unknown consent request %s", id)
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(dErrors.CodeInternal, "find consent request", err)
	}
	artefacts, err := s.store.ListArtefactsByRequest(ctx, id)
	if err != nil {
		return nil, nil, dErrors.Wrap(dErrors.CodeInternal, "list consent artefacts", err)
	}
	return request, artefacts, nil
}

// OnCorrelationExpired handles a deadline elapsing with no matching callback.
// Requests still awaiting their outcome move to ERRORED; a fetch entry expiry
// leaves the artefact granted but without signed detail.
func (s *Service) OnCorrelationExpired(ctx context.Context, entry correlation.Entry) {
	if s.metrics != nil {
		s.metrics.TimeoutsDelivered.Inc()
	}
	switch entry.Kind {
	case correlation.KindConsentRequest:
		unlock := s.locks.Lock(entry.Owner)
		defer unlock()
		request, err := s.store.FindRequest(ctx, domain.RequestID(entry.Owner))
		if err != nil || request.Status != domain.ConsentRequested {
			return
		}
		if err := s.failRequest(ctx, request, "no callback before deadline"); err != nil {
			s.logger.ErrorContext(ctx, "consent timeout handling failed",
				"request_id", entry.Owner,
				"error", err,
			)
		}
	case correlation.KindConsentFetch:
		s.record(audit.ActionCorrelationExpired, entry.Owner, "consent detail fetch timed out")
		s.logger.WarnContext(ctx, "consent fetch timed out", "artefact_id", entry.Owner)
	}
}

// failRequest moves a request to ERRORED and releases its correlation entry.
func (s *Service) failRequest(ctx context.Context, request *ConsentRequest, reason string) error {
	request.Status = domain.ConsentErrored
	request.StatusReason = reason
	request.UpdatedAt = s.now()
	if err := s.store.SaveRequest(ctx, request); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "save consent request", err)
	}
	_ = s.correlations.Release(ctx, request.ID)
	s.record(audit.ActionConsentErrored, request.ID.String(), reason)
	return nil
}

// protocolFailure fails the request and reports a ProtocolError to the caller.
func (s *Service) protocolFailure(ctx context.Context, request *ConsentRequest, reason string) error {
	s.countProtocolError()
	if err := s.failRequest(ctx, request, reason); err != nil {
		return err
	}
	return dErrors.Newf(dErrors.CodeProtocol, "%s (consent request %s)", reason, request.ID)
}

func (s *Service) resolve(ctx context.Context, id domain.RequestID) (correlation.Entry, error) {
	entry, err := s.correlations.Resolve(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return correlation.Entry{}, s.miss(ctx, id, "callback for unknown request id")
	}
	if err != nil {
		return correlation.Entry{}, dErrors.Wrap(dErrors.CodeInternal, "resolve correlation entry", err)
	}
	return entry, nil
}

// miss records a correlation miss. Not fatal: in a multi-instance deployment
// the callback may belong to a request another instance originated.
func (s *Service) miss(ctx context.Context, id domain.RequestID, msg string) error {
	s.countMiss()
	s.logger.WarnContext(ctx, msg, "request_id", id)
	return dErrors.Newf(dErrors.CodeCorrelationMiss, "%s: %s", msg, id)
}

func (s *Service) countMiss() {
	if s.metrics != nil {
		s.metrics.CorrelationMisses.Inc()
	}
}

func (s *Service) countProtocolError() {
	if s.metrics != nil {
		s.metrics.ProtocolErrors.Inc()
	}
}

func (s *Service) record(action audit.Action, subject, reason string) {
	if s.audit != nil {
		s.audit.Record(action, subject, reason)
	}
}

// initPayload builds the outbound consent request in the gateway's wire
// shape.
func (s *Service) initPayload(request *ConsentRequest) map[string]any {
	patient := map[string]any{}
	if request.AbhaNumber != "" {
		patient["id"] = request.AbhaNumber
	} else {
		patient["id"] = request.Patient
	}
	hiTypes := make([]string, 0, len(request.HiTypes))
	for _, t := range request.HiTypes {
		hiTypes = append(hiTypes, t.String())
	}
	return map[string]any{
		"requestId": request.ID.String(),
		"timestamp": domain.FormatWireTime(request.CreatedAt),
		"consent": map[string]any{
			"purpose": map[string]any{"code": request.Purpose.String()},
			"patient": patient,
			"hiu":     map[string]any{"id": s.hiuID},
			"requester": map[string]any{
				"name": request.Requester,
			},
			"hiTypes": hiTypes,
			"permission": map[string]any{
				"accessMode": request.AccessMode.String(),
				"dateRange": map[string]any{
					"from": domain.FormatWireTime(request.DateRange.From),
					"to":   domain.FormatWireTime(request.DateRange.To),
				},
				"dataEraseAt": domain.FormatWireTime(request.DataEraseAt),
				"frequency": map[string]any{
					"unit":    request.Frequency.Unit,
					"value":   request.Frequency.Value,
					"repeats": request.Frequency.Repeats,
				},
			},
		},
	}
}
