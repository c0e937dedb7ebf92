package dataflow

import (
	"context"

	"github.com/coronasafe/care-abdm/pkg/domain"
)

// Store persists data-flow sessions. Implementations return
// sentinel.ErrNotFound for unknown identifiers.
type Store interface {
	SaveRequest(ctx context.Context, request *DataFlowRequest) error
	FindRequest(ctx context.Context, id domain.TransactionID) (*DataFlowRequest, error)

	// FindActiveByArtefact returns the non-terminal session for an
	// artefact, if any. The orchestrator allows at most one.
	FindActiveByArtefact(ctx context.Context, id domain.ArtefactID) (*DataFlowRequest, error)
}

// RecordStore keeps completed records for retrieval by the hospital
// application.
type RecordStore interface {
	SaveRecord(ctx context.Context, record *HealthRecord) error
	FindRecord(ctx context.Context, id domain.TransactionID) (*HealthRecord, error)
}

// RecordSink receives each completed record exactly once. The default sink
// persists to a RecordStore; deployments can swap in file storage or a queue.
type RecordSink interface {
	Consume(ctx context.Context, record *HealthRecord) error
}

// StoreSink is the default RecordSink.
type StoreSink struct {
	records RecordStore
}

func NewStoreSink(records RecordStore) *StoreSink {
	return &StoreSink{records: records}
}

func (s *StoreSink) Consume(ctx context.Context, record *HealthRecord) error {
	return s.records.SaveRecord(ctx, record)
}
