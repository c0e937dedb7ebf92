package dataflow

import (
	"context"
	"sync"

	"github.com/coronasafe/care-abdm/pkg/domain"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[domain.TransactionID]*DataFlowRequest
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[domain.TransactionID]*DataFlowRequest)}
}

func (s *InMemoryStore) SaveRequest(_ context.Context, request *DataFlowRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *request
	s.requests[request.TransactionID] = &copied
	return nil
}

func (s *InMemoryStore) FindRequest(_ context.Context, id domain.TransactionID) (*DataFlowRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *request
	return &copied, nil
}

func (s *InMemoryStore) FindActiveByArtefact(_ context.Context, id domain.ArtefactID) (*DataFlowRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, request := range s.requests {
		if request.ArtefactID == id && !request.Status.IsTerminal() {
			copied := *request
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// InMemoryRecordStore keeps completed records in process.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records map[domain.TransactionID]*HealthRecord
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{records: make(map[domain.TransactionID]*HealthRecord)}
}

func (s *InMemoryRecordStore) SaveRecord(_ context.Context, record *HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.records[record.TransactionID] = &copied
	return nil
}

func (s *InMemoryRecordStore) FindRecord(_ context.Context, id domain.TransactionID) (*HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *record
	return &copied, nil
}
