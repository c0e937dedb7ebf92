package consent

import (
	"context"
	"sync"

	"github.com/coronasafe/care-abdm/pkg/domain"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

// InMemoryStore keeps consent state in process. Use PostgresStore when
// requests must survive restarts.
type InMemoryStore struct {
	mu        sync.RWMutex
	requests  map[domain.RequestID]*ConsentRequest
	byRemote  map[domain.ConsentRequestID]domain.RequestID
	artefacts map[domain.ArtefactID]*ConsentArtefact
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:  make(map[domain.RequestID]*ConsentRequest),
		byRemote:  make(map[domain.ConsentRequestID]domain.RequestID),
		artefacts: make(map[domain.ArtefactID]*ConsentArtefact),
	}
}

func (s *InMemoryStore) SaveRequest(_ context.Context, request *ConsentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *request
	s.requests[request.ID] = &copied
	if request.RemoteID != "" {
		s.byRemote[request.RemoteID] = request.ID
	}
	return nil
}

func (s *InMemoryStore) FindRequest(_ context.Context, id domain.RequestID) (*ConsentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *request
	return &copied, nil
}

func (s *InMemoryStore) FindRequestByRemoteID(_ context.Context, id domain.ConsentRequestID) (*ConsentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	localID, ok := s.byRemote[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.requests[localID]
	return &copied, nil
}

func (s *InMemoryStore) SaveArtefact(_ context.Context, artefact *ConsentArtefact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *artefact
	s.artefacts[artefact.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindArtefact(_ context.Context, id domain.ArtefactID) (*ConsentArtefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artefact, ok := s.artefacts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *artefact
	return &copied, nil
}

func (s *InMemoryStore) ListArtefactsByRequest(_ context.Context, requestID domain.RequestID) ([]*ConsentArtefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ConsentArtefact
	for _, artefact := range s.artefacts {
		if artefact.ConsentRequestID == requestID {
			copied := *artefact
			out = append(out, &copied)
		}
	}
	return out, nil
}
