package consent

import (
	"context"

	"github.com/coronasafe/care-abdm/pkg/domain"
)

// Store persists consent requests and artefacts. Implementations return
// sentinel.ErrNotFound for unknown identifiers.
type Store interface {
	SaveRequest(ctx context.Context, request *ConsentRequest) error
	FindRequest(ctx context.Context, id domain.RequestID) (*ConsentRequest, error)
	FindRequestByRemoteID(ctx context.Context, id domain.ConsentRequestID) (*ConsentRequest, error)

	SaveArtefact(ctx context.Context, artefact *ConsentArtefact) error
	FindArtefact(ctx context.Context, id domain.ArtefactID) (*ConsentArtefact, error)
	ListArtefactsByRequest(ctx context.Context, requestID domain.RequestID) ([]*ConsentArtefact, error)
}
