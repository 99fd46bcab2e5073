package storage

import (
	"context"

	"github.com/tshla-medical/phicore/internal/domain"
	"github.com/tshla-medical/phicore/internal/service"
)

// ServerStore is the server-side half of the storage split. It is a thin
// facade over the session service's protected-data operations: the session
// check runs here, before any persistence call, so an unauthenticated
// request never reaches the backend at all.
type ServerStore struct {
	sessions *service.SessionService
}

func NewServerStore(sessions *service.SessionService) *ServerStore {
	return &ServerStore{sessions: sessions}
}

func (s *ServerStore) StorePatientData(ctx context.Context, session *domain.Session, key, data, patientID string) error {
	if session == nil {
		return service.ErrAuthenticationRequired
	}
	return s.sessions.StorePatientData(ctx, session, key, patientID, data)
}

func (s *ServerStore) GetPatientData(ctx context.Context, session *domain.Session, key, patientID string) (string, error) {
	if session == nil {
		return "", service.ErrAuthenticationRequired
	}
	return s.sessions.RetrievePatientData(ctx, session, key, patientID)
}

func (s *ServerStore) DeletePatientData(ctx context.Context, session *domain.Session, key, patientID string) error {
	if session == nil {
		return service.ErrAuthenticationRequired
	}
	return s.sessions.DeletePatientData(ctx, session, key, patientID)
}
