package service

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tgo/engage/internal/model"
	"github.com/tgo/engage/internal/repository"
)

// SessionService serves read-only session queries.
type SessionService struct {
	sessions  *repository.SessionRepository
	transfers *repository.TransferRepository
}

// NewSessionService creates a read-only session service.
func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{
		sessions:  repository.NewSessionRepository(db),
		transfers: repository.NewTransferRepository(db),
	}
}

// Get returns a session of the organization.
func (s *SessionService) Get(ctx context.Context, orgID, sessionID uuid.UUID) (*model.ChatSession, error) {
	session, err := s.sessions.FindByIDAndOrg(ctx, orgID, sessionID)
	if err != nil {
		return nil, notFoundOr(err, "session")
	}
	return session, nil
}

// List returns sessions of an organization, most recently active first.
func (s *SessionService) List(ctx context.Context, orgID uuid.UUID, status *model.SessionStatus, limit, offset int) ([]model.ChatSession, int64, error) {
	if status != nil && !status.Valid() {
		return nil, 0, newError(KindInvalidRequest, "unknown status %q", *status)
	}
	sessions, total, err := s.sessions.FindByOrganization(ctx, orgID, status, limit, offset)
	if err != nil {
		return nil, 0, wrapError(KindInternal, err, "list sessions")
	}
	return sessions, total, nil
}

// Transfers returns the hand-off history of a session.
func (s *SessionService) Transfers(ctx context.Context, orgID, sessionID uuid.UUID) ([]model.SessionTransfer, error) {
	if _, err := s.Get(ctx, orgID, sessionID); err != nil {
		return nil, err
	}
	transfers, err := s.transfers.FindBySession(ctx, orgID, sessionID)
	if err != nil {
		return nil, wrapError(KindInternal, err, "load transfers")
	}
	return transfers, nil
}
