package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tshla-medical/phicore/internal/config"
	"github.com/tshla-medical/phicore/internal/domain"
	"github.com/tshla-medical/phicore/internal/domain/audit"
	"github.com/tshla-medical/phicore/pkg/auth"
	"github.com/tshla-medical/phicore/pkg/cryptox"
	"github.com/tshla-medical/phicore/pkg/metrics"
	"go.uber.org/zap"
)

// EncryptedStore persists opaque ciphertext blobs. Implementations never see
// plaintext: the session service encrypts before Put and decrypts after Get,
// and only after the permission check has passed.
type EncryptedStore interface {
	Put(ctx context.Context, key, blob string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ErrBlobNotFound is returned by EncryptedStore implementations when no blob
// exists under the requested key.
var ErrBlobNotFound = errors.New("blob not found")

// Resolved is the result of validating a session token: the session payload,
// the re-signed token with a refreshed activity timestamp, and a warning flag
// set when the session is close enough to expiry that the caller should
// prompt for re-authentication.
type Resolved struct {
	Session      *domain.Session
	Token        string
	ExpiringSoon bool
}

// SessionService issues, validates, refreshes, and revokes sliding-window
// sessions, and gates every PHI operation behind a permission check plus an
// audit entry.
type SessionService struct {
	tokens   *auth.TokenManager
	auditSvc *AuditService
	box      *cryptox.Box
	store    EncryptedStore
	log      *zap.Logger
	metrics  *metrics.Collector
	cfg      config.SessionConfig
	now      func() time.Time
}

func NewSessionService(cfg config.SessionConfig, tokens *auth.TokenManager, auditSvc *AuditService, box *cryptox.Box, store EncryptedStore, log *zap.Logger, m *metrics.Collector) *SessionService {
	return &SessionService{
		tokens:   tokens,
		auditSvc: auditSvc,
		box:      box,
		store:    store,
		log:      log,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Create issues a signed session token after successful password
// authentication. MFAVerified starts false; only Elevate can raise it.
func (s *SessionService) Create(userID uuid.UUID, role domain.Role, perms []domain.Permission, ip string) (string, *domain.Session, error) {
	sessionID, err := cryptox.GenerateSecureToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	session := &domain.Session{
		SessionID:    sessionID,
		UserID:       userID,
		Role:         role,
		Permissions:  perms,
		LoginTime:    now,
		LastActivity: now,
		IPAddress:    ip,
	}

	token, err := s.tokens.Sign(session)
	if err != nil {
		return "", nil, err
	}

	s.auditSvc.Record(audit.Entry{
		UserID:       userID.String(),
		UserRole:     role,
		Action:       audit.ActionLogin,
		ResourceType: audit.ResourcePatient,
		IPAddress:    ip,
		Success:      true,
	}, "")

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}

	return token, session, nil
}

// Resolve verifies a token and applies the sliding window. A bad signature,
// an expired claim, and an elapsed inactivity window all collapse into
// ErrAuthenticationRequired; the expiry path additionally records a
// SESSION_TIMEOUT audit entry. On success the activity timestamp is
// refreshed and the token re-signed.
func (s *SessionService) Resolve(token string) (*Resolved, error) {
	session, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrAuthenticationRequired
	}

	now := s.now()
	idle := session.IdleFor(now)
	if idle >= s.cfg.Duration {
		s.expire(session)
		return nil, ErrAuthenticationRequired
	}

	// remaining lifetime of the incoming token, measured before the refresh
	// below resets the window
	remaining := s.cfg.Duration - idle

	session.LastActivity = now
	refreshed, err := s.tokens.Sign(session)
	if err != nil {
		return nil, err
	}

	return &Resolved{
		Session:      session,
		Token:        refreshed,
		ExpiringSoon: remaining < s.cfg.ExpiryWarning,
	}, nil
}

// Require is Resolve for callers that need a session to proceed. When the
// session is within the warning window a non-fatal notice is logged so the
// surface can prompt for re-authentication before hard expiry.
func (s *SessionService) Require(token string) (*Resolved, error) {
	if token == "" {
		return nil, ErrAuthenticationRequired
	}
	resolved, err := s.Resolve(token)
	if err != nil {
		return nil, err
	}
	if resolved.ExpiringSoon {
		s.log.Info("session nearing expiry",
			zap.String("session_id", resolved.Session.SessionID),
			zap.String("user_id", resolved.Session.UserID.String()),
		)
	}
	return resolved, nil
}

// Elevate marks a session MFA-verified after a successful TOTP check and
// returns the re-signed token. The flag can be raised no other way.
func (s *SessionService) Elevate(token string) (*Resolved, error) {
	resolved, err := s.Resolve(token)
	if err != nil {
		return nil, err
	}
	resolved.Session.MFAVerified = true
	signed, err := s.tokens.Sign(resolved.Session)
	if err != nil {
		return nil, err
	}
	resolved.Token = signed
	return resolved, nil
}

// Terminate logs the user out. Terminating an already-absent session is not
// an error; the cookie clearing happens at the HTTP layer either way.
func (s *SessionService) Terminate(session *domain.Session) {
	if session == nil {
		return
	}
	s.auditSvc.Record(audit.Entry{
		UserID:       session.UserID.String(),
		UserRole:     session.Role,
		Action:       audit.ActionLogout,
		ResourceType: audit.ResourcePatient,
		IPAddress:    session.IPAddress,
		Success:      true,
	}, "")
}

func (s *SessionService) expire(session *domain.Session) {
	s.auditSvc.Record(audit.Entry{
		UserID:       session.UserID.String(),
		UserRole:     session.Role,
		Action:       audit.ActionSessionTimeout,
		ResourceType: audit.ResourcePatient,
		IPAddress:    session.IPAddress,
		Success:      true,
	}, "")
	if s.metrics != nil {
		s.metrics.SessionsExpired.Inc()
	}
}

// StorePatientData encrypts and persists one patient data value. The
// permission check runs before anything touches the store; a denial is
// audited as UNAUTHORIZED_ACCESS before the error propagates. Encryption
// failures are audited as ENCRYPTION_FAILURE and are fatal to the write.
func (s *SessionService) StorePatientData(ctx context.Context, session *domain.Session, key, patientID, data string) error {
	if session == nil {
		return ErrAuthenticationRequired
	}
	if !session.HasPermission(domain.PermWritePatientData) {
		s.denied(session, patientID, key)
		return ErrPermissionDenied
	}

	blob, err := s.box.Encrypt(data)
	if err != nil {
		s.auditSvc.RecordFailedAccess(session.UserID.String(), session.Role, patientID,
			audit.ActionEncryptionFailure, audit.ResourcePatient, key, err.Error())
		return err
	}

	if err := s.store.Put(ctx, key, blob); err != nil {
		return err
	}

	s.auditSvc.RecordAccess(session.UserID.String(), session.Role, patientID,
		audit.ActionUpdateNote, audit.ResourcePatient, key, true)
	if s.metrics != nil {
		s.metrics.PHIWrites.Inc()
	}
	return nil
}

// RetrievePatientData loads and decrypts one patient data value. Decryption
// happens only after the permission check passes, and every successful read
// is audited as VIEW_PATIENT.
func (s *SessionService) RetrievePatientData(ctx context.Context, session *domain.Session, key, patientID string) (string, error) {
	if session == nil {
		return "", ErrAuthenticationRequired
	}
	if !session.HasPermission(domain.PermReadPatientData) {
		s.denied(session, patientID, key)
		return "", ErrPermissionDenied
	}

	blob, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return "", ErrDataNotFound
		}
		return "", err
	}

	data, err := s.box.Decrypt(blob)
	if err != nil {
		s.auditSvc.RecordFailedAccess(session.UserID.String(), session.Role, patientID,
			audit.ActionEncryptionFailure, audit.ResourcePatient, key, err.Error())
		return "", err
	}

	s.auditSvc.RecordAccess(session.UserID.String(), session.Role, patientID,
		audit.ActionViewPatient, audit.ResourcePatient, key, true)
	if s.metrics != nil {
		s.metrics.PHIReads.Inc()
	}
	return data, nil
}

// DeletePatientData removes one patient data value. Deletion is a critical
// audit action, so the entry flushes immediately.
func (s *SessionService) DeletePatientData(ctx context.Context, session *domain.Session, key, patientID string) error {
	if session == nil {
		return ErrAuthenticationRequired
	}
	if !session.HasPermission(domain.PermWritePatientData) {
		s.denied(session, patientID, key)
		return ErrPermissionDenied
	}

	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrBlobNotFound) {
		return err
	}

	s.auditSvc.RecordAccess(session.UserID.String(), session.Role, patientID,
		audit.ActionDeleteNote, audit.ResourcePatient, key, true)
	return nil
}

func (s *SessionService) denied(session *domain.Session, patientID, key string) {
	s.auditSvc.RecordAccess(session.UserID.String(), session.Role, patientID,
		audit.ActionUnauthorizedAccess, audit.ResourcePatient, key, false)
	s.log.Warn("permission denied for patient data access",
		zap.String("user_id", session.UserID.String()),
		zap.String("role", string(session.Role)),
	)
}
