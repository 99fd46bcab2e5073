package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tshla-medical/phicore/internal/domain"
	"github.com/tshla-medical/phicore/internal/domain/audit"
	"github.com/tshla-medical/phicore/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 30 * time.Minute
	passwordMaxAge    = 90 * 24 * time.Hour

	// totpSkew accepts codes from this many 30-second steps on either side
	// of the verifier's clock.
	totpSkew = 2
)

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
}

type AuthService struct {
	userRepo   UserRepository
	sessions   *SessionService
	auditSvc   *AuditService
	log        *zap.Logger
	metrics    *metrics.Collector
	bcryptCost int
	issuer     string
	now        func() time.Time
}

func NewAuthService(userRepo UserRepository, sessions *SessionService, auditSvc *AuditService, log *zap.Logger, m *metrics.Collector, bcryptCost int, issuer string) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		sessions:   sessions,
		auditSvc:   auditSvc,
		log:        log,
		metrics:    m,
		bcryptCost: bcryptCost,
		issuer:     issuer,
		now:        time.Now,
	}
}

type RegisterResult struct {
	User *domain.User
	// MFASecret and MFAEnrollmentURL let the caller render the enrollment
	// QR code. MFA stays disabled until EnableMFA completes the round-trip.
	MFASecret        string
	MFAEnrollmentURL string
}

// Register creates a credential holder. The password must pass the strength
// policy; a fresh TOTP secret is generated but not enabled.
func (s *AuthService) Register(ctx context.Context, email, password string, role domain.Role) (*RegisterResult, error) {
	if !role.IsValid() {
		return nil, ErrRoleInvalid
	}
	if err := validatePasswordStrength(password); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))

	if _, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
	})
	if err != nil {
		return nil, fmt.Errorf("generating MFA secret: %w", err)
	}

	user := &domain.User{
		ID:                uuid.New(),
		Email:             email,
		PasswordHash:      string(hash),
		Role:              role,
		IsActive:          true,
		PasswordChangedAt: s.now(),
		MFASecret:         key.Secret(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.log.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(role)),
	)

	return &RegisterResult{
		User:             user,
		MFASecret:        key.Secret(),
		MFAEnrollmentURL: key.URL(),
	}, nil
}

type LoginResult struct {
	Token   string
	Session *domain.Session
	// MFARequired means the password step succeeded but the login is
	// incomplete until VerifyMFA elevates the session.
	MFARequired            bool
	PasswordChangeRequired bool
}

// Login authenticates a password. Unknown email and wrong password are
// indistinguishable both in the returned error and, via the dummy hash,
// in approximate timing. A locked account is refused before the password
// is even checked.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	now := s.now()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		// Dummy hash so response time does not reveal whether the email
		// exists in the system.
		_, _ = bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
		s.recordLoginFailure("", "", ip, "unknown email")
		return nil, ErrInvalidCredentials
	}

	// Deactivation is the revocation operation: an inactive account is
	// refused with the same generic error as a bad password.
	if !user.IsActive {
		s.recordLoginFailure(user.ID.String(), user.Role, ip, "inactive account")
		return nil, ErrInvalidCredentials
	}

	if user.IsLocked(now) {
		s.recordLoginFailure(user.ID.String(), user.Role, ip, "account locked")
		if s.metrics != nil {
			s.metrics.LoginLockouts.Inc()
		}
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.FailedLoginCount++
		if user.FailedLoginCount >= maxFailedAttempts {
			until := now.Add(lockoutDuration)
			user.LockedUntil = &until
			s.log.Warn("account locked after repeated failures",
				zap.String("user_id", user.ID.String()),
			)
		}
		if uerr := s.userRepo.Update(ctx, user); uerr != nil {
			s.log.Error("failed to persist login attempt", zap.Error(uerr))
		}
		s.recordLoginFailure(user.ID.String(), user.Role, ip, "wrong password")
		if s.metrics != nil {
			s.metrics.LoginFailures.Inc()
		}
		return nil, ErrInvalidCredentials
	}

	user.FailedLoginCount = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now
	if now.Sub(user.PasswordChangedAt) > passwordMaxAge {
		user.RequirePasswordChange = true
	}
	if err := s.userRepo.Update(ctx, user); err != nil {
		s.log.Error("failed to persist successful login", zap.Error(err))
	}

	token, session, err := s.sessions.Create(user.ID, user.Role, domain.DefaultPermissions(user.Role), ip)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.LoginSuccesses.Inc()
	}

	return &LoginResult{
		Token:                  token,
		Session:                session,
		MFARequired:            user.MFAEnabled,
		PasswordChangeRequired: user.RequirePasswordChange,
	}, nil
}

// VerifyMFA validates a TOTP code against the session user's stored secret
// and, on success, elevates the session to mfa_verified. Every attempt is
// audited, success or not.
func (s *AuthService) VerifyMFA(ctx context.Context, token, code string) (*Resolved, error) {
	resolved, err := s.sessions.Resolve(token)
	if err != nil {
		return nil, err
	}
	session := resolved.Session

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAuthenticationRequired
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	ok := s.validateTOTP(code, user.MFASecret)
	s.auditSvc.Record(audit.Entry{
		UserID:       user.ID.String(),
		UserRole:     user.Role,
		Action:       mfaAuditAction(ok),
		ResourceType: audit.ResourcePatient,
		IPAddress:    session.IPAddress,
		Details:      map[string]string{"step": "mfa"},
		Success:      ok,
	}, "")

	if !ok {
		return nil, ErrMFAInvalid
	}

	return s.sessions.Elevate(resolved.Token)
}

// EnableMFA completes enrollment: the user proves possession of the secret
// generated at registration by submitting one valid code.
func (s *AuthService) EnableMFA(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return ErrAuthenticationRequired
	}
	if user.MFASecret == "" {
		return ErrMFANotEnabled
	}
	if !s.validateTOTP(code, user.MFASecret) {
		return ErrMFAInvalid
	}
	user.MFAEnabled = true
	return s.userRepo.Update(ctx, user)
}

// ChangePassword re-verifies the current password before accepting a new
// one, which must meet the same strength policy as registration.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return ErrAuthenticationRequired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	if err := validatePasswordStrength(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.PasswordChangedAt = s.now()
	user.RequirePasswordChange = false
	return s.userRepo.Update(ctx, user)
}

func (s *AuthService) validateTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (s *AuthService) recordLoginFailure(userID string, role domain.Role, ip, reason string) {
	s.auditSvc.Record(audit.Entry{
		UserID:       userID,
		UserRole:     role,
		Action:       audit.ActionLoginFailed,
		ResourceType: audit.ResourcePatient,
		IPAddress:    ip,
		Details:      map[string]string{"reason": reason},
		Success:      false,
	}, "")
}

func mfaAuditAction(ok bool) audit.Action {
	if ok {
		return audit.ActionLogin
	}
	return audit.ActionLoginFailed
}

// validatePasswordStrength enforces the registration policy: at least 12
// characters with upper, lower, digit, and symbol classes all present.
func validatePasswordStrength(password string) error {
	var missing []string
	if len(password) < 12 {
		missing = append(missing, "at least 12 characters")
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper {
		missing = append(missing, "an uppercase letter")
	}
	if !lower {
		missing = append(missing, "a lowercase letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if !symbol {
		missing = append(missing, "a symbol")
	}

	if len(missing) > 0 {
		return &WeakPasswordError{Missing: missing}
	}
	return nil
}
