// Package auth signs and verifies the session token. The token carries the
// entire session payload, so the server keeps no session table: validity is
// decided from the signature plus the sliding inactivity window embedded in
// the claims.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tshla-medical/phicore/internal/config"
	"github.com/tshla-medical/phicore/internal/domain"
)

var (
	ErrTokenExpired = errors.New("session token has expired")
	ErrTokenInvalid = errors.New("session token is invalid")
)

type sessionClaims struct {
	jwt.RegisteredClaims
	Role         domain.Role         `json:"role"`
	Permissions  []domain.Permission `json:"permissions"`
	LoginTime    int64               `json:"login_time"`
	LastActivity int64               `json:"last_activity"`
	IPAddress    string              `json:"ip_address,omitempty"`
	MFAVerified  bool                `json:"mfa_verified"`
	SessionID    string              `json:"session_id"`
}

type TokenManager struct {
	secret   []byte
	issuer   string
	duration time.Duration
}

func NewTokenManager(cfg config.SessionConfig, secret string) *TokenManager {
	return &TokenManager{
		secret:   []byte(secret),
		issuer:   cfg.Issuer,
		duration: cfg.Duration,
	}
}

// Sign serializes a session into a signed token. The expiration claim is
// LastActivity plus the session duration, so re-signing after an activity
// refresh is what makes the window slide.
func (m *TokenManager) Sign(s *domain.Session) (string, error) {
	now := s.LastActivity

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   s.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
		Role:         s.Role,
		Permissions:  s.Permissions,
		LoginTime:    s.LoginTime.Unix(),
		LastActivity: s.LastActivity.Unix(),
		IPAddress:    s.IPAddress,
		MFAVerified:  s.MFAVerified,
		SessionID:    s.SessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiration claim and reconstructs the
// session payload. The expiration claim is validated with one full window of
// leeway: the caller's inactivity check is the effective expiry gate and
// needs the payload back to run its termination side effects, so a token
// just past its window must still verify. Tokens idle longer than twice the
// window are rejected outright.
func (m *TokenManager) Verify(tokenString string) (*domain.Session, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&sessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.duration),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &domain.Session{
		SessionID:    claims.SessionID,
		UserID:       userID,
		Role:         claims.Role,
		Permissions:  claims.Permissions,
		LoginTime:    time.Unix(claims.LoginTime, 0),
		LastActivity: time.Unix(claims.LastActivity, 0),
		IPAddress:    claims.IPAddress,
		MFAVerified:  claims.MFAVerified,
	}, nil
}

// Duration returns the configured sliding window length.
func (m *TokenManager) Duration() time.Duration {
	return m.duration
}
