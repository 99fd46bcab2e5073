package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/tshla-medical/phicore/internal/domain"
	"github.com/tshla-medical/phicore/internal/service"
)

type AuthHandler struct {
	authSvc  *service.AuthService
	sessions *service.SessionService
	cookies  *Cookies
}

func NewAuthHandler(authSvc *service.AuthService, sessions *service.SessionService, cookies *Cookies) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, sessions: sessions, cookies: cookies}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authSvc.Register(c.Request.Context(), req.Email, req.Password, domain.Role(req.Role))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondCreated(c, gin.H{
		"user_id":            result.User.ID,
		"mfa_enrollment_url": result.MFAEnrollmentURL,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.authSvc.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.cookies.write(c, result.Token)
	respondOK(c, gin.H{
		"session_id":               result.Session.SessionID,
		"mfa_required":             result.MFARequired,
		"password_change_required": result.PasswordChangeRequired,
	})
}

type mfaRequest struct {
	Code string `json:"code" binding:"required,len=6"`
}

// VerifyMFA elevates the current session after a valid TOTP code. The login
// is incomplete until this succeeds whenever MFA is enabled for the account.
func (h *AuthHandler) VerifyMFA(c *gin.Context) {
	var req mfaRequest
	if !bindJSON(c, &req) {
		return
	}

	resolved, err := h.authSvc.VerifyMFA(c.Request.Context(), h.cookies.read(c), req.Code)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.cookies.write(c, resolved.Token)
	respondOK(c, gin.H{"mfa_verified": true})
}

func (h *AuthHandler) EnableMFA(c *gin.Context) {
	var req mfaRequest
	if !bindJSON(c, &req) {
		return
	}

	resolved := resolvedSession(c)
	if resolved == nil {
		respondServiceError(c, service.ErrAuthenticationRequired)
		return
	}

	if err := h.authSvc.EnableMFA(c.Request.Context(), resolved.Session.UserID, req.Code); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"mfa_enabled": true})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	resolved := resolvedSession(c)
	if resolved == nil {
		respondServiceError(c, service.ErrAuthenticationRequired)
		return
	}

	err := h.authSvc.ChangePassword(c.Request.Context(), resolved.Session.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"password_changed": true})
}

// Logout terminates the session and clears the cookie. It is best-effort:
// an absent, expired, or malformed cookie still logs out cleanly, so the
// route sits outside the session guard.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := h.cookies.read(c); token != "" {
		if resolved, err := h.sessions.Resolve(token); err == nil {
			h.sessions.Terminate(resolved.Session)
		}
	}
	h.cookies.clear(c)
	respondOK(c, gin.H{"logged_out": true})
}
