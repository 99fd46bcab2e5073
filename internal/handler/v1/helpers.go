package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tshla-medical/phicore/internal/service"
	"github.com/tshla-medical/phicore/internal/storage"
	"github.com/tshla-medical/phicore/pkg/cryptox"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

// respondServiceError maps sentinel errors to status codes. Security errors
// surface a generic message class only; diagnostic detail stays in the
// internal logs, never in the response body.
func respondServiceError(c *gin.Context, err error) {
	var weakErr *service.WeakPasswordError
	if errors.As(err, &weakErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: weakErr.Error()})
		return
	}

	switch {
	case errors.Is(err, service.ErrAuthenticationRequired):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})

	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrMFAInvalid):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})

	case errors.Is(err, service.ErrAccountLocked):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "account temporarily locked, try again later",
			Code:  "ACCOUNT_LOCKED",
		})

	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})

	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrRoleInvalid),
		errors.Is(err, service.ErrMFANotEnabled):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})

	case errors.Is(err, service.ErrDataNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})

	case errors.Is(err, storage.ErrPHIWriteRejected):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "PHI_WRITE_REJECTED",
		})

	case errors.Is(err, cryptox.ErrEncryption),
		errors.Is(err, cryptox.ErrDecryption):
		// Never leak cryptographic detail on the PHI path.
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}
