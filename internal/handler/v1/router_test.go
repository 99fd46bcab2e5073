package v1

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tshla-medical/phicore/internal/config"
	"github.com/tshla-medical/phicore/internal/domain"
	"github.com/tshla-medical/phicore/internal/domain/audit"
	"github.com/tshla-medical/phicore/internal/service"
	"github.com/tshla-medical/phicore/internal/storage"
	"github.com/tshla-medical/phicore/pkg/auth"
	"github.com/tshla-medical/phicore/pkg/cryptox"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type nopSink struct{}

func (nopSink) Send(context.Context, []*audit.Entry) error { return nil }

const testCookieName = "phicore_session"

func newTestRouter(t *testing.T) (*gin.Engine, *service.SessionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	box, err := cryptox.New(bytes.Repeat([]byte{0x33}, 32), nil, []byte("handler-salt"))
	require.NoError(t, err)

	cfg := config.SessionConfig{
		Duration:      15 * time.Minute,
		ExpiryWarning: 2 * time.Minute,
		CookieName:    testCookieName,
		Issuer:        "phicore-test",
	}
	auditSvc := service.NewAuditService(config.AuditConfig{FlushInterval: time.Hour}, nopSink{}, box, zap.NewNop(), nil)
	sessions := service.NewSessionService(cfg, auth.NewTokenManager(cfg, "test-secret"), auditSvc, box, storage.NewMemoryStore(), zap.NewNop(), nil)
	authSvc := service.NewAuthService(nil, sessions, auditSvc, zap.NewNop(), nil, bcrypt.MinCost, "phicore-test")

	cookies := NewCookies(cfg, false)
	router := NewRouter(
		NewAuthHandler(authSvc, sessions, cookies),
		NewPHIHandler(storage.NewServerStore(sessions)),
		sessions,
		cookies,
		nil,
	)
	return router, sessions
}

func loginCookie(t *testing.T, sessions *service.SessionService, role domain.Role) *http.Cookie {
	t.Helper()
	token, _, err := sessions.Create(uuid.New(), role, domain.DefaultPermissions(role), "10.0.0.9")
	require.NoError(t, err)
	return &http.Cookie{Name: testCookieName, Value: token}
}

func do(router *gin.Engine, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestProtectedRoutes_RequireSession(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodGet, "/api/v1/phi/note-1?patient_id=p1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodGet, "/api/v1/phi/note-1?patient_id=p1", "",
		&http.Cookie{Name: testCookieName, Value: "not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_Idempotent(t *testing.T) {
	router, sessions := newTestRouter(t)

	// no cookie at all
	w := do(router, http.MethodPost, "/api/v1/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// a garbage cookie still logs out cleanly and clears the cookie
	w = do(router, http.MethodPost, "/api/v1/auth/logout", "",
		&http.Cookie{Name: testCookieName, Value: "not-a-token"})
	assert.Equal(t, http.StatusOK, w.Code)
	setCookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, setCookie, testCookieName+"=")
	assert.Contains(t, setCookie, "Max-Age=0")

	// a live session logs out the same way
	w = do(router, http.MethodPost, "/api/v1/auth/logout", "", loginCookie(t, sessions, domain.RolePhysician))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestPHIRoundTripOverHTTP(t *testing.T) {
	router, sessions := newTestRouter(t)
	cookie := loginCookie(t, sessions, domain.RolePhysician)

	w := do(router, http.MethodPut, "/api/v1/phi/note-1",
		`{"data":"soap note","patient_id":"patient-123"}`, cookie)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(router, http.MethodGet, "/api/v1/phi/note-1?patient_id=patient-123", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "soap note")

	w = do(router, http.MethodDelete, "/api/v1/phi/note-1?patient_id=patient-123", "", cookie)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/phi/note-1?patient_id=patient-123", "", cookie)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPHIGet_MissingPatientID(t *testing.T) {
	router, sessions := newTestRouter(t)
	cookie := loginCookie(t, sessions, domain.RolePhysician)

	w := do(router, http.MethodGet, "/api/v1/phi/note-1", "", cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodDelete, "/api/v1/phi/note-1", "", cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPHIStore_DeniedForbidden(t *testing.T) {
	router, sessions := newTestRouter(t)
	cookie := loginCookie(t, sessions, domain.RoleStaff)

	w := do(router, http.MethodPut, "/api/v1/phi/note-1",
		`{"data":"soap note","patient_id":"patient-123"}`, cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
