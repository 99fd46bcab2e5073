package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tshla-medical/phicore/internal/config"
	"github.com/tshla-medical/phicore/internal/service"
)

const sessionContextKey = "phicore_resolved_session"

// Cookies owns the session cookie contract: HTTP-only, Secure outside
// development, SameSite=Strict, max-age equal to the sliding window.
type Cookies struct {
	name   string
	maxAge int
	secure bool
}

func NewCookies(cfg config.SessionConfig, production bool) *Cookies {
	return &Cookies{
		name:   cfg.CookieName,
		maxAge: int(cfg.Duration.Seconds()),
		secure: production,
	}
}

func (k *Cookies) write(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(k.name, token, k.maxAge, "/", "", k.secure, true)
}

func (k *Cookies) clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(k.name, "", -1, "/", "", k.secure, true)
}

func (k *Cookies) read(c *gin.Context) string {
	token, err := c.Cookie(k.name)
	if err != nil {
		return ""
	}
	return token
}

// SessionMiddleware resolves the session cookie and rewrites it with the
// refreshed token, which is what makes the expiry window slide on every
// authenticated request. Requests without a valid session are rejected
// with one generic 401 regardless of the underlying cause.
func SessionMiddleware(sessions *service.SessionService, cookies *Cookies) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, err := sessions.Require(cookies.read(c))
		if err != nil {
			cookies.clear(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
			return
		}

		cookies.write(c, resolved.Token)
		if resolved.ExpiringSoon {
			c.Header("X-Session-Expiring-Soon", "true")
		}
		c.Set(sessionContextKey, resolved)
		c.Next()
	}
}

func resolvedSession(c *gin.Context) *service.Resolved {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	resolved, ok := v.(*service.Resolved)
	if !ok {
		return nil
	}
	return resolved
}
