package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tshla-medical/phicore/internal/service"
	"github.com/tshla-medical/phicore/pkg/metrics"
)

// NewRouter wires the public and session-protected route groups.
func NewRouter(authHandler *AuthHandler, phiHandler *PHIHandler, sessions *service.SessionService, cookies *Cookies, m *metrics.Collector) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if m != nil {
		router.Use(metricsMiddleware(m))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := router.Group("/api/v1")

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		// MFA verification reads the cookie itself: it must work on a
		// session that is valid but not yet elevated.
		auth.POST("/mfa/verify", authHandler.VerifyMFA)
		// logout must succeed even when the session is already gone
		auth.POST("/logout", authHandler.Logout)
	}

	protected := api.Group("")
	protected.Use(SessionMiddleware(sessions, cookies))
	{
		protected.POST("/auth/mfa/enable", authHandler.EnableMFA)
		protected.POST("/auth/password", authHandler.ChangePassword)

		phi := protected.Group("/phi")
		{
			phi.PUT("/:key", phiHandler.Store)
			phi.GET("/:key", phiHandler.Get)
			phi.DELETE("/:key", phiHandler.Delete)
		}
	}

	return router
}

func metricsMiddleware(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.InFlightGauge.Inc()
		start := time.Now()
		c.Next()
		m.InFlightGauge.Dec()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
