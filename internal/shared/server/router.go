package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docverify/internal/ocr"
	"docverify/internal/services/health"
	"docverify/internal/shared/auth"
	"docverify/internal/shared/config"
	"docverify/internal/shared/metrics"
	"docverify/internal/shared/ratelimit"
	"docverify/internal/shared/server/middleware"
	"docverify/internal/shared/server/respond"
)

// RouterDeps are the collaborators of the admin API.
type RouterDeps struct {
	Config     config.Config
	Health     *health.Service
	OCRHandler *ocr.Handler
	// Verifier checks admin tokens. Nil disables auth.
	Verifier *auth.Signer
	Limiter  ratelimit.Limiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigins),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		st := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !st.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, st)
	})

	admin := api.Group("")
	admin.Use(
		middleware.AdminAuth(deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:  deps.Limiter,
			GroupFor: rateLimitGroup,
			Rules: map[string]ratelimit.Rule{
				"DEFAULT":   {Limit: deps.Config.API.RateLimitMax, Window: deps.Config.API.RateLimitWindow},
				"REPROCESS": {Limit: deps.Config.API.ReprocessRateLimitMax, Window: deps.Config.API.RateLimitWindow},
			},
		}),
	)
	if deps.OCRHandler != nil {
		deps.OCRHandler.RegisterRoutes(admin)
	}

	return r
}

func rateLimitGroup(c *gin.Context) string {
	if c.Request.Method == http.MethodPost {
		return "REPROCESS"
	}
	return "DEFAULT"
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
