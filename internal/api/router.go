// Package api wires the HTTP routes onto the dormitory services.
package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dormitory/internal/apperr"
	"dormitory/internal/auth"
	"dormitory/internal/httpmiddleware"
	"dormitory/internal/metrics"
	"dormitory/internal/presence"
	"dormitory/internal/rfid"
	"dormitory/internal/users"
)

// RFIDService is implemented by *rfid.Service.
type RFIDService interface {
	RegisterDevice(ctx context.Context, deviceID string) error
	Scan(ctx context.Context, cardID, roomID, deviceID string) (rfid.ScanResult, error)
	Logs(ctx context.Context, f rfid.EventFilter) ([]presence.AnnotatedScanEvent, error)
	Presence(ctx context.Context, state string) ([]presence.PresenceRecord, error)
	Summary(ctx context.Context) (presence.Summary, error)
}

// UserService is implemented by *users.Service.
type UserService interface {
	Create(ctx context.Context, req users.CreateUserRequest) (users.User, error)
	Get(ctx context.Context, id string) (users.User, error)
	Authenticate(ctx context.Context, email, password string) (users.User, error)
}

// SessionService is implemented by *auth.Sessions.
type SessionService interface {
	Start(ctx context.Context, subject, role string) (auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators the router needs. Limiter and Checks are optional.
type Deps struct {
	RFID        RFIDService
	Users       UserService
	Sessions    SessionService
	Issuer      *auth.Issuer
	Limiter     httpmiddleware.Limiter
	CORSOrigins []string
	Checks      map[string]HealthCheck
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(securityHeaders())
	r.Use(metrics.HTTP())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(d.Checks))

	v1 := r.Group("/v1")
	if d.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(d.Limiter, httpmiddleware.ClientIP))
	}

	h := &handler{rfid: d.RFID, users: d.Users, sessions: d.Sessions}
	v1.POST("/auth/login", h.login)
	v1.POST("/auth/refresh", h.refresh)

	authed := v1.Group("", auth.Bearer(d.Issuer))
	authed.POST("/devices/register", auth.RequireRole(auth.RoleAdmin), h.registerDevice)
	authed.POST("/rfid/scan", auth.RequireRole(auth.RoleDevice, auth.RoleAdmin), h.scan)

	staff := authed.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleManager))
	staff.GET("/rfid/logs", h.logs)
	staff.GET("/rfid/presence", h.presence)
	staff.GET("/rfid/presence/summary", h.summary)
	staff.GET("/users/:id", h.getUser)

	authed.POST("/users", auth.RequireRole(auth.RoleAdmin), h.createUser)
	authed.GET("/me/logs", auth.RequireRole(auth.RoleStudent), h.myLogs)

	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		body := gin.H{}
		status, state := http.StatusOK, "ok"
		for name, check := range checks {
			ok := check(ctx)
			body[name] = ok
			if !ok {
				status, state = http.StatusServiceUnavailable, "degraded"
			}
		}
		body["status"] = state
		c.JSON(status, body)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), apperr.Body(err))
}
