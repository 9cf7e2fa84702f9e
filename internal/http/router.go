// Package httpapi wires the Gin transport to the credential service, the
// process bridge, and the cross-cutting middleware: tracing, correlation
// ids, logging, panic recovery, metrics, compression, CORS, security
// headers, rate limiting and bearer authentication.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: request-scoped zerolog logger (plus redacted header dump when enabled)
//  4. Recovery: JSON 500 on panic, after the logger so the panic is correlated
//  5. Body size limit
//  6. Metrics, gzip, CORS, security headers
//
// Per group: the auth endpoints get no-store and a per-IP limiter; protected
// endpoints get RequireAuth and a per-user limiter.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/jonbobo/Capstone-UNY/docs" // swagger spec registration
	"github.com/jonbobo/Capstone-UNY/internal/auth"
	"github.com/jonbobo/Capstone-UNY/internal/config"
	"github.com/jonbobo/Capstone-UNY/internal/domain"
	"github.com/jonbobo/Capstone-UNY/internal/http/handlers"
	"github.com/jonbobo/Capstone-UNY/internal/http/middleware"
	"github.com/jonbobo/Capstone-UNY/internal/repo"
	"github.com/jonbobo/Capstone-UNY/internal/services"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// userRepoShim adapts the repository free functions to services.UserRepo.
type userRepoShim struct{}

func (userRepoShim) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}

func (userRepoShim) GetUserByID(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	return repo.GetUserByID(ctx, db, id)
}

func (userRepoShim) FindUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	return repo.FindUserByUsername(ctx, db, username)
}

func (userRepoShim) FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	return repo.FindUserByEmail(ctx, db, email)
}

func (userRepoShim) ExistingIdentifiers(ctx context.Context, db *gorm.DB, username, email string) (bool, bool, error) {
	return repo.ExistingIdentifiers(ctx, db, username, email)
}

func (userRepoShim) EmailTakenByOther(ctx context.Context, db *gorm.DB, email string, id uint) (bool, error) {
	return repo.EmailTakenByOther(ctx, db, email, id)
}

func (userRepoShim) UpdateEmail(ctx context.Context, db *gorm.DB, id uint, email string) error {
	return repo.UpdateEmail(ctx, db, id, email)
}

func (userRepoShim) UpdatePasswordHash(ctx context.Context, db *gorm.DB, id uint, hash string) error {
	return repo.UpdatePasswordHash(ctx, db, id, hash)
}

// RegisterRoutes attaches all middleware and endpoints to r. The token
// service and password hasher are built from cfg.Auth; construction errors
// (short secret, bad bcrypt cost) are returned before any route is mounted.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, bot handlers.Chatbot, cfg config.Config) error {
	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("httpapi: token service: %w", err)
	}
	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("httpapi: password hasher: %w", err)
	}
	authSvc := services.NewAuthService(db, userRepoShim{}, hasher, tokens, cfg.Auth.MinPasswordLength)
	h := handlers.New(authSvc, bot)

	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	if cfg.LogHeaders {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	}
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	if cfg.APIBasePath != "/" && cfg.APIBasePath != "" {
		api.GET("/health", h.Health)
	}

	authLimiter := middleware.NewRateLimiter("auth", cfg.AuthRateRPS, cfg.AuthRateBurst, middleware.KeyByIP())
	public := api.Group("/auth", middleware.NoStore(), authLimiter.Handler())
	{
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
	}

	userLimiter := middleware.NewRateLimiter("user", cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	protected := api.Group("", middleware.RequireAuth(tokens), userLimiter.Handler())
	{
		account := protected.Group("/auth", middleware.NoStore())
		account.GET("/profile", h.GetProfile)
		account.PUT("/profile", h.UpdateProfile)
		account.PUT("/password", h.ChangePassword)
		account.POST("/logout", h.Logout)

		protected.POST("/chatbot/ask", h.Ask)
		protected.GET("/chatbot/status", h.Status)
	}
	return nil
}

// corsMiddleware returns the CORS handlers for the configured allowlist. An
// empty allowlist allows any origin without credentials.
func corsMiddleware(cfg config.CORSConfig) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	if len(cfg.AllowedOrigins) == 0 {
		base.AllowAllOrigins = true
		// ACAO on plain requests too, not only on CORS requests with an Origin.
		star := func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		}
		return []gin.HandlerFunc{star, cors.New(base)}
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	echo := func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	}
	base.AllowOrigins = cfg.AllowedOrigins
	return []gin.HandlerFunc{echo, cors.New(base)}
}

// limitBody caps the request body at maxBytes; reads past it fail and the
// JSON binding reports a bad request.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
