package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/middleware"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/logger"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/metrics"
	"github.com/joaopba/hcc-med-pay-flow-sub001/pkg/validator"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Handlers groups the route owners. Internal handlers sit behind service
// authentication; Approval is public and protected by its link tokens.
type Handlers struct {
	Health       Handler
	Metrics      Handler
	Approval     Handler
	Queue        Handler
	Notification Handler
	Invoice      Handler
}

type RouterConfig struct {
	// ApprovalRate and ApprovalBurst throttle the public approval pages per
	// client IP.
	ApprovalRate  rate.Limit
	ApprovalBurst int
	ServiceSecret string
	Debug         bool
}

type Router struct {
	engine   *gin.Engine
	handlers Handlers
	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
}

func NewRouter(handlers Handlers, config RouterConfig, log *logger.Logger, m *metrics.Metrics) *Router {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := validator.RegisterGin(); err != nil {
		panic(err)
	}

	engine := gin.New() // Use New() instead of Default() for more control

	// Add core middlewares
	engine.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Metrics(m),
		middleware.ErrorHandler(log),
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig()),
	)

	return &Router{
		engine:   engine,
		handlers: handlers,
		auth:     middleware.NewAuthMiddleware(config.ServiceSecret),
		limiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.ApprovalRate,
			Burst: config.ApprovalBurst,
		}),
	}
}

func (r *Router) Setup() {
	root := r.engine.Group("")
	r.handlers.Health.RegisterRoutes(root)
	if r.handlers.Metrics != nil {
		r.handlers.Metrics.RegisterRoutes(root)
	}

	// Public approval pages
	public := r.engine.Group("")
	public.Use(
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		r.limiter.RateLimit(),
	)
	r.handlers.Approval.RegisterRoutes(public)

	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Protected routes
	api.Use(r.auth.Authenticate())
	r.handlers.Queue.RegisterRoutes(api)
	r.handlers.Notification.RegisterRoutes(api)
	r.handlers.Invoice.RegisterRoutes(api)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
