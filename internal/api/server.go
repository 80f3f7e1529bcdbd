// Package api exposes the relay over HTTP: the signal webhook, a health
// probe, a websocket event stream, and a JWT-protected read-only status API.
package api

import (
	"net/http"
	"time"

	"trade-relay/internal/account"
	"trade-relay/internal/engine"
	"trade-relay/internal/events"
	"trade-relay/internal/journal"
	"trade-relay/internal/monitor"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the reconciliation engine and event bus.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	Engine   *engine.Engine
	Accounts []*account.Account // URL index order: sub1 is Accounts[0]
	Journal  *journal.Journal   // optional
	Metrics  *monitor.SystemMetrics

	APISecret      string
	PatternMarkers []string
	JWTSecret      string
	Meta           SystemMeta
}

// SystemMeta describes runtime status exposed by the status API.
type SystemMeta struct {
	InstanceID string
	Version    string
	Testnet    bool
	StartedAt  time.Time
}

// Options collects the server dependencies.
type Options struct {
	Bus            *events.Bus
	Engine         *engine.Engine
	Accounts       []*account.Account
	Journal        *journal.Journal
	Metrics        *monitor.SystemMetrics
	APISecret      string
	PatternMarkers []string
	JWTSecret      string
	IPAllowList    []string
	Meta           SystemMeta
}

func NewServer(opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                          // Panic recovery (first)
	r.Use(RequestIDMiddleware())                   // Request ID tracking
	r.Use(RequestLogger(opts.Metrics))             // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())                   // Rate limiting
	r.Use(IPAllowlistMiddleware(opts.IPAllowList)) // Source address gate
	r.Use(TimeoutMiddleware(30 * time.Second))     // Request timeout (30s)

	s := &Server{
		Router:         r,
		Bus:            opts.Bus,
		Engine:         opts.Engine,
		Accounts:       opts.Accounts,
		Journal:        opts.Journal,
		Metrics:        opts.Metrics,
		APISecret:      opts.APISecret,
		PatternMarkers: opts.PatternMarkers,
		JWTSecret:      opts.JWTSecret,
		Meta:           opts.Meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	s.Router.POST("/order/bybit/:sub", s.handleSignal)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/accounts", s.getAccounts)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
