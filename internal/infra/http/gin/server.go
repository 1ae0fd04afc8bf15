package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"estatedesk/internal/infra/config"
	"estatedesk/internal/infra/obs"
)

type InboxHTTP interface {
	Mount(c *gin.Context)
	Unmount(c *gin.Context)
	SetVisibility(c *gin.Context)
	Refresh(c *gin.Context)
	List(c *gin.Context)
	Events(c *gin.Context)
	Open(c *gin.Context)
	Close(c *gin.Context)
	Messages(c *gin.Context)
	SendMessage(c *gin.Context)
	SetStatus(c *gin.Context)
	GetDraft(c *gin.Context)
	SaveDraft(c *gin.Context)
}

type Handlers struct {
	Inbox          InboxHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine with middleware and every route registered.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.AuthMiddleware != nil {
		api.Use(h.AuthMiddleware)
	}
	if h.Inbox != nil {
		group := api.Group("/inbox")
		group.POST("/session", h.Inbox.Mount)
		group.DELETE("/session", h.Inbox.Unmount)
		group.PUT("/session/visibility", h.Inbox.SetVisibility)
		group.POST("/refresh", h.Inbox.Refresh)
		group.GET("/conversations", h.Inbox.List)
		group.GET("/events", h.Inbox.Events)
		group.DELETE("/open", h.Inbox.Close)

		conv := group.Group("/conversations/:buyer/:property")
		conv.POST("/open", h.Inbox.Open)
		conv.GET("/messages", h.Inbox.Messages)
		conv.POST("/messages", h.Inbox.SendMessage)
		conv.PUT("/status", h.Inbox.SetStatus)
		conv.GET("/draft", h.Inbox.GetDraft)
		conv.PUT("/draft", h.Inbox.SaveDraft)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", agentHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			obs.RequestIDHeader,
		},
		MaxAge: 12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug", "dev", "local":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
