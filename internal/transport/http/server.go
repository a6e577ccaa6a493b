package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/auth"
	"github.com/engly817chat/engly-client/internal/broker"
	"github.com/engly817chat/engly-client/internal/config"
	englylog "github.com/engly817chat/engly-client/internal/log"
	"github.com/engly817chat/engly-client/internal/store"
)

// NewServer builds the HTTP server: auth endpoints, message history, readers
// and the real-time endpoint.
func NewServer(hub *broker.Hub, st store.Store, authService *auth.Service, cfg *config.ServerConfig, logger *zerolog.Logger) *stdhttp.Server {
	logger = englylog.OrNop(logger)
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := NewAPIHandlers(authService, logger)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)

	messages := NewMessageHandlers(st, cfg.MaxPageSize, logger)
	authed := router.Group("/", AuthMiddleware(authService, cfg.AllowAnonymous, logger))
	authed.GET("/messages", messages.ListPage)
	authed.GET("/messages/:id/readers", messages.Readers)

	router.GET("/chat", gin.WrapH(NewWSHandler(hub, authService, cfg, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
