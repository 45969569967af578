package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/haven-im/haven-server/internal/auth"
	"github.com/haven-im/haven-server/internal/config"
	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/store"
)

// NewServer builds the HTTP server: REST API, health and the websocket
// event channel.
func NewServer(broker *core.Broker, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPIHandlers(authService, logger)
	router.POST("/api/auth/register", api.Register)
	router.POST("/api/auth/login", api.Login)
	router.POST("/api/auth/guest", api.GuestLogin)

	channels := NewChannelHandlers(st, cfg, logger)
	authorized := router.Group("/api", AuthMiddleware(authService, logger))
	authorized.POST("/channels", channels.CreateChannel)
	authorized.POST("/channels/:code/members", channels.JoinChannel)
	authorized.DELETE("/channels/:code/members", channels.LeaveChannel)
	authorized.GET("/calls/recent", channels.RecentCalls)
	authorized.GET("/rtc-config", channels.RTCConfig)

	router.GET("/ws", gin.WrapH(NewWSHandler(broker, authService, cfg.WSRateLimit, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
