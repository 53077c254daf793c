package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/auth"
	"github.com/vovakirdan/colearn-server/internal/config"
	"github.com/vovakirdan/colearn-server/internal/core"
	"github.com/vovakirdan/colearn-server/internal/metrics"
	"github.com/vovakirdan/colearn-server/internal/store"
)

// NewServer builds an HTTP server with the gateway and REST routes. history and
// m may be nil.
func NewServer(
	registry *core.Registry,
	router *core.Router,
	history store.History,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zerolog.Logger,
) *stdhttp.Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware(logger))

	wsHandler := NewWSHandler(registry, router, m, cfg, logger)
	roomHandlers := NewRoomHandlers(registry, router, history, logger)
	callback := &auth.JWTConfig{
		Secret:   []byte(cfg.CallbackSecret),
		Issuer:   cfg.CallbackIssuer,
		Audience: cfg.CallbackAudience,
	}

	engine.GET("/health", healthHandler)
	engine.GET("/metrics", gin.WrapH(m.Handler()))
	engine.GET("/ws", gin.WrapH(wsHandler))
	engine.GET("/", gin.WrapH(wsHandler))

	api := engine.Group("/api")
	{
		rooms := api.Group("/rooms")
		rooms.POST("", roomHandlers.CreateRoom)
		rooms.GET("/history", roomHandlers.History)
		rooms.GET("/:id", roomHandlers.GetRoom)
		rooms.POST("/:id/output", CallbackAuth(callback, logger), roomHandlers.AppendOutput)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
