package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/db"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/metrics"
	intnet "github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/network"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/session"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/util"
)

// Server is the REST control API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	sessions *session.Manager
	store    *db.CheckStore
	metrics  *metrics.Metrics

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and its router. store and m may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, sessions *session.Manager, store *db.CheckStore, m *metrics.Metrics) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
		store:    store,
		metrics:  m,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.API
	addr := net.JoinHostPort(apiCfg.ListenAddress, strconv.Itoa(apiCfg.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLS && apiCfg.SelfSigned {
		if _, err := util.EnsureSelfSignedCert(apiCfg.CertFile, apiCfg.KeyFile, apiCfg.ListenAddress); err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLS).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if apiCfg.TLS {
		err = s.httpServer.ServeTLS(ln, apiCfg.CertFile, apiCfg.KeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())
	router.Use(IPWhitelist(apiCfg.IPWhitelist))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleInfo)
	}

	if apiCfg.Metrics && s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.Token))

	clients := protected.Group("/clients")
	{
		clients.GET("", s.handleListClients)
		clients.GET("/:id", s.handleGetClient)
		clients.GET("/:id/checks", s.handleGetChecks)

		clients.POST("/:id/item", s.handleSendItem)
		clients.POST("/:id/filler", s.handleSendFiller)
		clients.POST("/:id/shine", s.handleSendShine)
		clients.POST("/:id/shine_checks", s.handleSendShineChecks)
		clients.POST("/:id/stage", s.handleChangeStage)
		clients.POST("/:id/progress", s.handleSendProgress)
		clients.POST("/:id/regional", s.handleRegionalCollect)
		clients.POST("/:id/slot_data", s.handleSendSlotData)
		clients.POST("/:id/chat", s.handleSendChat)
	}

	broadcast := protected.Group("/broadcast")
	{
		broadcast.POST("/chat", s.handleBroadcastChat)
		broadcast.POST("/deathlink", s.handleBroadcastDeathLink)
	}

	protected.GET("/config", s.handleGetConfig)
	protected.PATCH("/config/slot_data", s.handleUpdateSlotData)
	protected.GET("/monitor/process", s.handleProcessStats)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
