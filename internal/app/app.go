// Package app wires configuration, storage, and HTTP surfaces into a
// runnable gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gonggate/internal/access"
	"gonggate/internal/codestore"
	"gonggate/internal/config"
	"gonggate/internal/db"
	"gonggate/internal/gate"
	"gonggate/internal/gong"
	"gonggate/internal/mcptools"
	"gonggate/internal/oauth"
	"gonggate/internal/tier"
	"gonggate/internal/token"
	"gonggate/internal/track"
	"gonggate/internal/users"

	"github.com/gin-gonic/gin"
	mcpserver "github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Version is stamped at build time.
var Version = "dev"

// Migrate opens the database and runs schema migrations.
func Migrate(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the gateway: migrations, OAuth endpoints, and the
// token-protected MCP tool surface.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		return errLoad
	}

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	router, errBuild := buildRouter(conn, cfg)
	if errBuild != nil {
		return errBuild
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// buildRouter assembles the gin engine with every route mounted. Split
// out from RunServer so tests can drive the full surface over httptest.
func buildRouter(conn *gorm.DB, cfg *config.Config) (*gin.Engine, error) {
	resolver := tier.NewResolver(tierMapping(cfg), tier.Enterprise)
	limits := tierLimits(cfg)

	tokens := token.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)
	codes := codestore.NewManager(codestore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	userSvc := users.NewService(conn, resolver)
	engine := access.NewEngine(conn, limits, cfg.InternalDomain)

	var tracker track.Tracker = track.Noop{}
	if cfg.Tracker.Endpoint != "" && cfg.Tracker.Token != "" {
		tracker = track.NewHTTPTracker(cfg.Tracker.Endpoint, cfg.Tracker.Token)
	}

	upstream := gong.NewClient(cfg.Gong.BaseURL, cfg.Gong.AccessKey, cfg.Gong.SecretKey)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	oauth.RegisterRoutes(router, oauth.NewHandler(conn, codes, tokens, userSvc, tracker, cfg.BaseURL))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "gonggate",
			"version": Version,
			"mcp":     "/mcp",
		})
	})

	mcpSrv := mcpserver.NewMCPServer("gonggate", Version,
		mcpserver.WithToolCapabilities(true),
	)
	mcptools.NewRegistry(upstream, engine, tracker).Register(mcpSrv)

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath("/mcp"),
	)
	mcpHandler := gin.WrapH(streamable)
	authed := router.Group("/", gate.Middleware(tokens, userSvc))
	authed.Any("/mcp", mcpHandler)
	authed.Any("/mcp/*path", mcpHandler)

	return router, nil
}

// tierMapping builds the group-name to tier mapping, falling back to
// the stock mapping when the config has none.
func tierMapping(cfg *config.Config) map[string]tier.Tier {
	if len(cfg.TierGroups) == 0 {
		return tier.DefaultMapping()
	}
	mapping := make(map[string]tier.Tier, len(cfg.TierGroups))
	for group, name := range cfg.TierGroups {
		mapping[group] = tier.Parse(name)
	}
	return mapping
}

// tierLimits overlays configured per-tier limits on the stock tables.
func tierLimits(cfg *config.Config) map[tier.Tier]tier.Limits {
	limits := tier.DefaultLimits()
	for name, override := range cfg.TierLimits {
		limits[tier.Parse(name)] = tier.Limits{
			WindowLimit: override.WindowLimit,
			WindowDays:  override.WindowDays,
			TotalLimit:  override.TotalLimit,
		}
	}
	return limits
}
