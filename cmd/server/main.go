package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tariel-x/apppush/internal/config"
	"github.com/tariel-x/apppush/internal/database"
	"github.com/tariel-x/apppush/internal/dispatch"
	"github.com/tariel-x/apppush/internal/handlers"
	"github.com/tariel-x/apppush/internal/metrics"
	"github.com/tariel-x/apppush/internal/notifier"
	"github.com/tariel-x/apppush/internal/push"
	"github.com/tariel-x/apppush/internal/registry"
	"github.com/tariel-x/apppush/internal/tenant"
	feed "github.com/tariel-x/apppush/internal/websocket"
)

const AppVersion = "1.0.0"

func main() {
	httpOnly := flag.Bool("http-only", false, "Serve plain HTTP behind a proxy (disables TLS and Let's Encrypt)")
	selfSigned := flag.Bool("self-signed", false, "Serve HTTPS with a generated self-signed certificate")
	configPath := flag.String("config", "", "Path to config.yaml (default: next to the executable)")
	tokenFor := flag.String("token-for", "", "Print a bearer token for the owner with this email, creating the owner if needed, and exit")
	flag.Parse()

	bootLogger := newLogger(slog.LevelInfo)
	cfg, err := config.Load(bootLogger, config.Paths{ConfigFile: *configPath}, httpOnly)
	if err != nil {
		bootLogger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.SlogLevel())
	slog.SetDefault(logger)
	logger.Info(fmt.Sprintf("AppPush Server v%s", AppVersion))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	tenants := tenant.NewGormStore(db)

	if *tokenFor != "" {
		if err := printToken(ctx, tenants, cfg.JWTSecret, *tokenFor); err != nil {
			logger.Error("Failed to issue token", "error", err)
			os.Exit(1)
		}
		return
	}

	var subs registry.Registry = registry.NewGormStore(db)
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache", "addr", cfg.Redis.Addr)
		redisClient, err := registry.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		subs = registry.NewCachedStore(subs, redisClient, cfg.Redis.TTL)
	}

	metrics.Register()

	transport := push.NewWebPush(push.VAPID{
		PublicKey:  cfg.VAPIDKeys.PublicKey,
		PrivateKey: cfg.VAPIDKeys.PrivateKey,
		Subject:    cfg.VAPIDKeys.Subject,
	}, push.WebPushOptions{TTL: cfg.Dispatch.PushTTL})

	engine := dispatch.New(tenant.NewResolver(tenants), subs, transport, logger, dispatch.Options{
		Concurrency:     cfg.Dispatch.Concurrency,
		DeliveryTimeout: cfg.Dispatch.Timeout,
	})

	hub := feed.NewHub(logger)
	defer hub.Close()

	service := notifier.New(subs, tenants, engine, hub, logger)

	h := handlers.New(cfg, service, hub, websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}, logger)

	router := setupRouter(h, cfg, logger)
	startServer(ctx, router, cfg, *selfSigned, logger)
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), slogGinLogger(logger))

	router.Use(func(c *gin.Context) {
		// Behind a proxy only the dashboard origin may call us; otherwise
		// subscriptions arrive from arbitrary customer sites.
		origin := "*"
		if cfg.HTTPOnly && cfg.FrontendURI != "" {
			origin = cfg.FrontendURI
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	h.RegisterRoutes(router)
	return router
}

func printToken(ctx context.Context, tenants *tenant.GormStore, secret, email string) error {
	owner, err := tenants.EnsureOwner(ctx, email)
	if err != nil {
		return err
	}
	token, err := handlers.GenerateToken(secret, owner.ID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
