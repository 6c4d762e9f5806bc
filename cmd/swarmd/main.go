// Package main is the entry point for swarmd, the agent swarm kernel.
// One binary runs the HTTP API, the WebSocket gateway, the scheduler and
// the MCP server on shared infrastructure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	// Common packages
	"github.com/agentswarm/agentswarm/internal/common/config"
	"github.com/agentswarm/agentswarm/internal/common/deeplink"
	"github.com/agentswarm/agentswarm/internal/common/httpmw"
	"github.com/agentswarm/agentswarm/internal/common/logger"

	// Event bus
	"github.com/agentswarm/agentswarm/internal/events"

	// Storage
	"github.com/agentswarm/agentswarm/internal/store"

	// Tracing
	"github.com/agentswarm/agentswarm/internal/tracing"

	// WebSocket gateway
	gateways "github.com/agentswarm/agentswarm/internal/gateway/websocket"

	// Domain packages
	agenthandlers "github.com/agentswarm/agentswarm/internal/agent/handlers"
	agentrepo "github.com/agentswarm/agentswarm/internal/agent/repository"
	agentservice "github.com/agentswarm/agentswarm/internal/agent/service"
	"github.com/agentswarm/agentswarm/internal/agentlog"
	"github.com/agentswarm/agentswarm/internal/dispatch"
	epichandlers "github.com/agentswarm/agentswarm/internal/epic/handlers"
	epicrepo "github.com/agentswarm/agentswarm/internal/epic/repository"
	epicservice "github.com/agentswarm/agentswarm/internal/epic/service"
	"github.com/agentswarm/agentswarm/internal/ingress"
	"github.com/agentswarm/agentswarm/internal/mcpserver"
	messaginghandlers "github.com/agentswarm/agentswarm/internal/messaging/handlers"
	messagingrepo "github.com/agentswarm/agentswarm/internal/messaging/repository"
	messagingservice "github.com/agentswarm/agentswarm/internal/messaging/service"
	schedulehandlers "github.com/agentswarm/agentswarm/internal/schedule/handlers"
	schedulerepo "github.com/agentswarm/agentswarm/internal/schedule/repository"
	scheduleservice "github.com/agentswarm/agentswarm/internal/schedule/service"
	sessionhandlers "github.com/agentswarm/agentswarm/internal/session/handlers"
	sessionrepo "github.com/agentswarm/agentswarm/internal/session/repository"
	sessionservice "github.com/agentswarm/agentswarm/internal/session/service"
	taskhandlers "github.com/agentswarm/agentswarm/internal/task/handlers"
	taskrepo "github.com/agentswarm/agentswarm/internal/task/repository"
	taskservice "github.com/agentswarm/agentswarm/internal/task/service"
)

func main() {
	// 1. Load configuration (a local .env file may supply SWARM_ vars)
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting swarmd...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	eventBus := provided.Bus
	if provided.NATS != nil {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// ============================================
	// STORAGE
	// ============================================
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to open database (check DATABASE_PATH and directory permissions)",
			zap.Error(err), zap.String("db_path", cfg.Database.Path))
	}
	defer st.Close()
	log.Info("Database opened", zap.String("db_path", cfg.Database.Path))

	// The audit repository goes first: every other repository appends to
	// the agent_logs table it creates.
	auditRepo, err := agentlog.NewWithDB(st.Writer(), st.Reader())
	if err != nil {
		log.Fatal("Failed to initialize audit log repository", zap.Error(err))
	}
	taskRepo, err := taskrepo.Provide(st.Writer(), st.Reader())
	if err != nil {
		log.Fatal("Failed to initialize task repository", zap.Error(err))
	}
	agentRepo, err := agentrepo.Provide(st.Writer(), st.Reader())
	if err != nil {
		log.Fatal("Failed to initialize agent repository", zap.Error(err))
	}
	messagingRepo, err := messagingrepo.Provide(st.Writer(), st.Reader())
	if err != nil {
		log.Fatal("Failed to initialize messaging repository", zap.Error(err))
	}
	epicRepo, err := epicrepo.Provide(st.Writer(), st.Reader())
	if err != nil {
		log.Fatal("Failed to initialize epic repository", zap.Error(err))
	}
	scheduleRepo, err := schedulerepo.Provide(st.Writer(), st.Reader())
	if err != nil {
		log.Fatal("Failed to initialize schedule repository", zap.Error(err))
	}
	sessionRepo, err := sessionrepo.Provide(st.Writer(), st.Reader())
	if err != nil {
		log.Fatal("Failed to initialize session repository", zap.Error(err))
	}

	// ============================================
	// SERVICES
	// ============================================
	taskSvc := taskservice.NewService(taskRepo, eventBus, log)
	agentSvc := agentservice.NewService(agentRepo, taskRepo, eventBus, log)
	messagingSvc := messagingservice.NewService(messagingRepo, agentRepo, taskSvc, eventBus, log)
	epicSvc := epicservice.NewService(epicRepo, messagingSvc, eventBus, log)
	scheduleSvc := scheduleservice.NewService(scheduleRepo, eventBus, log, cfg.Scheduler.TickIntervalDuration())
	sessionSvc := sessionservice.NewService(sessionRepo, eventBus, log)

	links := deeplink.NewBuilder(cfg.App.URL)
	dispatchSvc := dispatch.NewService(st.Writer(), agentRepo, links, eventBus, log)
	ingestor := ingress.NewIngestor(agentRepo, taskSvc, messagingSvc, log)

	// ============================================
	// BACKGROUND LOOPS
	// ============================================
	if cfg.Scheduler.Enabled {
		if cfg.Scheduler.SeedFile != "" {
			seeds, err := scheduleservice.LoadSeedFile(cfg.Scheduler.SeedFile)
			if err != nil {
				log.Error("Failed to load schedule seed file", zap.Error(err))
			} else if err := scheduleSvc.SyncSeeds(ctx, seeds); err != nil {
				log.Error("Failed to sync schedule seeds", zap.Error(err))
			}
		}
		scheduleSvc.Start(ctx)
	} else {
		log.Info("Scheduler disabled")
	}
	sessionSvc.StartCleanupLoop(ctx, 5*time.Minute)
	messagingSvc.StartSweeper(ctx, 5*time.Minute)

	// ============================================
	// WEBSOCKET GATEWAY
	// ============================================
	gateway, err := gateways.Provide(cfg.Auth.APIKey, log)
	if err != nil {
		log.Fatal("Failed to initialize WebSocket gateway", zap.Error(err))
	}
	go gateway.Hub.Run(ctx)
	gateways.RegisterEventBroadcaster(ctx, eventBus, gateway.Hub, log)

	// ============================================
	// HTTP SERVER (WebSocket + HTTP endpoints)
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "swarmd"))
	router.Use(httpmw.OtelTracing("swarmd"))

	// WebSocket endpoint - primary realtime transport
	gateway.SetupRoutes(router)

	// Health check (simple HTTP for load balancers/monitoring)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "swarmd",
		})
	})

	// Everything else sits behind bearer auth.
	authed := router.Group("", httpmw.BearerAuth(cfg.Auth.APIKey))
	agenthandlers.RegisterAgentRoutes(authed, agentSvc, log)
	taskhandlers.RegisterTaskRoutes(authed, taskSvc, log)
	messaginghandlers.RegisterMessagingRoutes(authed, messagingSvc, log)
	epichandlers.RegisterEpicRoutes(authed, epicSvc, log)
	schedulehandlers.RegisterScheduleRoutes(authed, scheduleSvc, log)
	sessionhandlers.RegisterSessionRoutes(authed, sessionSvc, log)
	dispatch.RegisterPollRoutes(authed, dispatchSvc, log)
	ingress.RegisterIngressRoutes(authed, ingestor, log)
	agentlog.RegisterAuditRoutes(authed, auditRepo, log)
	log.Info("Registered HTTP handlers")

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// Start server
	go func() {
		log.Info("HTTP server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// ============================================
	// MCP SERVER
	// ============================================
	var mcpCleanup func() error
	if cfg.MCP.Enabled {
		mcpCfg := mcpserver.Config{
			Port:     cfg.MCP.Port,
			SwarmURL: fmt.Sprintf("http://localhost:%d", port),
			APIKey:   cfg.Auth.APIKey,
		}
		_, mcpCleanup, err = mcpserver.Provide(ctx, mcpCfg, log)
		if err != nil {
			log.Error("Failed to start MCP server", zap.Error(err))
			mcpCleanup = nil
		} else {
			log.Info("MCP server listening", zap.Int("port", cfg.MCP.Port))
		}
	}

	// Print routes summary
	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("health", "/health"),
		zap.String("http", "/api"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down swarmd...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if mcpCleanup != nil {
		if err := mcpCleanup(); err != nil {
			log.Error("MCP server shutdown error", zap.Error(err))
		}
	}
	if err := busCleanup(); err != nil {
		log.Error("Event bus shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("swarmd stopped")
}
