package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/dungeonforge/dungeon-server-go/internal/config"
	"github.com/dungeonforge/dungeon-server-go/internal/game"
	"github.com/dungeonforge/dungeon-server-go/internal/lobby"
	"github.com/dungeonforge/dungeon-server-go/internal/server"
	"github.com/dungeonforge/dungeon-server-go/internal/storage"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting dungeon server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if cfg.Auth.AdminPasswordHash == "" {
		logger.Warn("admin password not configured; game overrides disabled over gRPC")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	store, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	engine := game.NewEngine(logger, store, game.Config{
		AllowOverrides:  cfg.Game.AllowTestOverrides,
		DefaultDeckSize: cfg.Game.DeckSize,
		MaxPlayers:      cfg.Game.MaxPlayers,
	})
	engine.SetReplayRecorder(game.NewReplayRecorder(logger, cfg.Game.ReplayDir))
	logger.Info("game engine initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("allow_overrides", cfg.Game.AllowTestOverrides),
		zap.String("replay_dir", cfg.Game.ReplayDir),
	)

	lobbyMgr := lobby.NewManager(logger)
	if err := lobbyMgr.Seed(ctx, store); err != nil {
		logger.Fatal("failed to seed lobby", zap.Error(err))
	}
	lobbyMgr.Attach(engine.Events())
	defer lobbyMgr.Detach()
	logger.Info("lobby initialized", zap.Int("active_games", lobbyMgr.ActiveCount()))

	hub := server.NewHub(256, logger)
	hub.Attach(engine.Events())
	defer hub.Detach()

	svc := server.Services{
		Engine:     engine,
		Dispatcher: server.NewDispatcher(engine, cfg.Server.CommandTimeout, logger),
		Lobby:      lobbyMgr,
		Hub:        hub,
		Logger:     logger,
		Version:    version,
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.ChainUnaryInterceptors(
			server.RecoveryInterceptor(logger),
			server.LoggingInterceptor(logger),
			server.AdminInterceptor(cfg.Auth.AdminPasswordHash),
		)),
		grpc.StreamInterceptor(server.RecoveryStreamInterceptor(logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.Server.GRPC.KeepaliveTime,
			Timeout: cfg.Server.GRPC.KeepaliveTimeout,
		}),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.GRPC.MaxConcurrentStreams)),
	)
	server.RegisterDungeonServiceServer(grpcServer, server.NewDungeonServer(svc))

	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTP.Address,
		Handler:           server.NewRouter(svc, cfg.Server.HTTP.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.HTTP.Address))
		if httpErr := httpServer.ListenAndServe(); httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(httpErr))
		}
	}()

	logger.Info("dungeon server initialized",
		zap.String("version", version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("http_address", cfg.Server.HTTP.Address),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	// Streams end once their subscribers are dropped.
	hub.Detach()
	grpcServer.GracefulStop()

	logger.Info("dungeon server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
