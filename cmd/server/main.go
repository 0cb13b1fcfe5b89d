package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lendloop/realtime/internal/api"
	"github.com/lendloop/realtime/internal/auth"
	"github.com/lendloop/realtime/internal/cluster"
	"github.com/lendloop/realtime/internal/config"
	"github.com/lendloop/realtime/internal/database"
	"github.com/lendloop/realtime/internal/lobby"
	"github.com/lendloop/realtime/internal/logging"
	"github.com/lendloop/realtime/internal/presence"
	"github.com/lendloop/realtime/internal/server"
	"github.com/lendloop/realtime/internal/stats"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	// a missing .env is fine outside local development
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("config:", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalln("logger:", err)
	}
	defer logger.Sync()

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("db close", zap.Error(err))
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, logger)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := server.Options{
		IdleTimeout:    cfg.ConversationIdleTimeout,
		AllowedOrigins: cfg.AllowedOrigins,
	}

	var bridge *cluster.Bridge
	if cfg.RedisURL != "" {
		rdb, err := cluster.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer rdb.Close()

		bridge = cluster.NewBridge(rdb, logger, cluster.DefaultChannel)
		opts.Relay = bridge
		logger.Info("cluster relay enabled", zap.String("node_id", bridge.NodeId()))
	}

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, presence.NewRegistry[*server.Client](), opts)
	if err != nil {
		logger.Fatal("new chat server", zap.Error(err))
	}
	go chatServer.Run()

	if bridge != nil {
		go func() {
			if err := bridge.Run(ctx, chatServer.DeliverEncoded); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("cluster relay stopped", zap.Error(err))
			}
		}()
	}

	lobbyHub := lobby.NewHub(logger, statsUpdater, cfg.AllowedOrigins)
	go lobbyHub.Run()

	srv := api.NewApp(mux, logger, chatServer, lobbyHub, dbConn, auth.NewJWTVerifier(cfg.SigningKey), cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server", zap.Error(err))
	}

	shutDownCtx, shutDownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutDownCancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}

	logger.Info("shutting down lobby")
	if err := lobbyHub.Shutdown(shutDownCtx); err != nil {
		logger.Error("lobby shutdown", zap.Error(err))
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Error("chat server shutdown", zap.Error(err))
	}

	cancel()
	logger.Info("shutdown complete")
}
