package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"whiteboardgo/internal/config"
	"whiteboardgo/internal/database/db_client"
	"whiteboardgo/internal/http/http_server"
	"whiteboardgo/internal/redis/redis_client"
	"whiteboardgo/internal/services/chat"
	"whiteboardgo/internal/services/directory"
	"whiteboardgo/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis (membership verdict cache)
	redisClient, err := redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	// 4. Postgres (room directory + chat history)
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 5. Collaborator services
	directorySvc := directory.NewDirectoryService(pgDb, redisClient,
		time.Duration(cfg.MemberCacheTTL)*time.Second)
	chatSvc := chat.NewChatService(pgDb)

	// 6. Session core: registry, document store, broadcast hub, router
	wsSrv := ws.NewWsServer(directorySvc, chatSvc)

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(cfg.HttpServerPort, wsSrv, directorySvc, chatSvc)

	go func() {
		<-ctx.Done()
		Log.Info("Shutting down")
		if err := httpServer.Dispose(); err != nil {
			Log.Error("Failed to dispose HTTP server", zap.Error(err))
		}
	}()

	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	Log.Info("Server exited")
}
