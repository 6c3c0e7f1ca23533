package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/couchsync/server/internal/controller"
	"github.com/couchsync/server/internal/proxy"
	connInmemory "github.com/couchsync/server/internal/repository/connection/inmemory"
	sourceRedis "github.com/couchsync/server/internal/repository/mediasource/redis"
	roomInmemory "github.com/couchsync/server/internal/repository/room/inmemory"
	"github.com/couchsync/server/internal/resolver"
	"github.com/couchsync/server/internal/service/room"
	"github.com/couchsync/server/pkg/ctxlogger"
	"github.com/couchsync/server/pkg/redisclient"
)

type AppConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	LogLevel        string        `json:"log_level"`
	RedisHost       string        `json:"redis_host"`
	RedisPort       int           `json:"redis_port"`
	RedisPassword   string        `json:"-"`
	ResolverTimeout time.Duration `json:"resolver_timeout"`
	SourceCacheTTL  time.Duration `json:"source_cache_ttl"`
	RoomGracePeriod time.Duration `json:"room_grace_period"`
	ProxyTimeout    time.Duration `json:"proxy_timeout"`
	ChunkStaleAfter time.Duration `json:"chunk_stale_after"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.RoomGracePeriod < time.Second {
		return fmt.Errorf("room grace period must be at least a second")
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		log.Fatal(err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	logger := slog.New(&h)

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	sourceCache := sourceRedis.NewRepo(rc, cfg.SourceCacheTTL)
	chunkCache := proxy.NewCache(cfg.ChunkStaleAfter)

	// a deleted room takes its caches with it
	roomRepo := roomInmemory.NewRepo(cfg.RoomGracePeriod, func(roomId string) {
		chunkCache.DropRoom(roomId)
		if err := sourceCache.DropRoom(context.Background(), roomId); err != nil {
			logger.Warn("failed to drop room media sources", "room_id", roomId, "error", err)
		}
	})
	connectionRepo := connInmemory.NewRepo()

	ytdlp := resolver.NewYtdlpResolver(cfg.ResolverTimeout, logger)
	roomService := room.NewService(roomRepo, connectionRepo, sourceCache, ytdlp, chunkCache, logger)
	proxyHandler := proxy.NewHandler(chunkCache, roomRepo, cfg.ProxyTimeout, logger)
	controller := controller.NewController(roomService, proxyHandler, logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: controller.GetMux()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
