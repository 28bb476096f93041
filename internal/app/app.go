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

	"github.com/jonboulle/clockwork"

	"github.com/couchsync/couchsync/internal/controller"
	"github.com/couchsync/couchsync/internal/repository/connection/inmemory"
	"github.com/couchsync/couchsync/internal/repository/room/redis"
	"github.com/couchsync/couchsync/internal/service/room"
	"github.com/couchsync/couchsync/internal/wssender"
	"github.com/couchsync/couchsync/pkg/ctxlogger"
	"github.com/couchsync/couchsync/pkg/protocol"
	"github.com/couchsync/couchsync/pkg/redisclient"
)

type AppConfig struct {
	Secret        string        `json:"-"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	LogLevel      string        `json:"log_level"`
	MembersLimit  int           `json:"members_limit"`
	GracePeriod   time.Duration `json:"grace_period"`
	RoomTTL       time.Duration `json:"room_ttl"`
	ShareBaseURL  string        `json:"share_base_url"`
	RedisHost     string        `json:"redis_host"`
	RedisPort     int           `json:"redis_port"`
	RedisPassword string        `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Secret == "" {
		return fmt.Errorf("secret must be set")
	}
	if cfg.MembersLimit < 1 {
		return fmt.Errorf("members limit must be greater than 0")
	}
	if cfg.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be greater than 0")
	}
	if cfg.RoomTTL <= 0 {
		return fmt.Errorf("room ttl must be greater than 0")
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

	clock := clockwork.NewRealClock()

	roomRepo := redis.NewRepo(rc, cfg.RoomTTL)
	connectionRepo := inmemory.NewRepo()
	sender := wssender.New()
	roomService := room.NewService(roomRepo, connectionRepo, sender, clock, logger, &room.Config{
		Secret:       cfg.Secret,
		ShareBaseURL: cfg.ShareBaseURL,
		MembersLimit: cfg.MembersLimit,
		RoomExp:      cfg.RoomTTL,
		GracePeriod:  cfg.GracePeriod,
		RateLimits: map[string]int{
			protocol.EventHostTimeSync: 5,
			protocol.EventReaction:     5,
			protocol.EventChatMessage:  5,
		},
		DefaultRateLimit: 10,
	})
	controller := controller.NewController(roomService, sender, clock, logger)
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
