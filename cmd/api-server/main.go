package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/medlink/clinic-core/internal/api"
	"github.com/medlink/clinic-core/internal/config"
	"github.com/medlink/clinic-core/internal/consent"
	"github.com/medlink/clinic-core/internal/db"
	"github.com/medlink/clinic-core/internal/otp"
	"github.com/medlink/clinic-core/internal/principal"
	"github.com/medlink/clinic-core/internal/queue"
	redisclient "github.com/medlink/clinic-core/internal/redis"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	sender := otp.LogSender{}

	principals := principal.NewService(principal.NewPgRepository(pgPool), sender, cfg.OTPTTL)
	tokens := queue.NewService(queue.NewPgRepository(pgPool), cfg.BookRetries)

	locker := redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL)
	consents := consent.NewService(
		consent.NewPgRepository(pgPool),
		locker,
		sender,
		principals,
		cfg.OTPTTL,
		cfg.AccessTTL,
	)

	router := api.NewRouter(api.RouterConfig{
		Tokens:   tokens,
		Consents: consents,
		Auth:     principals,
		PgPool:   pgPool,
		Redis:    rdb,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
