package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/medlink/clinic-core/internal/config"
	"github.com/medlink/clinic-core/internal/consent"
	"github.com/medlink/clinic-core/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running expiry worker in env=%s interval=%s", cfg.Env, cfg.WorkerInterval)

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

	repo := consent.NewPgRepository(pgPool)

	// Run once at startup
	runOnce(rootCtx, repo)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Println("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo)
		}
	}
}

// runOnce rewrites stored grant statuses whose windows have lapsed.
// Reads never trust the stored status, so this sweep only keeps
// reporting tidy.
func runOnce(ctx context.Context, repo consent.Repository) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := repo.ExpireStale(runCtx, time.Now())
	if err != nil {
		log.Printf("expiry run error: %v", err)
		return
	}
	log.Printf("expiry run complete: %d grants expired in %s", n, time.Since(start))
}
