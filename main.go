package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Scrimzay/rtsworld/internal/actions"
	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/journal"
	"github.com/Scrimzay/rtsworld/internal/realtime"
	"github.com/Scrimzay/rtsworld/internal/server"
	"github.com/Scrimzay/rtsworld/internal/store"
	"github.com/Scrimzay/rtsworld/internal/tick"
	"github.com/Scrimzay/rtsworld/internal/types"
	"github.com/Scrimzay/rtsworld/internal/world"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory for the database and journal (overrides config)")
	flag.Parse()

	log.Println("=== STARTING RTS WORLD ===")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Config failed: ", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataDir != "" {
		cfg.Store.Path = filepath.Join(*dataDir, "rtsworld.db")
		cfg.Journal.Dir = filepath.Join(*dataDir, "journal")
	}
	if cfg.Trigger.Secret == "" {
		log.Println("No trigger secret set; tick and admin endpoints are locked")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		log.Fatal("Data dir failed: ", err)
	}
	log.Printf("Opening store at %s...", cfg.Store.Path)
	st, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatal("Store failed: ", err)
	}
	defer st.Close()

	pipeline := &world.Pipeline{
		Production: world.NewProduction(cfg.Economy),
		Combat:     world.NewCombat(cfg.Combat),
	}
	scheduler := tick.NewScheduler(st, pipeline, cfg.Tick, nil)

	// Start broadcaster in background
	log.Println("Starting broadcaster...")
	broadcaster := realtime.NewBroadcaster(cfg.Realtime.PublishBuffer, cfg.Realtime.ClientBuffer, nil)
	go broadcaster.Run(ctx)
	scheduler.SetPublisher(broadcaster)

	if j := journal.New(cfg.Journal); j != nil {
		log.Printf("Journal writing to %s", cfg.Journal.Dir)
		scheduler.SetRecorder(j)
		defer func() {
			if err := j.Close(); err != nil {
				log.Printf("journal close: %v", err)
			}
		}()
	}

	svc := actions.NewService(st, cfg, nil)
	bootstrap(ctx, st, svc, cfg.Worlds.Bootstrap)

	runner := tick.NewRunner(scheduler, st, cfg.Tick.Concurrency, nil)
	go runner.Run(ctx, cfg.Tick.Interval)

	r := server.SetupRouter(server.Deps{
		Store:       st,
		Actions:     svc,
		Scheduler:   scheduler,
		Runner:      runner,
		Broadcaster: broadcaster,
		Config:      cfg,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Server starting at %s", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server failed: ", err)
	}
}

// bootstrap creates and activates the configured worlds that do not exist yet.
func bootstrap(ctx context.Context, st store.Store, svc *actions.Service, ids []string) {
	for _, id := range ids {
		w, err := st.World(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			w, err = svc.CreateWorld(ctx, id)
		}
		if err != nil {
			log.Printf("bootstrap world %s: %v", id, err)
			continue
		}
		if w.Status == types.WorldPending {
			if _, err := svc.ActivateWorld(ctx, id); err != nil {
				log.Printf("bootstrap world %s: %v", id, err)
				continue
			}
		}
		log.Printf("World %s ready", id)
	}
}
