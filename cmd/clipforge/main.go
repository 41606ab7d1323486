package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/clipforge/internal/api"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/core"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/provider"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/store"
	"github.com/clipforge/clipforge/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] invalid config: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("[main] failed to open database: %v", err)
	}
	defer st.Close()

	assetStore, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("[main] failed to init storage: %v", err)
	}

	var tracker core.Tracker = tracking.NopTracker{}
	var httpTracker *tracking.HTTPTracker
	if cfg.Tracking.Endpoint != "" {
		httpTracker = tracking.NewHTTPTracker(cfg.Tracking)
		tracker = httpTracker
	}

	client := provider.NewHTTPClient(cfg.Provider)
	m := metrics.New()

	scheduler := core.NewScheduler(client, assetStore, st, tracker, m, cfg)
	scheduler.Start()

	recovered, err := st.RecoverInFlight()
	if err != nil {
		log.Printf("[main] job recovery failed: %v", err)
	} else if len(recovered) > 0 {
		log.Printf("[main] re-queuing %d jobs from previous run", len(recovered))
		scheduler.Dispatcher.SubmitBatch(recovered)
	}

	router, err := api.NewRouter(scheduler, st, assetStore, m)
	if err != nil {
		log.Fatalf("[main] failed to build router: %v", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("[main] listening on :%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("[main] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[main] server shutdown: %v", err)
	}

	scheduler.Stop()
	if httpTracker != nil {
		httpTracker.Stop()
	}
}
