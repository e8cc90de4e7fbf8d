package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"hub-activity-backend/config"
	"hub-activity-backend/internal/activity"
	"hub-activity-backend/internal/api"
	"hub-activity-backend/internal/db"
	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/pool"
	"hub-activity-backend/internal/sampler"
	"hub-activity-backend/internal/stats"
	"hub-activity-backend/internal/store"
	"hub-activity-backend/internal/tenant"
	"hub-activity-backend/internal/volumes"
)

func main() {
	logger := log.New(os.Stdout, "activityd ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The monitor keeps serving without its store; every storage operation
	// then reports its failure value.
	var samples store.SampleStore
	if cfg.Activity.Enabled {
		activityDB, err := db.InitActivity(cfg.Activity.DatabasePath)
		if err != nil {
			logger.Printf("activity store unavailable: %v", err)
		} else {
			samples = store.NewGormSampleStore(activityDB)
		}
	}
	monitor := activity.NewMonitor(samples, cfg.Activity)

	hubAPI := tenant.NewHubAPI(cfg.Hub)
	var directory tenant.Directory = hubAPI
	var state tenant.StateStore = tenant.NewMemoryState()
	if cfg.Database.DSN != "" {
		primary, err := db.Init(&cfg.Database)
		if err != nil {
			logger.Fatalf("failed to initialize database: %v", err)
		}
		logger.Println("primary datastore initialized successfully")
		hubDB := tenant.NewHubDB(primary)
		state = hubDB
		if cfg.Hub.Directory == "db" {
			directory = hubDB
		}
		defer closeDB(logger, primary)
	} else if cfg.Hub.Directory == "db" {
		logger.Fatalf("hub directory \"db\" requires database.dsn")
	} else {
		logger.Println("no primary datastore configured, extension state is kept in memory")
	}

	dockerClient, err := docker.NewClient(ctx, cfg.Docker.Host)
	if err != nil {
		logger.Fatalf("failed to create docker client: %v", err)
	}
	defer dockerClient.Close()
	naming := docker.Naming{Prefix: cfg.Docker.NamePrefix}

	workers := pool.New(cfg.WorkerPool.Size, cfg.Docker.CallTimeout())
	workers.Start(ctx)

	statsFetcher := stats.NewFetcher(dockerClient, workers, naming, time.Duration(cfg.Docker.StatsCacheSeconds)*time.Second)

	volumeCache := volumes.New(dockerClient, workers, naming, cfg.Volumes.Interval())
	volumeCache.Start(ctx)
	defer volumeCache.Stop()

	activitySampler := sampler.New(directory, monitor, cfg.Activity)
	if cfg.Activity.Enabled {
		activitySampler.Start(ctx)
		defer activitySampler.Stop()
	} else {
		logger.Println("activity sampling disabled")
	}

	handler := api.NewHandler(api.Deps{
		Monitor:   monitor,
		Sampler:   activitySampler,
		Directory: directory,
		State:     state,
		Orch:      dockerClient,
		Pool:      workers,
		Stats:     statsFetcher,
		Volumes:   volumeCache,
		Naming:    naming,
		Session:   cfg.Session,
		Suffixes:  cfg.Volumes.Suffixes,
	})
	router := api.NewRouter(handler, hubAPI, cfg)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

func closeDB(logger *log.Logger, g *gorm.DB) {
	sqlDB, err := g.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Printf("failed to close database: %v", err)
	}
}
