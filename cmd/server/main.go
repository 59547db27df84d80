package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/podushkina/sarflow/internal/api"
	"github.com/podushkina/sarflow/internal/archive"
	"github.com/podushkina/sarflow/internal/catalog"
	"github.com/podushkina/sarflow/internal/config"
	"github.com/podushkina/sarflow/internal/download"
	"github.com/podushkina/sarflow/internal/events"
	"github.com/podushkina/sarflow/internal/log"
	"github.com/podushkina/sarflow/internal/orchestrator"
	"github.com/podushkina/sarflow/internal/processing"
)

func main() {
	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)
	logger := log.GetLogger()

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	catalogClient, err := catalog.NewClient(cfg.CatalogURL, cfg.CatalogToken, nil)
	if err != nil {
		logger.Fatalf("Failed to create catalog client: %v", err)
	}

	store, err := openArchive(cfg)
	if err != nil {
		logger.Fatalf("Failed to open archive: %v", err)
	}
	if store != nil {
		defer store.Close()
		logger.Infof("Archiving finished tasks to %s", cfg.ArchiveBackend)
	}

	broker := events.NewBroker(256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := orchestrator.New(orchestrator.Options{
		Searcher: catalog.NewSearcher(catalogClient),
		Downloader: download.New(
			download.WithTimeout(cfg.DownloadTimeout),
			download.WithMaxRedirects(cfg.MaxRedirects),
			download.WithBearer(cfg.CatalogToken, cfg.DownloadAuthHost),
		),
		Engine:            processing.NewSimulated(cfg.StageDelay),
		Archive:           store,
		Events:            broker,
		Logger:            logger,
		DownloadDir:       cfg.DownloadDir,
		Workers:           cfg.WorkerCount,
		QueueSize:         cfg.QueueSize,
		MaxCompletedTasks: cfg.MaxCompletedTasks,
	})
	if err != nil {
		logger.Fatalf("Failed to create orchestrator: %v", err)
	}

	var forwarders sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		fwd := events.NewKafkaForwarder(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer fwd.Close()
		sub := orch.Subscribe("")
		forwarders.Add(1)
		go func() {
			defer forwarders.Done()
			fwd.Run(ctx, sub)
		}()
	}
	orch.Run()

	handler := api.NewHandler(orch)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}

	// running tasks end as cancelled; the broker closes after their final
	// events so the forwarder drains them before exiting
	orch.Stop()
	forwarders.Wait()
	cancel()
	logger.Info("Server stopped")
}

func openArchive(cfg *config.Config) (archive.Archive, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveRedis:
		return archive.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.ArchiveTTL)
	case config.ArchiveDynamo:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return archive.NewDynamo(ctx, cfg.AWSRegion, cfg.DynamoTable, cfg.DynamoEndpoint, cfg.ArchiveTTL)
	}
	log.GetLogger().Debug("Archive disabled")
	return nil, nil
}
