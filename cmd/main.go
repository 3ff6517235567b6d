package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cropdoctor/internal/blobstore"
	"cropdoctor/internal/media"
	"cropdoctor/internal/mlclient"
	"cropdoctor/internal/models"
	"cropdoctor/internal/notify"
	"cropdoctor/internal/queue"
	"cropdoctor/internal/server"
	"cropdoctor/internal/storage"
	"cropdoctor/internal/worker"
)

func main() {
	cfg, err := models.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	db, err := storage.NewStorage(cfg.DatabaseURL, cfg.ConfidenceThreshold, logger)
	if err != nil {
		logger.Fatal("Failed to init storage", zap.Error(err))
	}
	defer db.Close()

	producer := queue.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic, logger)
	consumer := queue.NewConsumer(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroupID, logger)

	var notifier notify.Notifier
	if cfg.MockWhatsApp {
		notifier = notify.NewMockNotifier(logger)
	} else {
		notifier = notify.NewWhatsAppClient(cfg.WhatsAppAPIURL, cfg.WhatsAppToken, cfg.WhatsAppPhoneNumberID, logger)
	}

	mediaClient := media.NewClient(cfg.WhatsAppAPIURL, cfg.WhatsAppToken)
	blobs := blobstore.NewLocalStore(cfg.StoragePath, cfg.PublicBaseURL)
	ml := mlclient.NewClient(cfg.MLServiceURL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool := worker.NewPool(consumer, producer, ml, db, notifier, cfg.WorkerConcurrency, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		pool.Run(ctx)
	}()
	logger.Info("Worker pool started", zap.Int("concurrency", cfg.WorkerConcurrency))

	srv := server.NewServer(cfg, db, producer, notifier, mediaClient, blobs, ml, logger)
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.ServerAddr))
		if err := srv.Start(); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Workers stop fetching on cancel but finish in-flight jobs first.
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for in-flight jobs")
	}

	if err := producer.Close(); err != nil {
		logger.Error("Producer close error", zap.Error(err))
	}
	if err := consumer.Close(); err != nil {
		logger.Error("Consumer close error", zap.Error(err))
	}
	logger.Info("Stopped")
}
