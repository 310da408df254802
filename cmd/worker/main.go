package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wasmforge/wasmforge/internal/bus"
	"github.com/wasmforge/wasmforge/internal/compiler"
	"github.com/wasmforge/wasmforge/internal/config"
	"github.com/wasmforge/wasmforge/internal/db"
	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/deployer"
	"github.com/wasmforge/wasmforge/internal/logger"
	"github.com/wasmforge/wasmforge/internal/queue"
	"github.com/wasmforge/wasmforge/internal/worker"
)

func main() {
	_ = godotenv.Load()
	logger.Initialize()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("worker draining")
		cancel()
	}()

	gdb, err := db.New(db.Options{})
	if err != nil {
		logger.Fatalf("failed to open job store: %v", err)
	}

	broker := config.BrokerFromEnv()
	queueAdapter, err := queue.New(ctx, queue.Config{Broker: broker})
	if err != nil {
		logger.Fatalf("failed to connect to broker: %v", err)
	}
	defer queueAdapter.Close()

	eventBus, err := bus.New(ctx, broker)
	if err != nil {
		logger.Fatalf("failed to connect to bus: %v", err)
	}
	defer eventBus.Close()

	w := worker.New(
		repos.NewJobRepository(gdb),
		repos.NewUserRepository(gdb),
		repos.NewAuditRepository(gdb),
		eventBus,
		compiler.NewRunner(),
		deployer.NewRunner(),
	)

	workerType := config.GetEnv(config.EnvWorkerType, queue.QueueCompile)
	switch workerType {
	case queue.QueueCompile:
		w.RecoverStale(ctx, models.JobTypeCompile)
		concurrency := config.GetEnvInt(config.EnvCompileConcurrency, config.DefaultConcurrency)
		logger.Infof("compile worker starting with concurrency %d", concurrency)
		err = queueAdapter.Consume(ctx, queue.QueueCompile, w.HandleCompile, concurrency)
	case queue.QueueDeploy:
		w.RecoverStale(ctx, models.JobTypeDeploy)
		concurrency := config.GetEnvInt(config.EnvDeployConcurrency, config.DefaultConcurrency)
		logger.Infof("deploy worker starting with concurrency %d", concurrency)
		err = queueAdapter.Consume(ctx, queue.QueueDeploy, w.HandleDeploy, concurrency)
	default:
		logger.Fatalf("unknown %s value: %s", config.EnvWorkerType, workerType)
	}

	if err != nil && err != context.Canceled {
		logger.Fatalf("worker stopped: %v", err)
	}
	logger.Info("worker stopped")
}
