package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/wasmforge/wasmforge/internal/bus"
	"github.com/wasmforge/wasmforge/internal/config"
	"github.com/wasmforge/wasmforge/internal/db"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/hub"
	"github.com/wasmforge/wasmforge/internal/logger"
	"github.com/wasmforge/wasmforge/internal/queue"
	"github.com/wasmforge/wasmforge/internal/quota"
	"github.com/wasmforge/wasmforge/internal/services"
	"github.com/wasmforge/wasmforge/pkg/api/v1/handlers"
	"github.com/wasmforge/wasmforge/pkg/api/v1/routes"
)

func main() {
	_ = godotenv.Load()
	logger.Initialize()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	jobRepo := repos.NewJobRepository(gdb)
	userRepo := repos.NewUserRepository(gdb)
	projectRepo := repos.NewProjectRepository(gdb)

	socketHub := hub.New(jobRepo, eventBus)
	if err := socketHub.Start(ctx); err != nil {
		logger.Fatalf("failed to start socket hub: %v", err)
	}

	jobService := services.NewJobService(jobRepo, projectRepo, quota.NewGate(userRepo), queueAdapter, socketHub)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		// Source trees and base64 artifacts arrive in the request body.
		BodyLimit: 16 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.CORSOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	routes.RegisterRoutes(app,
		userRepo,
		handlers.NewJobHandler(jobService),
		handlers.NewSocketHandler(socketHub),
	)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down API server")
		cancel()
		_ = app.Shutdown()
	}()

	port := config.GetEnv(config.EnvAPIPort, config.DefaultAPIPort)
	logger.Infof("API server listening on :%s", port)
	if err := app.Listen(":" + port); err != nil {
		logger.Fatalf("server stopped: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(handlers.Err(err.Error()))
}
