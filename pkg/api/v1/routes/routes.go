// Package routes defines the API routes and URL structure
package routes

import (
	fiber "github.com/gofiber/fiber/v2"

	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/pkg/api/v1/handlers"
)

// API base configuration
const (
	// DefaultPort is the default port for the API
	DefaultPort = "8080"
	// APIv1Prefix is the prefix for all API endpoints
	APIv1Prefix = "/api/v1"
)

// Route names for lookup
const (
	// Health check
	HealthCheck = "HealthCheck"

	// Job routes
	SubmitCompile = "SubmitCompile"
	SubmitDeploy  = "SubmitDeploy"
	GetJob        = "GetJob"
	ListJobs      = "ListJobs"

	// Socket route
	JobSocket = "JobSocket"
)

// RegisterRoutes configures all the v1 routes.
//
// NOTE: route ordering matters: fiber matches in registration order, so
// param routes (/:id) are registered after their literal siblings.
func RegisterRoutes(
	app *fiber.App,
	users *repos.UserRepository,
	jobHandler *handlers.JobHandler,
	socketHandler *handlers.SocketHandler,
) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}).Name(HealthCheck)

	// Log stream socket. Job visibility is enforced at subscribe time by
	// job id possession; the socket itself is unauthenticated.
	app.Use("/ws", socketHandler.UpgradeRequired)
	app.Get("/ws", socketHandler.Serve()).Name(JobSocket)

	// API v1 routes
	v1 := app.Group(APIv1Prefix, handlers.RequireAuth(users))

	jobs := v1.Group("/jobs")
	jobs.Get("/", jobHandler.ListJobs).Name(ListJobs)
	jobs.Get("/:id", jobHandler.GetJob).Name(GetJob)

	v1.Post("/compile", jobHandler.Compile).Name(SubmitCompile)
	v1.Post("/deploy", jobHandler.Deploy).Name(SubmitDeploy)
}
