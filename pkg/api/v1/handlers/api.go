// Package handlers provides HTTP request handling
package handlers

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/quota"
	"github.com/wasmforge/wasmforge/internal/services"
)

// Slug values returned in every response body.
const (
	SuccessSlug = "success"
	ErrorSlug   = "error"
)

// Response is the common response envelope.
type Response struct {
	Slug  string      `json:"slug"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Success wraps data in a success response.
func Success(data interface{}) Response {
	return Response{Slug: SuccessSlug, Data: data}
}

// Err wraps a message in an error response.
func Err(msg string) Response {
	return Response{Slug: ErrorSlug, Error: msg}
}

// respondError maps a service or repository error to its HTTP status.
func respondError(c *fiber.Ctx, err error) error {
	var quotaErr *quota.ExceededError
	switch {
	case errors.Is(err, services.ErrNoSourceFiles),
		errors.Is(err, services.ErrNoWasm):
		return c.Status(fiber.StatusBadRequest).JSON(Err(err.Error()))
	case errors.As(err, &quotaErr):
		// The counter state rides along so clients can render usage.
		return c.Status(fiber.StatusForbidden).JSON(Response{
			Slug:  ErrorSlug,
			Error: "QuotaExceeded",
			Data: fiber.Map{
				"action":  quotaErr.Action,
				"current": quotaErr.Current,
				"limit":   quotaErr.Limit,
			},
		})
	case errors.Is(err, repos.ErrNotOwned):
		return c.Status(fiber.StatusForbidden).JSON(Err(err.Error()))
	case errors.Is(err, repos.ErrProjectNotFound),
		errors.Is(err, repos.ErrJobNotFound):
		return c.Status(fiber.StatusNotFound).JSON(Err(err.Error()))
	case errors.Is(err, services.ErrBrokerUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(Err(err.Error()))
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(Err(err.Error()))
	}
}
