// Package client provides the API client for interacting with the build and
// deploy service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/pkg/api/v1/handlers"
	"github.com/wasmforge/wasmforge/pkg/api/v1/routes"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string
	// AuthToken is the bearer token sent on every request
	AuthToken string
	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: fmt.Sprintf("http://localhost:%s", routes.DefaultPort),
		Timeout: DefaultTimeout,
	}
}

// APIClient talks to the HTTP API.
type APIClient struct {
	baseURL   string
	authToken string
	timeout   time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (*APIClient, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &APIClient{
		baseURL:   opts.BaseURL,
		authToken: opts.AuthToken,
		timeout:   timeout,
	}, nil
}

// do performs one request and decodes the response envelope into out.
func (c *APIClient) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case fiber.MethodGet:
		agent = fiber.Get(fullURL)
	case fiber.MethodPost:
		agent = fiber.Post(fullURL)
	default:
		return fmt.Errorf("unsupported method: %s", method)
	}

	agent.Timeout(c.timeout)
	if c.authToken != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.authToken)
	}
	if body != nil {
		agent.JSON(body)
	}
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	}

	code, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("request failed: %v", errs[0])
	}

	var envelope handlers.Response
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("malformed response (status %d): %w", code, err)
	}
	if envelope.Slug != handlers.SuccessSlug {
		return fmt.Errorf("API error (status %d): %s", code, envelope.Error)
	}
	if out == nil {
		return nil
	}

	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// HealthCheck checks the API server health endpoint.
func (c *APIClient) HealthCheck(ctx context.Context) error {
	agent := fiber.Get(c.baseURL + "/health")
	agent.Timeout(c.timeout)
	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("health check failed: %v", errs[0])
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("health check returned status %d", code)
	}
	return nil
}

// SubmitCompile enqueues a compile job.
func (c *APIClient) SubmitCompile(ctx context.Context, req handlers.CompileRequest) (*handlers.SubmitResponse, error) {
	var resp handlers.SubmitResponse
	err := c.do(ctx, fiber.MethodPost, routes.APIv1Prefix+"/compile", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitDeploy enqueues a deploy job.
func (c *APIClient) SubmitDeploy(ctx context.Context, req handlers.DeployRequest) (*handlers.SubmitResponse, error) {
	var resp handlers.SubmitResponse
	err := c.do(ctx, fiber.MethodPost, routes.APIv1Prefix+"/deploy", req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob fetches one job by id.
func (c *APIClient) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := c.do(ctx, fiber.MethodGet, routes.APIv1Prefix+"/jobs/"+url.PathEscape(id), nil, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs fetches the caller's jobs, optionally filtered by query values.
func (c *APIClient) ListJobs(ctx context.Context, query url.Values) ([]models.Job, error) {
	endpoint := routes.APIv1Prefix + "/jobs"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var jobs []models.Job
	err := c.do(ctx, fiber.MethodGet, endpoint, nil, &jobs)
	return jobs, err
}
