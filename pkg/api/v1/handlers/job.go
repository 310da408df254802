package handlers

import (
	"encoding/json"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/services"
	"github.com/wasmforge/wasmforge/internal/types"
)

// JobHandler handles HTTP requests for job operations
type JobHandler struct {
	jobService *services.JobService
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(s *services.JobService) *JobHandler {
	return &JobHandler{jobService: s}
}

// CompileRequest is the compile submission body.
type CompileRequest struct {
	ProjectID string             `json:"project_id"`
	Files     []types.SourceFile `json:"files"`
}

// DeployRequest is the deploy submission body.
type DeployRequest struct {
	ProjectID  string          `json:"project_id"`
	WasmBase64 string          `json:"wasm_base64"`
	Network    string          `json:"network"`
	WalletInfo json.RawMessage `json:"wallet_info"`
}

// SubmitResponse acknowledges an accepted job. Logs carries the seed entries
// already recorded at submission time.
type SubmitResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Logs   models.LogTail   `json:"logs"`
}

// Compile handles the request to enqueue a compile job. Accepted work is
// acknowledged with 202; the build itself runs on a worker.
func (h *JobHandler) Compile(c *fiber.Ctx) error {
	var req CompileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(Err(ErrMsgInvalidReqBody))
	}

	job, err := h.jobService.SubmitCompile(c.Context(), currentUser(c), services.CompileRequest{
		ProjectID: req.ProjectID,
		Files:     req.Files,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(Success(SubmitResponse{
		JobID:  job.ID,
		Status: job.Status,
		Logs:   job.Logs,
	}))
}

// Deploy handles the request to enqueue a deploy job.
func (h *JobHandler) Deploy(c *fiber.Ctx) error {
	var req DeployRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(Err(ErrMsgInvalidReqBody))
	}

	var network types.Network
	if req.Network != "" {
		var err error
		network, err = types.ParseNetwork(req.Network)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(Err(ErrMsgInvalidNetwork))
		}
	}

	job, err := h.jobService.SubmitDeploy(c.Context(), currentUser(c), services.DeployRequest{
		ProjectID:  req.ProjectID,
		WasmBase64: req.WasmBase64,
		Network:    network,
		WalletInfo: req.WalletInfo,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(Success(SubmitResponse{
		JobID:  job.ID,
		Status: job.Status,
		Logs:   job.Logs,
	}))
}

// GetJob handles the request to get a job
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(Err(ErrMsgJobIDRequired))
	}

	job, err := h.jobService.GetJob(c.Context(), currentUser(c), jobID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(Success(job))
}

// ListJobs handles the request to list the caller's jobs
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	filter := repos.JobFilter{
		ProjectID: c.Query("project_id"),
		Limit:     c.QueryInt("limit"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status, err := models.ParseJobStatus(statusStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(Err(ErrMsgInvalidStatus))
		}
		filter.Status = status
	}
	if typeStr := c.Query("type"); typeStr != "" {
		jobType, err := models.ParseJobType(typeStr)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(Err(ErrMsgInvalidJobType))
		}
		filter.Type = jobType
	}

	jobs, err := h.jobService.ListJobs(c.Context(), currentUser(c), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(Success(jobs))
}
