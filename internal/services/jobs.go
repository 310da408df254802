// Package services contains the business logic between the API handlers and
// the repositories. The job service owns the enqueue path: ownership check,
// quota gate, durable job record, broker handoff.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wasmforge/wasmforge/internal/config"
	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/hub"
	"github.com/wasmforge/wasmforge/internal/logger"
	"github.com/wasmforge/wasmforge/internal/queue"
	"github.com/wasmforge/wasmforge/internal/quota"
	"github.com/wasmforge/wasmforge/internal/types"
)

// Validation errors surfaced to the API as bad requests.
var (
	// ErrNoSourceFiles means a compile request carried an empty file set
	ErrNoSourceFiles = errors.New("no source files provided")
	// ErrNoWasm means a deploy request carried no artifact
	ErrNoWasm = errors.New("no wasm payload provided")
	// ErrBrokerUnavailable means the queue rejected the enqueue
	ErrBrokerUnavailable = errors.New("job broker unavailable")
)

// CompileRequest is a validated compile submission.
type CompileRequest struct {
	ProjectID string
	Files     []types.SourceFile
}

// DeployRequest is a validated deploy submission.
type DeployRequest struct {
	ProjectID  string
	WasmBase64 string
	Network    types.Network
	WalletInfo []byte
}

// Broker hands payloads to the job queue. *queue.Adapter satisfies it.
type Broker interface {
	Enqueue(ctx context.Context, queue, handle string, payload interface{}) (string, error)
}

var _ Broker = (*queue.Adapter)(nil)

// LiveFeed pushes events to subscribers already connected when a job is
// submitted. *hub.Hub satisfies it; nil disables the feed (worker, CLI).
type LiveFeed interface {
	EmitLog(ctx context.Context, jobID string, record models.LogRecord)
}

var _ LiveFeed = (*hub.Hub)(nil)

// JobService accepts job submissions and exposes job state.
type JobService struct {
	jobs     *repos.JobRepository
	projects *repos.ProjectRepository
	gate     *quota.Gate
	broker   Broker
	feed     LiveFeed
}

// NewJobService creates a new instance of JobService.
func NewJobService(jobs *repos.JobRepository, projects *repos.ProjectRepository,
	gate *quota.Gate, broker Broker, feed LiveFeed) *JobService {
	return &JobService{
		jobs:     jobs,
		projects: projects,
		gate:     gate,
		broker:   broker,
		feed:     feed,
	}
}

// SubmitCompile validates the request, admits it through the quota gate and
// enqueues a compile job. The returned job is already persisted as queued.
func (s *JobService) SubmitCompile(ctx context.Context, user *models.User, req CompileRequest) (*models.Job, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoSourceFiles
	}
	project, err := s.projects.GetOwned(ctx, user.ID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Admit(ctx, user, quota.ActionCompile); err != nil {
		return nil, err
	}

	job := s.newJob(models.JobTypeCompile, user.ID, project.ID, "Compile job queued")
	payload := types.CompilePayload{
		ProjectID: project.ID,
		Files:     req.Files,
		JobID:     job.ID,
		UserID:    user.ID,
	}
	return s.persistAndEnqueue(ctx, job, queue.QueueCompile, payload)
}

// SubmitDeploy validates the request, admits it through the quota gate and
// enqueues a deploy job. Quota is checked here but the deploy counter only
// moves when the job reaches terminal success.
func (s *JobService) SubmitDeploy(ctx context.Context, user *models.User, req DeployRequest) (*models.Job, error) {
	if strings.TrimSpace(req.WasmBase64) == "" {
		return nil, ErrNoWasm
	}
	project, err := s.projects.GetOwned(ctx, user.ID, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Admit(ctx, user, quota.ActionDeploy); err != nil {
		return nil, err
	}

	network := req.Network
	if network == "" {
		network = defaultNetwork()
	}

	job := s.newJob(models.JobTypeDeploy, user.ID, project.ID,
		fmt.Sprintf("Deploy job queued for %s", network))
	payload := types.DeployPayload{
		ProjectID:  project.ID,
		WasmBase64: req.WasmBase64,
		Network:    network,
		JobID:      job.ID,
		UserID:     user.ID,
		WalletInfo: req.WalletInfo,
	}
	return s.persistAndEnqueue(ctx, job, queue.QueueDeploy, payload)
}

// GetJob returns a job visible to the user. Jobs owned by someone else are
// rejected as not owned.
func (s *JobService) GetJob(ctx context.Context, user *models.User, id string) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != user.ID {
		return nil, fmt.Errorf("%w: job %s", repos.ErrNotOwned, id)
	}
	return job, nil
}

// defaultNetwork reads the configured deploy network, falling back to
// testnet when the value is unset or malformed.
func defaultNetwork() types.Network {
	network, err := types.ParseNetwork(config.Network())
	if err != nil {
		return types.NetworkTestnet
	}
	return network
}

// ListJobs returns the user's jobs, newest first.
func (s *JobService) ListJobs(ctx context.Context, user *models.User, filter repos.JobFilter) ([]models.Job, error) {
	return s.jobs.List(ctx, user.ID, filter)
}

// newJob builds a queued job record with its seed log entry. The broker
// handle is deterministic so a duplicate insert is detectable.
func (s *JobService) newJob(jobType models.JobType, ownerID uint, projectID, seedLog string) *models.Job {
	id := uuid.New().String()
	return &models.Job{
		ID:           id,
		Type:         jobType,
		Status:       models.JobStatusQueued,
		OwnerID:      ownerID,
		ProjectID:    projectID,
		BrokerHandle: fmt.Sprintf("%s-%s", jobType, id),
		Logs:         models.LogTail{models.NewLogRecord(models.LogKindInfo, seedLog)},
		LogsCount:    1,
	}
}

// persistAndEnqueue writes the job record, then hands the payload to the
// broker. A broker failure rolls the record back so the caller sees no job.
func (s *JobService) persistAndEnqueue(ctx context.Context, job *models.Job, queueName string, payload interface{}) (*models.Job, error) {
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if _, err := s.broker.Enqueue(ctx, queueName, job.BrokerHandle, payload); err != nil {
		if delErr := s.jobs.Delete(ctx, job.ID); delErr != nil {
			logger.Errorf("job %s: rollback after enqueue failure failed: %v", job.ID, delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	// Subscribers already in the job's room see the seed entries live
	// instead of waiting for the worker's first emit.
	if s.feed != nil {
		for _, record := range job.Logs {
			s.feed.EmitLog(ctx, job.ID, record)
		}
	}

	logger.InfoWithFields("job enqueued", map[string]interface{}{
		"job_id":     job.ID,
		"type":       job.Type,
		"project_id": job.ProjectID,
		"owner_id":   job.OwnerID,
	})
	return job, nil
}
