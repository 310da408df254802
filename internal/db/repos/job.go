// Package repos handles database operations for the core models.
package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/wasmforge/wasmforge/internal/db"
	"github.com/wasmforge/wasmforge/internal/db/models"
)

// Sentinel errors for job store operations.
var (
	// ErrJobNotFound is returned when no job exists for the given id
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when the broker handle already exists
	ErrDuplicateJob = errors.New("duplicate job")
)

// JobFilter narrows List results.
type JobFilter struct {
	ProjectID string
	Status    models.JobStatus
	Type      models.JobType
	Limit     int
}

// JobRepository handles database operations for jobs. Terminal writes are
// write-once: the first Complete or Fail wins and later calls return the
// recorded outcome. This is the idempotency anchor that makes at-least-once
// dispatch safe.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new instance of JobRepository
func NewJobRepository(gdb *gorm.DB) *JobRepository {
	return &JobRepository{db: gdb}
}

// Create inserts a new queued job. Returns ErrDuplicateJob when the broker
// handle is already taken.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.Logs == nil {
		job.Logs = models.LogTail{}
	}
	err := r.db.WithContext(ctx).Create(job).Error
	if err != nil && db.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: broker handle %s", ErrDuplicateJob, job.BrokerHandle)
	}
	return err
}

// Get retrieves a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List retrieves jobs for an owner, newest first, honoring the filter.
func (r *JobRepository) List(ctx context.Context, ownerID uint, filter JobFilter) ([]models.Job, error) {
	if err := models.ValidateOwnerID(ownerID); err != nil {
		return nil, fmt.Errorf("invalid owner_id: %w", err)
	}

	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var jobs []models.Job
	err := query.Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// MarkActive transitions a queued job to active. Idempotent when the job is
// already active; a no-op when the job is already terminal.
func (r *JobRepository) MarkActive(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", id, models.JobStatusQueued).
		Update(models.JobStatusField, models.JobStatusActive)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already active, terminal, or missing. Missing is the caller's
		// problem; the other two are fine.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// AppendLogs replaces the persisted log tail with the last LogTailLimit
// records of the emitted stream. The count only moves forward, so a stale
// writer can never shrink the tail.
func (r *JobRepository) AppendLogs(ctx context.Context, id string, logs models.LogTail, count int) error {
	tail := logs.Truncate(models.LogTailLimit)
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND logs_count <= ?", id, count).
		Updates(map[string]interface{}{
			models.JobLogsField: tail,
			"logs_count":        count,
		})
	return result.Error
}

// Complete marks a job completed with its result. Write-once: when the job is
// already terminal the stored record is returned unchanged.
func (r *JobRepository) Complete(ctx context.Context, id string, jobResult json.RawMessage, logs models.LogTail) (*models.Job, error) {
	return r.finish(ctx, id, map[string]interface{}{
		models.JobStatusField: models.JobStatusCompleted,
		"result":              jobResult,
		"error":               "",
		models.JobLogsField:   logs.Truncate(models.LogTailLimit),
		"logs_count":          len(logs),
	})
}

// Fail marks a job failed with a human-readable error and the captured log
// tail. Write-once, same as Complete.
func (r *JobRepository) Fail(ctx context.Context, id string, errMsg string, logs models.LogTail) (*models.Job, error) {
	return r.finish(ctx, id, map[string]interface{}{
		models.JobStatusField: models.JobStatusFailed,
		"error":               errMsg,
		models.JobLogsField:   logs.Truncate(models.LogTailLimit),
		"logs_count":          len(logs),
	})
}

func (r *JobRepository) finish(ctx context.Context, id string, updates map[string]interface{}) (*models.Job, error) {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status NOT IN ?", id, []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	// RowsAffected == 0 means the job is already terminal (or missing); in
	// both cases Get reports the recorded outcome.
	return r.Get(ctx, id)
}

// Delete removes a job row. Used to compensate when the broker rejects the
// enqueue that the row was created for.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Job{}).Error
}

// ListStaleActive returns active jobs, used by the worker boot recovery scan.
func (r *JobRepository) ListStaleActive(ctx context.Context, jobType models.JobType, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND type = ?", models.JobStatusActive, jobType).
		Order("updated_at ASC").Limit(limit).Find(&jobs).Error
	return jobs, err
}
