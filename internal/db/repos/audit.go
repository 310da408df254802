package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

// AuditRepository handles database operations for audit entries
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new instance of AuditRepository
func NewAuditRepository(gdb *gorm.DB) *AuditRepository {
	return &AuditRepository{db: gdb}
}

// Append records a post-terminal audit entry for a job.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByJob returns the audit entries for a job, oldest first.
func (r *AuditRepository) ListByJob(ctx context.Context, jobID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).
		Order("created_at ASC").Find(&entries).Error
	return entries, err
}
