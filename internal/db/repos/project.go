package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

// ErrProjectNotFound is returned when no project matches the lookup.
var ErrProjectNotFound = errors.New("project not found")

// ErrNotOwned is returned when a record exists but belongs to another user.
var ErrNotOwned = errors.New("not owned by caller")

// ProjectRepository handles database operations for projects
type ProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a new instance of ProjectRepository
func NewProjectRepository(gdb *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: gdb}
}

// Create creates a new project in the database
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(project).Error
}

// Get retrieves a project by id
func (r *ProjectRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetOwned retrieves a project by id, enforcing owner match.
func (r *ProjectRepository) GetOwned(ctx context.Context, ownerID uint, id string) (*models.Project, error) {
	project, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: project %s", ErrNotOwned, id)
	}
	return project, nil
}
